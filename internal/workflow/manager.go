package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"meetsum/internal/apperr"
	"meetsum/internal/audit"
	"meetsum/internal/models"
	"meetsum/internal/summarize"
	"meetsum/internal/transcribe"
)

const (
	DefaultCallTimeout = 2 * time.Minute
	DefaultSessionTTL  = time.Hour
	lockSlack          = 30 * time.Second
)

// Config wires the adapters and limits a Manager runs with. Zero values fall
// back to in-memory locking, no audit log and the default durations.
type Config struct {
	Transcriber transcribe.Transcriber
	Summarizer  summarize.Summarizer
	Locker      Locker
	Recorder    *audit.Recorder
	CallTimeout time.Duration
	SessionTTL  time.Duration
	Logger      *slog.Logger
}

// Manager holds live sessions and runs every adapter call on their behalf.
type Manager struct {
	transcriber transcribe.Transcriber
	summarizer  summarize.Summarizer
	locker      Locker
	recorder    *audit.Recorder
	timeout     time.Duration
	ttl         time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Transcriber == nil {
		return nil, errors.New("transcriber is required")
	}
	if cfg.Summarizer == nil {
		return nil, errors.New("summarizer is required")
	}
	if cfg.Locker == nil {
		cfg.Locker = NewMemoryLocker()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		transcriber: cfg.Transcriber,
		summarizer:  cfg.Summarizer,
		locker:      cfg.Locker,
		recorder:    cfg.Recorder,
		timeout:     cfg.CallTimeout,
		ttl:         cfg.SessionTTL,
		logger:      cfg.Logger.With("component", "workflow.Manager"),
		sessions:    make(map[string]*Session),
	}, nil
}

func (m *Manager) TranscriberName() string { return m.transcriber.Name() }
func (m *Manager) SummarizerName() string  { return m.summarizer.Name() }

// TranscribeFile runs the configured transcriber with the call timeout applied.
func (m *Manager) TranscribeFile(ctx context.Context, file *models.UploadedFile) (string, error) {
	if file == nil {
		return "", fmt.Errorf("%w: no media file", apperr.ErrInvalidInput)
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := m.recorder.Track(models.JobTranscribe, m.transcriber.Name(), file.Name, file.Size)
	text, err := m.transcriber.Transcribe(ctx, file)
	err = timeoutErr(ctx, apperr.ErrTranscriptionFailed, err)
	done(err)
	return text, err
}

// SummarizeText runs the configured summarizer with the call timeout applied.
func (m *Manager) SummarizeText(ctx context.Context, req summarize.Request) (summarize.Reply, error) {
	return m.summarize(ctx, models.JobSummarize, req)
}

func (m *Manager) summarize(ctx context.Context, kind models.JobKind, req summarize.Request) (summarize.Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := m.recorder.Track(kind, m.summarizer.Name(), "", int64(len(req.Text)))
	reply, err := m.summarizer.Summarize(ctx, req)
	err = timeoutErr(ctx, apperr.ErrSummarizationFailed, err)
	done(err)
	return reply, err
}

// timeoutErr makes sure a call cut off by our own deadline reports ErrTimeout
// even when the adapter returned something less specific.
func timeoutErr(ctx context.Context, kind error, err error) error {
	if err == nil || errors.Is(err, apperr.ErrTimeout) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w: %v", kind, apperr.ErrTimeout, err)
	}
	return err
}

// Create starts an empty session awaiting media.
func (m *Manager) Create() Snapshot {
	s := newSession(uuid.NewString(), time.Now())
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	m.logger.Debug("session created", "session", s.id)
	return s.Snapshot()
}

func (m *Manager) session(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", apperr.ErrNotFound, id)
	}
	return s, nil
}

func (m *Manager) Get(id string) (Snapshot, error) {
	s, err := m.session(id)
	if err != nil {
		return Snapshot{}, err
	}
	return s.Snapshot(), nil
}

// Delete drops a session. A session with a call in flight cannot be dropped.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: session %s", apperr.ErrNotFound, id)
	}
	if _, busy := s.idleSince(); busy {
		return apperr.ErrBusy
	}
	delete(m.sessions, id)
	return nil
}

// Len reports how many sessions are live.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// guard resolves the session and takes its in-flight lock. The session is
// held from then on so Delete and Expire leave it alone until release.
func (m *Manager) guard(ctx context.Context, id string) (*Session, func(), error) {
	if _, err := m.session(id); err != nil {
		return nil, nil, err
	}
	release, err := m.locker.Acquire(ctx, id, m.timeout+lockSlack)
	if err != nil {
		return nil, nil, err
	}
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		s.hold()
	}
	m.mu.Unlock()
	if !ok {
		release()
		return nil, nil, fmt.Errorf("%w: session %s", apperr.ErrNotFound, id)
	}
	var once sync.Once
	return s, func() {
		once.Do(func() {
			s.unhold()
			release()
		})
	}, nil
}

// Transcribe sends an uploaded media file through the transcriber and makes the
// result the session's active transcript.
func (m *Manager) Transcribe(ctx context.Context, id string, file *models.UploadedFile) (Snapshot, error) {
	if file == nil {
		return Snapshot{}, fmt.Errorf("%w: no media file", apperr.ErrInvalidInput)
	}
	s, release, err := m.guard(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	defer release()

	if err := s.BeginTranscription(file.Name); err != nil {
		return Snapshot{}, err
	}
	text, callErr := m.TranscribeFile(ctx, file)
	if callErr != nil {
		if err := s.FailTranscription(callErr); err != nil {
			m.logger.Error("fail transcription transition", "session", id, "err", err)
		}
		return s.Snapshot(), callErr
	}
	if err := s.CompleteTranscription(text); err != nil {
		return s.Snapshot(), err
	}
	return s.Snapshot(), nil
}

// SupplyTranscript installs transcript text the user already has.
func (m *Manager) SupplyTranscript(ctx context.Context, id, fileName, text string) (Snapshot, error) {
	s, release, err := m.guard(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	defer release()
	if err := s.SupplyTranscript(fileName, text); err != nil {
		return Snapshot{}, err
	}
	return s.Snapshot(), nil
}

// Summarize produces a summary of the session's transcript. The session ends up
// showing_summary whether or not the call succeeded.
func (m *Manager) Summarize(ctx context.Context, id string) (Snapshot, error) {
	s, release, err := m.guard(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	defer release()

	transcript, err := s.BeginSummary()
	if err != nil {
		return Snapshot{}, err
	}
	reply, callErr := m.summarize(ctx, models.JobSummarize, summarize.Request{Text: transcript})
	var result *models.SummaryResult
	if callErr == nil {
		r := reply.Result()
		result = &r
	}
	if err := s.CompleteSummary(result, callErr); err != nil {
		return s.Snapshot(), err
	}
	return s.Snapshot(), callErr
}

// Refinement is a chat-refine turn that has been accepted but not yet run.
type Refinement struct {
	m           *Manager
	s           *Session
	release     func()
	transcript  string
	instruction string
	UserMessage models.ChatMessage
}

// StartRefine validates and records an instruction. The caller must Run the
// returned refinement; the session stays busy until it does.
func (m *Manager) StartRefine(ctx context.Context, id, instruction string) (*Refinement, error) {
	s, release, err := m.guard(ctx, id)
	if err != nil {
		return nil, err
	}
	transcript, msg, err := s.BeginRefine(instruction)
	if err != nil {
		release()
		return nil, err
	}
	return &Refinement{m: m, s: s, release: release, transcript: transcript, instruction: msg.Content, UserMessage: msg}, nil
}

// Run calls the summarizer with the instruction and transcript, streaming
// deltas to onDelta when set. The assistant turn is appended either way; the
// returned error is the call's own failure.
func (r *Refinement) Run(ctx context.Context, onDelta func(string) error) (models.ChatMessage, Snapshot, error) {
	defer r.release()
	reply, callErr := r.m.summarize(ctx, models.JobRefine, summarize.Request{
		Text:        r.transcript,
		Instruction: r.instruction,
		OnDelta:     onDelta,
	})
	msg, err := r.s.CompleteRefine(reply, callErr)
	if err != nil {
		return models.ChatMessage{}, r.s.Snapshot(), err
	}
	return msg, r.s.Snapshot(), callErr
}

// Expire drops sessions idle for longer than the TTL and reports how many went.
func (m *Manager) Expire(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		updated, busy := s.idleSince()
		if busy || now.Sub(updated) < m.ttl {
			continue
		}
		delete(m.sessions, id)
		removed++
	}
	return removed
}

// StartJanitor expires idle sessions every interval until ctx is done.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = m.ttl / 4
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := m.Expire(now); n > 0 {
					m.logger.Info("expired idle sessions", "count", n, "live", m.Len())
				}
			}
		}
	}()
}
