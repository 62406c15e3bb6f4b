// Package workflow owns per-session meeting state: the upload → transcript →
// summary → chat-refine progression and the guards around it.
package workflow

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"meetsum/internal/apperr"
	"meetsum/internal/models"
	"meetsum/internal/summarize"
)

type State string

const (
	StateAwaitingMedia      State = "awaiting_media"
	StateTranscribing       State = "transcribing"
	StateAwaitingTranscript State = "awaiting_transcript"
	StateSummarizing        State = "summarizing"
	StateShowingSummary     State = "showing_summary"
)

type RefineState string

const (
	RefineIdle             RefineState = "idle"
	RefineAwaitingResponse RefineState = "awaiting_response"
)

// Session is one meeting being worked on. Fields change only through the
// transition methods below, each of which holds mu for its whole body.
type Session struct {
	mu sync.Mutex

	id             string
	state          State
	refine         RefineState
	busy           bool
	holds          int
	resumeState    State
	mediaName      string
	transcriptName string
	transcript     string
	summary        *models.SummaryResult
	messages       []models.ChatMessage
	lastError      string
	createdAt      time.Time
	updatedAt      time.Time
}

// Snapshot is a copy of a session safe to hand to callers and encode.
type Snapshot struct {
	ID             string                `json:"id"`
	State          State                 `json:"state"`
	RefineState    RefineState           `json:"refine_state"`
	Busy           bool                  `json:"busy"`
	MediaFile      string                `json:"media_file,omitempty"`
	TranscriptFile string                `json:"transcript_file,omitempty"`
	Transcript     string                `json:"transcript"`
	Summary        *models.SummaryResult `json:"summary"`
	Messages       []models.ChatMessage  `json:"messages"`
	LastError      string                `json:"last_error,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		id:        id,
		state:     StateAwaitingMedia,
		refine:    RefineIdle,
		messages:  []models.ChatMessage{},
		createdAt: now,
		updatedAt: now,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:             s.id,
		State:          s.state,
		RefineState:    s.refine,
		Busy:           s.busy,
		MediaFile:      s.mediaName,
		TranscriptFile: s.transcriptName,
		Transcript:     s.transcript,
		Messages:       append([]models.ChatMessage{}, s.messages...),
		LastError:      s.lastError,
		CreatedAt:      s.createdAt,
		UpdatedAt:      s.updatedAt,
	}
	if s.summary != nil {
		sum := s.summary.Clone()
		snap.Summary = &sum
	}
	return snap
}

// idleSince reports the last update and whether a call owns the session,
// counting the gap between taking its lock and the first transition.
func (s *Session) idleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt, s.busy || s.holds > 0
}

func (s *Session) hold() {
	s.mu.Lock()
	s.holds++
	s.mu.Unlock()
}

func (s *Session) unhold() {
	s.mu.Lock()
	s.holds--
	s.mu.Unlock()
}

func (s *Session) touch() {
	s.updatedAt = time.Now()
}

func (s *Session) checkIdle(action string, allowed ...State) error {
	if s.busy {
		return apperr.ErrBusy
	}
	for _, st := range allowed {
		if s.state == st {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot %s while %s", apperr.ErrInvalidTransition, action, s.state)
}

func (s *Session) expect(action string, want State) error {
	if s.state != want || !s.busy {
		return fmt.Errorf("%w: cannot %s while %s", apperr.ErrInvalidTransition, action, s.state)
	}
	return nil
}

// replaceTranscript installs a new active transcript. Anything derived from the
// old one is dropped with it.
func (s *Session) replaceTranscript(text string) {
	s.transcript = text
	s.summary = nil
	s.messages = []models.ChatMessage{}
	s.refine = RefineIdle
}

// BeginTranscription marks a media upload as being transcribed.
func (s *Session) BeginTranscription(fileName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIdle("transcribe", StateAwaitingMedia, StateAwaitingTranscript, StateShowingSummary); err != nil {
		return err
	}
	s.resumeState = s.state
	s.state = StateTranscribing
	s.busy = true
	s.mediaName = fileName
	s.lastError = ""
	s.touch()
	return nil
}

func (s *Session) CompleteTranscription(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect("complete transcription", StateTranscribing); err != nil {
		return err
	}
	s.replaceTranscript(text)
	s.transcriptName = ""
	s.state = StateAwaitingTranscript
	s.busy = false
	s.touch()
	return nil
}

// FailTranscription returns to where the session was before the upload; a
// transcript held from earlier stays active.
func (s *Session) FailTranscription(cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect("fail transcription", StateTranscribing); err != nil {
		return err
	}
	s.state = s.resumeState
	s.mediaName = ""
	s.busy = false
	if cause != nil {
		s.lastError = cause.Error()
	}
	s.touch()
	return nil
}

// SupplyTranscript skips transcription with text the user already has.
func (s *Session) SupplyTranscript(fileName, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIdle("supply a transcript", StateAwaitingMedia, StateAwaitingTranscript, StateShowingSummary); err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: transcript is empty", apperr.ErrInvalidInput)
	}
	s.replaceTranscript(text)
	s.mediaName = ""
	s.transcriptName = fileName
	s.state = StateAwaitingTranscript
	s.lastError = ""
	s.touch()
	return nil
}

// BeginSummary moves to summarizing and hands back the transcript to send.
func (s *Session) BeginSummary() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIdle("summarize", StateAwaitingTranscript, StateShowingSummary); err != nil {
		return "", err
	}
	if strings.TrimSpace(s.transcript) == "" {
		return "", fmt.Errorf("%w: no transcript to summarize", apperr.ErrInvalidTransition)
	}
	s.state = StateSummarizing
	s.busy = true
	s.lastError = ""
	s.touch()
	return s.transcript, nil
}

// CompleteSummary always lands in showing_summary and clears the working file
// references so another upload can start. The transcript stays for chat-refine.
func (s *Session) CompleteSummary(result *models.SummaryResult, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect("complete summary", StateSummarizing); err != nil {
		return err
	}
	if cause != nil {
		s.lastError = cause.Error()
	} else if result != nil {
		sum := result.Clone()
		sum.Normalize()
		s.summary = &sum
	}
	s.state = StateShowingSummary
	s.mediaName = ""
	s.transcriptName = ""
	s.busy = false
	s.touch()
	return nil
}

// BeginRefine records the user's instruction and returns the transcript it
// applies to.
func (s *Session) BeginRefine(instruction string) (string, models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIdle("refine", StateShowingSummary); err != nil {
		return "", models.ChatMessage{}, err
	}
	if strings.TrimSpace(s.transcript) == "" {
		return "", models.ChatMessage{}, fmt.Errorf("%w: no transcript to refine", apperr.ErrInvalidTransition)
	}
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return "", models.ChatMessage{}, fmt.Errorf("%w: instruction is required", apperr.ErrInvalidInput)
	}
	msg := models.ChatMessage{Role: models.RoleUser, Content: instruction, CreatedAt: time.Now()}
	s.messages = append(s.messages, msg)
	s.refine = RefineAwaitingResponse
	s.busy = true
	s.lastError = ""
	s.touch()
	return s.transcript, msg, nil
}

// CompleteRefine appends the assistant turn. The raw reply is kept whether or
// not it parsed; the summary is only replaced by a parsed reply. A failed call
// becomes a visible "Error: ..." turn.
func (s *Session) CompleteRefine(reply summarize.Reply, cause error) (models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refine != RefineAwaitingResponse || !s.busy {
		return models.ChatMessage{}, fmt.Errorf("%w: no refinement in progress", apperr.ErrInvalidTransition)
	}
	msg := models.ChatMessage{Role: models.RoleAssistant, CreatedAt: time.Now()}
	if cause != nil {
		msg.Content = "Error: " + cause.Error()
		s.lastError = cause.Error()
	} else {
		msg.Content = reply.Raw
		if reply.Parsed != nil {
			sum := reply.Parsed.Clone()
			sum.Normalize()
			s.summary = &sum
		}
	}
	s.messages = append(s.messages, msg)
	s.refine = RefineIdle
	s.busy = false
	s.touch()
	return msg, nil
}
