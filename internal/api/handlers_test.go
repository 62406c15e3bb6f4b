package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"meetsum/internal/apperr"
	"meetsum/internal/audit"
	"meetsum/internal/config"
	"meetsum/internal/models"
	"meetsum/internal/storage"
	"meetsum/internal/summarize"
	"meetsum/internal/upload"
	"meetsum/internal/workflow"
)

const meeting = "We will ship Friday. Alice owns QA. Bob will review the doc. No further comments."

type mockTranscriber struct {
	text string
	err  error
	seen []string
}

func (m *mockTranscriber) Name() string { return "mock-stt" }

func (m *mockTranscriber) Transcribe(ctx context.Context, file *models.UploadedFile) (string, error) {
	m.seen = append(m.seen, file.Path)
	if _, err := os.Stat(file.Path); err != nil {
		return "", err
	}
	return m.text, m.err
}

// mockSummarizer answers from a queue and falls back to the local digest.
type mockSummarizer struct {
	replies []string
	err     error
}

func (m *mockSummarizer) Name() string { return "mock-llm" }

func (m *mockSummarizer) Summarize(ctx context.Context, req summarize.Request) (summarize.Reply, error) {
	if strings.TrimSpace(req.Text) == "" {
		return summarize.Reply{}, summarize.ErrMissingText
	}
	if m.err != nil {
		return summarize.Reply{}, m.err
	}
	if len(m.replies) == 0 {
		return summarize.NewLocal().Summarize(ctx, req)
	}
	raw := m.replies[0]
	m.replies = m.replies[1:]
	if req.OnDelta != nil {
		for _, part := range strings.SplitAfter(raw, " ") {
			if err := req.OnDelta(part); err != nil {
				return summarize.Reply{}, err
			}
		}
	}
	return summarize.Reply{Raw: raw, Parsed: summarize.ParseReply(raw)}, nil
}

type testServer struct {
	router *gin.Engine
	relay  *upload.Relay
	stt    *mockTranscriber
	llm    *mockSummarizer
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := storage.Open("sqlite3", &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	recorder, err := audit.NewRecorder(db, nil)
	if err != nil {
		t.Fatalf("recorder: %v", err)
	}

	relay, err := upload.NewRelay(t.TempDir(), 1<<20, nil)
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	stt := &mockTranscriber{text: meeting}
	llm := &mockSummarizer{}
	manager, err := workflow.NewManager(workflow.Config{Transcriber: stt, Summarizer: llm, Recorder: recorder})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	handler := NewHandler(manager, relay, recorder, opts)
	return &testServer{router: handler.Router(), relay: relay, stt: stt, llm: llm}
}

func (s *testServer) assertNoUploadsLeft(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(s.relay.BaseDir())
	if err != nil {
		t.Fatalf("read upload dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no temp uploads, found %d", len(entries))
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, Options{})
	rec := doJSONRequest(t, srv.router, http.MethodGet, "/health", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	if strings.TrimSpace(rec.Body.String()) != `{"ok":true}` {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestTranscribeMissingFile(t *testing.T) {
	srv := newTestServer(t, Options{})
	for _, rec := range []*httptest.ResponseRecorder{
		doMultipart(t, srv.router, "/api/transcribe", "other", "notes.txt", "text/plain", []byte("hi")),
		doJSONRequest(t, srv.router, http.MethodPost, "/api/transcribe", map[string]string{}, nil),
	} {
		assertStatus(t, rec, http.StatusBadRequest)
		var body map[string]string
		decodeJSON(t, rec.Body.Bytes(), &body)
		if body["error"] != "No transcript file provided" {
			t.Fatalf("unexpected error %q", body["error"])
		}
	}
}

func TestTranscribeTextAndMedia(t *testing.T) {
	srv := newTestServer(t, Options{})

	rec := doMultipart(t, srv.router, "/api/transcribe", "file", "notes.txt", "text/plain", []byte("Line one.\nLine two.\n"))
	assertStatus(t, rec, http.StatusOK)
	var body struct {
		Text string `json:"text"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.Text != "Line one.\nLine two." {
		t.Fatalf("unexpected transcript %q", body.Text)
	}
	if len(srv.stt.seen) != 0 {
		t.Fatalf("text upload should not reach the transcriber")
	}

	rec = doMultipart(t, srv.router, "/api/transcribe", "file", "call.mp3", "audio/mpeg", []byte("ID3fake"))
	assertStatus(t, rec, http.StatusOK)
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.Text != meeting || len(srv.stt.seen) != 1 {
		t.Fatalf("media upload should be transcribed, got %q", body.Text)
	}
	srv.assertNoUploadsLeft(t)
}

func TestTranscribeFailureRemovesUpload(t *testing.T) {
	srv := newTestServer(t, Options{})
	srv.stt.err = apperr.Wrap(apperr.ErrTranscriptionFailed, errors.New("exit status 1"))

	rec := doMultipart(t, srv.router, "/api/transcribe", "file", "call.wav", "audio/wav", []byte("RIFF"))
	assertStatus(t, rec, http.StatusInternalServerError)
	srv.assertNoUploadsLeft(t)

	rec = doMultipart(t, srv.router, "/api/transcribe", "file", "slides.pdf", "application/pdf", []byte("%PDF-1.4"))
	assertStatus(t, rec, http.StatusUnsupportedMediaType)
	srv.assertNoUploadsLeft(t)
}

func TestSummarizeEndpoint(t *testing.T) {
	srv := newTestServer(t, Options{})

	for _, payload := range []interface{}{map[string]string{"text": "   "}, map[string]string{}, "not an object"} {
		rec := doJSONRequest(t, srv.router, http.MethodPost, "/api/summarize", payload, nil)
		assertStatus(t, rec, http.StatusBadRequest)
		var body map[string]string
		decodeJSON(t, rec.Body.Bytes(), &body)
		if body["error"] != "Missing text" {
			t.Fatalf("unexpected error %q", body["error"])
		}
	}

	rec := doJSONRequest(t, srv.router, http.MethodPost, "/api/summarize", map[string]string{"text": meeting}, nil)
	assertStatus(t, rec, http.StatusOK)
	if got := strings.TrimSpace(rec.Body.String()); got != `{"content":{"summary":"We will ship Friday. Alice owns QA. Bob will review the doc.","keyDecisions":[],"actionItems":[]}}` {
		t.Fatalf("unexpected body %s", got)
	}

	srv.llm.replies = []string{"The model ignored the JSON format."}
	rec = doJSONRequest(t, srv.router, http.MethodPost, "/api/summarize", map[string]string{"text": meeting}, nil)
	assertStatus(t, rec, http.StatusOK)
	var body struct {
		Content models.SummaryResult `json:"content"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.Content.Summary != "The model ignored the JSON format." || body.Content.ActionItems == nil {
		t.Fatalf("raw text should become the summary: %+v", body.Content)
	}

	srv.llm.err = apperr.Wrap(apperr.ErrSummarizationFailed, errors.New("bad gateway"))
	rec = doJSONRequest(t, srv.router, http.MethodPost, "/api/summarize", map[string]string{"text": meeting}, nil)
	assertStatus(t, rec, http.StatusInternalServerError)
}

func TestSessionWorkflowEndToEnd(t *testing.T) {
	srv := newTestServer(t, Options{})

	rec := doJSONRequest(t, srv.router, http.MethodPost, "/api/sessions", nil, nil)
	assertStatus(t, rec, http.StatusCreated)
	var created struct {
		Session workflow.Snapshot `json:"session"`
	}
	decodeJSON(t, rec.Body.Bytes(), &created)
	id := created.Session.ID
	if id == "" || created.Session.State != workflow.StateAwaitingMedia {
		t.Fatalf("unexpected session %+v", created.Session)
	}
	base := "/api/sessions/" + id

	rec = doJSONRequest(t, srv.router, http.MethodPost, base+"/summarize", nil, nil)
	assertStatus(t, rec, http.StatusConflict)

	rec = doMultipart(t, srv.router, base+"/media", "file", "standup.m4a", "audio/mp4", []byte("fake"))
	assertStatus(t, rec, http.StatusOK)
	var got struct {
		Session workflow.Snapshot `json:"session"`
	}
	decodeJSON(t, rec.Body.Bytes(), &got)
	if got.Session.State != workflow.StateAwaitingTranscript || got.Session.Transcript != meeting {
		t.Fatalf("unexpected session after media %+v", got.Session)
	}
	srv.assertNoUploadsLeft(t)

	srv.llm.replies = []string{
		`{"summary":"Ship Friday.","keyDecisions":["Ship Friday"],"actionItems":[{"task":"QA","owner":"Alice"}]}`,
		`{"summary":"Alice owns QA.","keyDecisions":[],"actionItems":[]}`,
	}
	rec = doJSONRequest(t, srv.router, http.MethodPost, base+"/summarize", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	decodeJSON(t, rec.Body.Bytes(), &got)
	if got.Session.State != workflow.StateShowingSummary || got.Session.Summary == nil || got.Session.Summary.Summary != "Ship Friday." {
		t.Fatalf("unexpected session after summary %+v", got.Session)
	}

	rec = doJSONRequest(t, srv.router, http.MethodPost, base+"/chat", map[string]string{"instruction": "who owns QA?"}, nil)
	assertStatus(t, rec, http.StatusOK)
	events := parseSSE(rec.Body.String())
	if len(events) < 3 || events[0].Name != "ack" || events[len(events)-1].Name != "done" {
		t.Fatalf("unexpected events %+v", events)
	}
	var streamed strings.Builder
	for _, evt := range events[1 : len(events)-1] {
		if evt.Name != "stream" {
			t.Fatalf("unexpected event %+v", evt)
		}
		var chunk struct {
			Content string `json:"content"`
		}
		decodeJSON(t, []byte(evt.Data), &chunk)
		streamed.WriteString(chunk.Content)
	}
	var done struct {
		Message models.ChatMessage `json:"message"`
		Session workflow.Snapshot  `json:"session"`
	}
	decodeJSON(t, []byte(events[len(events)-1].Data), &done)
	if done.Message.Content != streamed.String() || done.Session.Summary.Summary != "Alice owns QA." || len(done.Session.Messages) != 2 {
		t.Fatalf("unexpected done payload %+v", done)
	}

	srv.llm.err = errors.New("provider unreachable")
	rec = doJSONRequest(t, srv.router, http.MethodPost, base+"/chat", map[string]string{"instruction": "again"}, nil)
	events = parseSSE(rec.Body.String())
	if len(events) != 2 || events[1].Name != "error" {
		t.Fatalf("expected ack then error, got %+v", events)
	}
	rec = doJSONRequest(t, srv.router, http.MethodGet, base, nil, nil)
	assertStatus(t, rec, http.StatusOK)
	decodeJSON(t, rec.Body.Bytes(), &got)
	if len(got.Session.Messages) != 4 || !strings.HasPrefix(got.Session.Messages[3].Content, "Error: ") || got.Session.Busy {
		t.Fatalf("failed turn should be recorded: %+v", got.Session.Messages)
	}

	rec = doJSONRequest(t, srv.router, http.MethodGet, "/api/jobs?limit=10", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	var jobs struct {
		Jobs []models.Job `json:"jobs"`
	}
	decodeJSON(t, rec.Body.Bytes(), &jobs)
	if len(jobs.Jobs) != 4 || jobs.Jobs[0].Kind != models.JobRefine || jobs.Jobs[0].Status != models.JobStatusFailed {
		t.Fatalf("unexpected jobs %+v", jobs.Jobs)
	}
	if strings.Contains(rec.Body.String(), "Alice owns QA") {
		t.Fatalf("job log must not contain summary text")
	}

	rec = doJSONRequest(t, srv.router, http.MethodDelete, base, nil, nil)
	assertStatus(t, rec, http.StatusNoContent)
	rec = doJSONRequest(t, srv.router, http.MethodGet, base, nil, nil)
	assertStatus(t, rec, http.StatusNotFound)
}

func TestSessionTranscriptJSONAndUpload(t *testing.T) {
	srv := newTestServer(t, Options{})
	rec := doJSONRequest(t, srv.router, http.MethodPost, "/api/sessions", nil, nil)
	var created struct {
		Session workflow.Snapshot `json:"session"`
	}
	decodeJSON(t, rec.Body.Bytes(), &created)
	base := "/api/sessions/" + created.Session.ID

	rec = doJSONRequest(t, srv.router, http.MethodPost, base+"/transcript", map[string]string{"text": "  "}, nil)
	assertStatus(t, rec, http.StatusBadRequest)

	rec = doJSONRequest(t, srv.router, http.MethodPost, base+"/transcript", map[string]string{"text": "Pasted transcript."}, nil)
	assertStatus(t, rec, http.StatusOK)

	rec = doMultipart(t, srv.router, base+"/transcript", "file", "minutes.md", "text/markdown", []byte("# Minutes\nWe agreed."))
	assertStatus(t, rec, http.StatusOK)
	var got struct {
		Session workflow.Snapshot `json:"session"`
	}
	decodeJSON(t, rec.Body.Bytes(), &got)
	if got.Session.TranscriptFile != "minutes.md" || !strings.Contains(got.Session.Transcript, "We agreed.") {
		t.Fatalf("unexpected session %+v", got.Session)
	}
	srv.assertNoUploadsLeft(t)

	rec = doMultipart(t, srv.router, base+"/media", "file", "minutes.txt", "text/plain", []byte("not media"))
	assertStatus(t, rec, http.StatusUnsupportedMediaType)

	rec = doJSONRequest(t, srv.router, http.MethodPost, "/api/sessions/nope/transcript", map[string]string{"text": "x"}, nil)
	assertStatus(t, rec, http.StatusNotFound)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, Options{AllowedOrigins: []string{"http://localhost:5173"}})

	rec := doJSONRequest(t, srv.router, http.MethodOptions, "/api/summarize", nil, map[string]string{"Origin": "http://localhost:5173"})
	assertStatus(t, rec, http.StatusNoContent)
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Fatalf("missing allow-origin header")
	}

	rec = doJSONRequest(t, srv.router, http.MethodGet, "/health", nil, map[string]string{"Origin": "http://evil.example"})
	assertStatus(t, rec, http.StatusOK)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unknown origin should not be allowed")
	}
}

func TestSummarizeRateLimit(t *testing.T) {
	srv := newTestServer(t, Options{SummarizeRatePerMinute: 2})
	for i := 0; i < 2; i++ {
		rec := doJSONRequest(t, srv.router, http.MethodPost, "/api/summarize", map[string]string{"text": meeting}, nil)
		assertStatus(t, rec, http.StatusOK)
	}
	rec := doJSONRequest(t, srv.router, http.MethodPost, "/api/summarize", map[string]string{"text": meeting}, nil)
	assertStatus(t, rec, http.StatusTooManyRequests)

	rec = doJSONRequest(t, srv.router, http.MethodGet, "/api/jobs?limit=abc", nil, nil)
	assertStatus(t, rec, http.StatusBadRequest)
}

type sseEvent struct {
	Name string
	Data string
}

func parseSSE(payload string) []sseEvent {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}
	chunks := strings.Split(payload, "\n\n")
	var events []sseEvent
	for _, chunk := range chunks {
		lines := strings.Split(strings.TrimSpace(chunk), "\n")
		if len(lines) == 0 {
			continue
		}
		var evt sseEvent
		for _, line := range lines {
			switch {
			case strings.HasPrefix(line, "event:"):
				evt.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
				if evt.Data == "" {
					evt.Data = data
				} else {
					evt.Data += "\n" + data
				}
			}
		}
		events = append(events, evt)
	}
	return events
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func doMultipart(t *testing.T, router *gin.Engine, path, field, filename, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}
