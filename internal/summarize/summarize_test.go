package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"meetsum/internal/apperr"
	"meetsum/internal/config"
)

type fakeModel struct {
	chunks []string
	err    error
	calls  int
	last   []*schema.Message
}

func (f *fakeModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.calls++
	f.last = input
	if f.err != nil {
		return nil, f.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msgs := make([]*schema.Message, 0, len(f.chunks))
	for _, c := range f.chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

const meeting = "We will ship Friday. Alice owns QA. Bob will review the doc. No further comments."

func TestLocalFirstThreeSentences(t *testing.T) {
	reply, err := NewLocal().Summarize(context.Background(), Request{Text: meeting})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	got := reply.Result()
	if got.Summary != "We will ship Friday. Alice owns QA. Bob will review the doc." {
		t.Fatalf("unexpected summary %q", got.Summary)
	}
	if got.KeyDecisions == nil || len(got.KeyDecisions) != 0 || got.ActionItems == nil || len(got.ActionItems) != 0 {
		t.Fatalf("expected empty lists, got %+v", got)
	}

	again, _ := NewLocal().Summarize(context.Background(), Request{Text: meeting})
	if again.Raw != reply.Raw {
		t.Fatalf("local summary not deterministic")
	}
}

func TestFirstSentences(t *testing.T) {
	cases := map[string]string{
		"Hello world":             "Hello world.",
		"One! Two? Three. Four.":  "One. Two. Three.",
		"  ..  Only one here ?? ": "Only one here.",
		"...":                     "",
	}
	for in, want := range cases {
		if got := FirstSentences(in, 3); got != want {
			t.Fatalf("FirstSentences(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEmptyTextRejectedBeforeOutboundCall(t *testing.T) {
	fake := &fakeModel{chunks: []string{"{}"}}
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits++ }))
	defer srv.Close()

	summarizers := []Summarizer{
		NewLocal(),
		NewChat("fake", fake, 0, nil),
		NewHuggingFace(config.SummarizationConfig{BaseURL: srv.URL, APIKey: "k"}, srv.Client(), nil),
	}
	for _, s := range summarizers {
		for _, text := range []string{"", "   \n\t"} {
			if _, err := s.Summarize(context.Background(), Request{Text: text}); !errors.Is(err, apperr.ErrInvalidInput) {
				t.Fatalf("%s: expected invalid input, got %v", s.Name(), err)
			}
		}
	}
	if fake.calls != 0 || hits != 0 {
		t.Fatalf("outbound calls made: model=%d http=%d", fake.calls, hits)
	}
}

func TestChatParsesStructuredReply(t *testing.T) {
	fake := &fakeModel{chunks: []string{
		"```json\n{\"summary\": \"Ship on Friday.\", ",
		"\"keyDecisions\": [\"Ship Friday\"], \"actionItems\": [{\"task\": \"QA pass\", \"owner\": \"Alice\", \"deadline\": null}]}\n```",
	}}
	var streamed strings.Builder
	chat := NewChat("openai:test", fake, 500, nil)
	reply, err := chat.Summarize(context.Background(), Request{
		Text:        meeting,
		Instruction: "focus on owners",
		OnDelta: func(d string) error {
			streamed.WriteString(d)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if reply.Parsed == nil {
		t.Fatalf("expected parsed reply, raw=%q", reply.Raw)
	}
	got := reply.Result()
	if got.Summary != "Ship on Friday." || len(got.KeyDecisions) != 1 || len(got.ActionItems) != 1 {
		t.Fatalf("unexpected result %+v", got)
	}
	item := got.ActionItems[0]
	if item.Owner == nil || *item.Owner != "Alice" || item.Deadline != nil {
		t.Fatalf("unexpected action item %+v", item)
	}
	if streamed.String() != reply.Raw {
		t.Fatalf("streamed deltas do not add up to the reply")
	}
	if len(fake.last) != 2 || fake.last[0].Role != schema.System || !strings.Contains(fake.last[1].Content, "focus on owners") || !strings.Contains(fake.last[1].Content, "Alice owns QA") {
		t.Fatalf("unexpected prompt: %+v", fake.last)
	}
}

func TestChatFallsBackToRawText(t *testing.T) {
	fake := &fakeModel{chunks: []string{"The team agreed ", "to ship Friday."}}
	reply, err := NewChat("fake", fake, 0, nil).Summarize(context.Background(), Request{Text: meeting})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if reply.Parsed != nil {
		t.Fatalf("plain text should not parse")
	}
	got := reply.Result()
	if got.Summary != "The team agreed to ship Friday." || len(got.KeyDecisions) != 0 || len(got.ActionItems) != 0 {
		t.Fatalf("unexpected fallback %+v", got)
	}
}

func TestChatFailures(t *testing.T) {
	_, err := NewChat("fake", &fakeModel{err: errors.New("401 unauthorized")}, 0, nil).Summarize(context.Background(), Request{Text: meeting})
	if !errors.Is(err, apperr.ErrSummarizationFailed) {
		t.Fatalf("expected summarization failure, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)
	_, err = NewChat("fake", &fakeModel{}, 0, nil).Summarize(ctx, Request{Text: meeting})
	if !errors.Is(err, apperr.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestChatRejectsBlankReply(t *testing.T) {
	for _, chunks := range [][]string{nil, {"  ", "\n"}} {
		_, err := NewChat("fake", &fakeModel{chunks: chunks}, 0, nil).Summarize(context.Background(), Request{Text: meeting})
		if !errors.Is(err, apperr.ErrSummarizationFailed) {
			t.Fatalf("chunks %q: expected summarization failure, got %v", chunks, err)
		}
	}
}

func TestParseReplyVariants(t *testing.T) {
	cases := []struct {
		name, raw string
		ok        bool
		items     int
	}{
		{"plain", `{"summary":"s","keyDecisions":[],"actionItems":[]}`, true, 0},
		{"prose", "Here you go:\n{\"summary\":\"s\",\"actionItems\":[\"Send notes\"]}\nThanks!", true, 1},
		{"snake", `{"summary":"s","key_decisions":["d"],"action_items":[{"task":"t","assignee":"Bob","due":"Mon"}]}`, true, 1},
		{"no summary", `{"keyDecisions":["d"]}`, false, 0},
		{"not json", "just words", false, 0},
		{"broken", `{"summary": "s",`, false, 0},
	}
	for _, tc := range cases {
		got := ParseReply(tc.raw)
		if (got != nil) != tc.ok {
			t.Fatalf("%s: parsed=%v want %v", tc.name, got != nil, tc.ok)
		}
		if got != nil && len(got.ActionItems) != tc.items {
			t.Fatalf("%s: got %d action items", tc.name, len(got.ActionItems))
		}
	}

	snake := ParseReply(`{"summary":"s","key_decisions":["d"],"action_items":[{"task":"t","assignee":"Bob","due":"Mon"}]}`)
	if len(snake.KeyDecisions) != 1 || *snake.ActionItems[0].Owner != "Bob" || *snake.ActionItems[0].Deadline != "Mon" {
		t.Fatalf("snake case fields lost: %+v", snake)
	}
	encoded, _ := json.Marshal(ParseReply(`{"summary":"s"}`))
	if string(encoded) != `{"summary":"s","keyDecisions":[],"actionItems":[]}` {
		t.Fatalf("lists should encode as empty arrays: %s", encoded)
	}
}

func TestHuggingFace(t *testing.T) {
	var gotBody map[string]string
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`[{"summary_text":"Shipping Friday with QA by Alice."}]`))
	}))
	defer srv.Close()

	hf := NewHuggingFace(config.SummarizationConfig{BaseURL: srv.URL, APIKey: "hf"}, srv.Client(), nil)
	reply, err := hf.Summarize(context.Background(), Request{Text: meeting})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if reply.Result().Summary != "Shipping Friday with QA by Alice." {
		t.Fatalf("unexpected summary %q", reply.Raw)
	}
	if gotPath != "/facebook/bart-large-cnn" || gotAuth != "Bearer hf" || gotBody["inputs"] != meeting {
		t.Fatalf("request mismatch: path=%q auth=%q body=%v", gotPath, gotAuth, gotBody)
	}
}

func TestHuggingFaceEdgeResponses(t *testing.T) {
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer empty.Close()
	reply, err := NewHuggingFace(config.SummarizationConfig{BaseURL: empty.URL, APIKey: "hf"}, empty.Client(), nil).
		Summarize(context.Background(), Request{Text: meeting})
	if err != nil || reply.Result().Summary != "No summary generated" {
		t.Fatalf("expected placeholder summary, got %q %v", reply.Raw, err)
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer failing.Close()
	_, err = NewHuggingFace(config.SummarizationConfig{BaseURL: failing.URL, APIKey: "hf"}, failing.Client(), nil).
		Summarize(context.Background(), Request{Text: meeting})
	if !errors.Is(err, apperr.ErrSummarizationFailed) || !strings.Contains(err.Error(), "model loading") {
		t.Fatalf("expected summarization failure, got %v", err)
	}
}

func TestNewWithoutCredentialUsesLocal(t *testing.T) {
	s, err := New(context.Background(), config.SummarizationConfig{Provider: config.ProviderClaude}, nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Name() != "local" {
		t.Fatalf("expected local summarizer, got %s", s.Name())
	}
	hf, err := New(context.Background(), config.SummarizationConfig{Provider: config.ProviderHuggingFace, APIKey: "k"}, nil, nil)
	if err != nil || hf.Name() != "huggingface:facebook/bart-large-cnn" {
		t.Fatalf("expected huggingface summarizer, got %v %v", hf, err)
	}
}
