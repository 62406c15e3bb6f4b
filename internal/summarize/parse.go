package summarize

import (
	"encoding/json"
	"strings"

	"meetsum/internal/models"
)

// wireSummary accepts both the camelCase keys we ask for and the snake_case
// keys models frequently answer with.
type wireSummary struct {
	Summary           *string           `json:"summary"`
	KeyDecisions      []string          `json:"keyDecisions"`
	KeyDecisionsSnake []string          `json:"key_decisions"`
	ActionItems       []json.RawMessage `json:"actionItems"`
	ActionItemsSnake  []json.RawMessage `json:"action_items"`
}

type wireAction struct {
	Task     string  `json:"task"`
	Owner    *string `json:"owner"`
	Assignee *string `json:"assignee"`
	Deadline *string `json:"deadline"`
	Due      *string `json:"due"`
}

// ParseReply extracts a SummaryResult from a model reply. It tolerates code
// fences and prose around the JSON object and returns nil when no usable
// object with a summary field is present.
func ParseReply(raw string) *models.SummaryResult {
	body := extractObject(raw)
	if body == "" {
		return nil
	}
	var w wireSummary
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return nil
	}
	if w.Summary == nil {
		return nil
	}

	out := models.NewSummary(strings.TrimSpace(*w.Summary))
	decisions := w.KeyDecisions
	if len(decisions) == 0 {
		decisions = w.KeyDecisionsSnake
	}
	for _, d := range decisions {
		if d = strings.TrimSpace(d); d != "" {
			out.KeyDecisions = append(out.KeyDecisions, d)
		}
	}
	items := w.ActionItems
	if len(items) == 0 {
		items = w.ActionItemsSnake
	}
	for _, rawItem := range items {
		if item, ok := parseAction(rawItem); ok {
			out.ActionItems = append(out.ActionItems, item)
		}
	}
	return &out
}

func parseAction(raw json.RawMessage) (models.ActionItem, bool) {
	var task string
	if err := json.Unmarshal(raw, &task); err == nil {
		task = strings.TrimSpace(task)
		return models.ActionItem{Task: task}, task != ""
	}
	var w wireAction
	if err := json.Unmarshal(raw, &w); err != nil {
		return models.ActionItem{}, false
	}
	task = strings.TrimSpace(w.Task)
	if task == "" {
		return models.ActionItem{}, false
	}
	owner := w.Owner
	if owner == nil {
		owner = w.Assignee
	}
	deadline := w.Deadline
	if deadline == nil {
		deadline = w.Due
	}
	return models.ActionItem{Task: task, Owner: nonEmpty(owner), Deadline: nonEmpty(deadline)}, true
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" || strings.EqualFold(v, "null") || strings.EqualFold(v, "none") {
		return nil
	}
	return &v
}

// extractObject returns the outermost {...} span of raw after removing a
// surrounding markdown fence.
func extractObject(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		s = rest
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
