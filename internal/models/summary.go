package models

// ActionItem is a task pulled out of a meeting transcript.
type ActionItem struct {
	Task     string  `json:"task"`
	Owner    *string `json:"owner,omitempty"`
	Deadline *string `json:"deadline,omitempty"`
}

// SummaryResult is the structured digest returned to clients.
type SummaryResult struct {
	Summary      string       `json:"summary"`
	KeyDecisions []string     `json:"keyDecisions"`
	ActionItems  []ActionItem `json:"actionItems"`
}

// NewSummary returns a result with empty (never nil) lists.
func NewSummary(text string) SummaryResult {
	return SummaryResult{
		Summary:      text,
		KeyDecisions: []string{},
		ActionItems:  []ActionItem{},
	}
}

// Normalize replaces nil lists so the JSON encoding is always [].
func (s *SummaryResult) Normalize() {
	if s.KeyDecisions == nil {
		s.KeyDecisions = []string{}
	}
	if s.ActionItems == nil {
		s.ActionItems = []ActionItem{}
	}
}

// Clone deep-copies the result so callers can hand it out without sharing slices.
func (s SummaryResult) Clone() SummaryResult {
	out := SummaryResult{Summary: s.Summary}
	out.KeyDecisions = append([]string{}, s.KeyDecisions...)
	out.ActionItems = make([]ActionItem, 0, len(s.ActionItems))
	for _, item := range s.ActionItems {
		cp := ActionItem{Task: item.Task}
		if item.Owner != nil {
			owner := *item.Owner
			cp.Owner = &owner
		}
		if item.Deadline != nil {
			deadline := *item.Deadline
			cp.Deadline = &deadline
		}
		out.ActionItems = append(out.ActionItems, cp)
	}
	return out
}
