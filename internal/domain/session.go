package domain

import "time"

// Session is the state of one analysis, from upload until it expires or the
// user uploads another file. Handlers receive it explicitly; nothing about a
// session lives in package state.
type Session struct {
	ID       string
	FileName string
	Table    LineItemTable
	Ratios   *FinancialRatios

	// RatioWarning is set when ratios could not be computed.
	RatioWarning string
	Summary      string
	History      []ChatMessage
	CreatedAt    time.Time
}

// AppendMessage adds a turn to the transcript. History is append-only.
func (s *Session) AppendMessage(role, content string) {
	s.History = append(s.History, ChatMessage{Role: role, Content: content})
}

// HasRatios reports whether ratio lines should be shown and sent to the model.
func (s *Session) HasRatios() bool {
	return s.Ratios != nil
}
