// Package feed defines the import data model: sources, source types,
// mappings, items, and per-stage resumable progress.
package feed

import (
	"fmt"
	"time"
)

// Stage identifies one step of the import pipeline.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageParse   Stage = "parse"
	StageProcess Stage = "process"
	StageClean   Stage = "clean"
	StageExpire  Stage = "expire"
	StageClear   Stage = "clear"
)

// ProgressComplete is the sentinel reported by a finished stage.
const ProgressComplete = 1.0

// Severity classifies a user-facing stage message.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Message is one user-facing note attached to a stage.
type Message struct {
	Severity Severity `json:"severity"`
	Text     string   `json:"text"`
}

// StageState is the resumable progress record for one pipeline stage of
// one source. Pointer is an opaque resume position owned by the stage
// implementation; Total is the count of work units (0 = unknown).
type StageState struct {
	SourceID string
	Stage    Stage

	Pointer  string
	Total    int
	progress float64

	Created int
	Updated int
	Skipped int
	Failed  int
	Deleted int
	Cleaned int

	Messages []Message

	// Entity type being cleaned; set when the clean list is seeded.
	CleanEntityType string

	UpdatedAt time.Time
}

// NewStageState creates a blank state for one (source, stage) pair.
func NewStageState(sourceID string, stage Stage) *StageState {
	return &StageState{SourceID: sourceID, Stage: stage}
}

// Progress reports completion in [0, ProgressComplete]. When Total is
// known the stage implementation maintains it via SetProgress; a stage
// with unknown total stays at 0 until explicitly completed.
func (s *StageState) Progress() float64 {
	return s.progress
}

// SetProgress records fractional completion, clamped to the sentinel.
func (s *StageState) SetProgress(current, total int) {
	if total <= 0 {
		s.progress = 0
		return
	}
	p := float64(current) / float64(total)
	if p >= ProgressComplete {
		p = ProgressComplete
	}
	s.progress = p
}

// Complete marks the stage finished regardless of counters.
func (s *StageState) Complete() {
	s.progress = ProgressComplete
}

// IsComplete reports whether the stage reached the completion sentinel.
func (s *StageState) IsComplete() bool {
	return s.progress >= ProgressComplete
}

// AddMessage attaches a user-facing message to the stage.
func (s *StageState) AddMessage(severity Severity, format string, args ...interface{}) {
	s.Messages = append(s.Messages, Message{
		Severity: severity,
		Text:     fmt.Sprintf(format, args...),
	})
}

// HasMessage reports whether a message with exactly this text is
// already attached.
func (s *StageState) HasMessage(text string) bool {
	for _, m := range s.Messages {
		if m.Text == text {
			return true
		}
	}
	return false
}
