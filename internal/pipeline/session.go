// Package pipeline sequences a translation session through its fixed step
// order, persisting progress and errors so a session can always be resumed
// from its last good step.
package pipeline

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Step is one stage of a session's fixed progression.
type Step string

const (
	StepUploaded     Step = "uploaded"
	StepBatchCreated Step = "batchCreated"
	StepSubmitted    Step = "submitted"
	StepProcessing   Step = "processing"
	StepCompleted    Step = "completed"
	StepPRCreated    Step = "prCreated"
)

var stepOrder = []Step{
	StepUploaded,
	StepBatchCreated,
	StepSubmitted,
	StepProcessing,
	StepCompleted,
	StepPRCreated,
}

// Steps returns the full step order, earliest first.
func Steps() []Step {
	out := make([]Step, len(stepOrder))
	copy(out, stepOrder)
	return out
}

func (s Step) index() int {
	for i, step := range stepOrder {
		if step == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s names a known step.
func (s Step) Valid() bool {
	return s.index() >= 0
}

// predecessor returns the step that must complete before s, if any.
func (s Step) predecessor() (Step, bool) {
	i := s.index()
	if i <= 0 {
		return "", false
	}
	return stepOrder[i-1], true
}

// Mode controls whether the engine drives a session on its own.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// StepState is the persisted record of one step's completion, plus the
// step-specific payload fields that apply to it.
type StepState struct {
	Completed bool      `json:"completed"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	Error     string    `json:"error,omitempty"`

	BatchID          string `json:"batchId,omitempty"`
	ProviderBatchID  string `json:"providerBatchId,omitempty"`
	Progress         int    `json:"progress,omitempty"`
	TranslationCount int    `json:"translationCount,omitempty"`
	PRNumber         int    `json:"prNumber,omitempty"`
	PRURL            string `json:"prUrl,omitempty"`
}

// ErrorEntry is one append-only error log record.
type ErrorEntry struct {
	Step      Step      `json:"step"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the tracked unit of work. Mutated only by the Machine's
// step-completion and error-append operations.
type Session struct {
	ID            string              `json:"id"`
	Repository    string              `json:"repository"`
	SourceLocale  string              `json:"sourceLocale"`
	TargetLocales []string            `json:"targetLocales"`
	Mode          Mode                `json:"mode"`
	Incremental   bool                `json:"incremental"`
	Steps         map[Step]*StepState `json:"steps"`
	Errors        []ErrorEntry        `json:"errors,omitempty"`
	BatchIDs      []string            `json:"batchIds,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// Step returns the state for the named step, creating an empty one on
// first access.
func (s *Session) Step(step Step) *StepState {
	if s.Steps == nil {
		s.Steps = make(map[Step]*StepState)
	}
	st, ok := s.Steps[step]
	if !ok {
		st = &StepState{}
		s.Steps[step] = st
	}
	return st
}

// StepCompleted reports whether the named step has been marked complete.
func (s *Session) StepCompleted(step Step) bool {
	st, ok := s.Steps[step]
	return ok && st.Completed
}

// CurrentStep returns the latest completed step, or "" for a session with
// no progress at all.
func (s *Session) CurrentStep() Step {
	var current Step
	for _, step := range stepOrder {
		if s.StepCompleted(step) {
			current = step
		}
	}
	return current
}

// ActiveBatchID returns the most recently created batch for the session.
func (s *Session) ActiveBatchID() string {
	if len(s.BatchIDs) == 0 {
		return ""
	}
	return s.BatchIDs[len(s.BatchIDs)-1]
}

// NewSessionID generates an id unique even under rapid repeated calls.
func NewSessionID() string {
	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return "sess_" + time.Now().UTC().Format("20060102T150405") + "_" + hex.EncodeToString(suffix)
}
