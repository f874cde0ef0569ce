package feed

import (
	"encoding/json"
	"time"
)

// Source is one configured import target: an instance of a SourceType
// pointing at a concrete origin. It owns its stage states, its lock key,
// and its import bookkeeping.
type Source struct {
	ID     string
	TypeID string
	Label  string

	// Origin is the locator the fetcher resolves: a URL, path, or
	// directory depending on the configured fetcher.
	Origin string

	Active    bool
	ItemCount int

	// ImportedAt is the completion time of the last full import.
	ImportedAt *time.Time

	// NextRunAt is the next scheduled import; nil = never.
	NextRunAt *time.Time

	// QueuedAt is set while the source sits in the daemon queue; nil =
	// not queued. Reset on unlock.
	QueuedAt *time.Time

	// Config holds per-plugin overrides for this source, keyed by plugin id.
	Config map[string]json.RawMessage

	CreatedAt time.Time
	UpdatedAt time.Time

	// In-memory stage state cache, lazily filled from the stage state
	// store. Must be reset after any deserialization boundary.
	states map[Stage]*StageState
}

// LockKey returns the lock name guarding this source's imports.
func (s *Source) LockKey() string {
	return "feed:" + s.ID
}

// State returns the cached stage state, creating a blank in-memory one on
// first access. Persisting is the caller's responsibility.
func (s *Source) State(stage Stage) *StageState {
	if s.states == nil {
		s.states = make(map[Stage]*StageState)
	}
	state, ok := s.states[stage]
	if !ok {
		state = NewStageState(s.ID, stage)
		s.states[stage] = state
	}
	return state
}

// SetState installs a loaded stage state into the cache.
func (s *Source) SetState(state *StageState) {
	if s.states == nil {
		s.states = make(map[Stage]*StageState)
	}
	s.states[state.Stage] = state
}

// ResetStates drops the in-memory stage state cache. Call after any
// deserialization boundary so stale cached progress is never reused.
func (s *Source) ResetStates() {
	s.states = nil
}

// ScheduleNext computes the next run time from the type's import period.
// A period of PeriodNever clears the schedule.
func (s *Source) ScheduleNext(t *SourceType, now time.Time) {
	period, ok := t.Period()
	if !ok {
		s.NextRunAt = nil
		return
	}
	next := now.Add(period)
	s.NextRunAt = &next
}

// ConfigFor unmarshals this source's override blob for one plugin into
// out. A missing blob leaves out untouched.
func (s *Source) ConfigFor(pluginID string, out interface{}) error {
	raw, ok := s.Config[pluginID]
	if !ok || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
