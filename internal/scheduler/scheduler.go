// Package scheduler binds pin schedules to cron triggers. It owns the table
// from trigger ID to descriptor and hands fired triggers to the activation
// engine.
package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sweeney/pump-scheduler/internal/cron"
	"github.com/sweeney/pump-scheduler/internal/schedule"
)

// ErrUnknownTrigger is returned when a trigger ID has no registered
// descriptor, which means the table and the cron engine disagree.
var ErrUnknownTrigger = errors.New("unknown trigger id")

// Engine is the cron engine the scheduler registers triggers with.
type Engine interface {
	Register(expr string, fn cron.Func) (cron.ID, error)
	Validate(expr string) error
	Remove(id cron.ID)
	LastTriggeredID() cron.ID
}

// Activator runs the duty cycle of a fired trigger.
type Activator interface {
	Run(trigger cron.ID, d schedule.Descriptor) error
}

// Entry is one registered schedule.
type Entry struct {
	ID         cron.ID
	Descriptor schedule.Descriptor
}

// ApplyResult describes a successful Apply.
type ApplyResult struct {
	// Registered holds the new trigger IDs in document order.
	Registered []cron.ID
	// Skipped holds the indexes of entries without a cron_str.
	Skipped []int
}

// Stats counts dispatch outcomes since startup.
type Stats struct {
	Dispatched      int
	Failed          int
	UnknownTriggers int
}

// Scheduler is the registry and dispatcher. The table is replaced
// wholesale on Apply so a lookup never sees a half-cleared set.
type Scheduler struct {
	engine    Engine
	activator Activator
	log       zerolog.Logger

	mu    sync.RWMutex
	table map[cron.ID]schedule.Descriptor
	stats Stats
}

// New creates a Scheduler with no schedules.
func New(engine Engine, activator Activator, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		engine:    engine,
		activator: activator,
		log:       log,
		table:     map[cron.ID]schedule.Descriptor{},
	}
}

// Register validates d, registers a recurring trigger for it and returns
// the trigger ID. Duplicate pins and expressions are allowed; each fires
// independently.
func (s *Scheduler) Register(d schedule.Descriptor) (cron.ID, error) {
	if err := d.Validate(); err != nil {
		return 0, err
	}
	if err := s.engine.Validate(d.TriggerExpression); err != nil {
		return 0, fmt.Errorf("%w: %v", schedule.ErrInvalidConfig, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.registerLocked(s.table, d)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Scheduler) registerLocked(table map[cron.ID]schedule.Descriptor, d schedule.Descriptor) (cron.ID, error) {
	id, err := s.engine.Register(d.TriggerExpression, s.fire)
	if err != nil {
		return 0, fmt.Errorf("register %q: %w", d.TriggerExpression, err)
	}
	table[id] = d
	s.log.Info().Uint64("trigger", uint64(id)).Int("pin", d.Pin).Str("cron", d.TriggerExpression).
		Msg("schedule registered")
	return id, nil
}

// Lookup returns the descriptor registered under id.
func (s *Scheduler) Lookup(id cron.ID) (schedule.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.table[id]
	if !ok {
		return schedule.Descriptor{}, fmt.Errorf("%w: %d", ErrUnknownTrigger, id)
	}
	return d, nil
}

// Apply parses doc and, if every entry is valid, replaces all current
// schedules with the ones it describes. On any validation error nothing
// changes and the current schedules keep running.
func (s *Scheduler) Apply(doc schedule.Document) (ApplyResult, error) {
	parsed, err := schedule.Parse(doc, s.log)
	if err != nil {
		return ApplyResult{}, err
	}
	for i, d := range parsed.Descriptors {
		if err := s.engine.Validate(d.TriggerExpression); err != nil {
			err = &schedule.ValidationError{Index: i, Field: schedule.KeyCronStr, Reason: err.Error()}
			s.log.Error().Err(err).Msg("invalid pin config")
			return ApplyResult{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearLocked()
	table := make(map[cron.ID]schedule.Descriptor, len(parsed.Descriptors))
	res := ApplyResult{Skipped: parsed.Skipped}
	for _, d := range parsed.Descriptors {
		id, err := s.registerLocked(table, d)
		if err != nil {
			// Expressions were validated above, so this only happens if the
			// engine changed its mind; keep what was registered so far.
			s.table = table
			return res, err
		}
		res.Registered = append(res.Registered, id)
	}
	s.table = table
	s.log.Info().Int("schedules", len(table)).Int("skipped", len(parsed.Skipped)).Msg("config applied")
	return res, nil
}

// Clear removes every schedule.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	s.clearLocked()
	s.mu.Unlock()
}

func (s *Scheduler) clearLocked() {
	for id := range s.table {
		s.engine.Remove(id)
	}
	s.table = map[cron.ID]schedule.Descriptor{}
}

// Entries returns the registered schedules ordered by trigger ID.
func (s *Scheduler) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.table))
	for id, d := range s.table {
		out = append(out, Entry{ID: id, Descriptor: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats returns dispatch counters.
func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Dispatch resolves id and runs its duty cycle synchronously.
func (s *Scheduler) Dispatch(id cron.ID) error {
	d, err := s.Lookup(id)
	if err != nil {
		s.count(func(st *Stats) { st.UnknownTriggers++ })
		return err
	}

	s.log.Info().Uint64("trigger", uint64(id)).Int("pin", d.Pin).Msg("activating pin")
	s.count(func(st *Stats) { st.Dispatched++ })
	if err := s.activator.Run(id, d); err != nil {
		s.count(func(st *Stats) { st.Failed++ })
		return fmt.Errorf("trigger %d: %w", id, err)
	}
	return nil
}

// DispatchCurrent dispatches the trigger the engine is currently firing.
func (s *Scheduler) DispatchCurrent() error {
	return s.Dispatch(s.engine.LastTriggeredID())
}

// fire is the callback bound to every registered trigger. Errors have no
// caller to go to, so they are logged here.
func (s *Scheduler) fire(id cron.ID) {
	if err := s.Dispatch(id); err != nil {
		s.log.Error().Err(err).Uint64("trigger", uint64(id)).Msg("dispatch failed")
	}
}

func (s *Scheduler) count(fn func(*Stats)) {
	s.mu.Lock()
	fn(&s.stats)
	s.mu.Unlock()
}
