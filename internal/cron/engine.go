// Package cron is a cooperative cron engine. Expressions are parsed and
// evaluated with robfig/cron, but nothing runs in the background: due
// triggers fire only inside Tick, on the caller's goroutine, one at a time.
package cron

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	robfig "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ErrInvalidExpression is returned for expressions the parser rejects.
var ErrInvalidExpression = errors.New("invalid cron expression")

// ID identifies a registered trigger. IDs start at 1 and are never reused
// within a process.
type ID uint64

// Func is invoked when a trigger fires.
type Func func(id ID)

// Parser accepts five-field expressions, six-field expressions with a
// leading seconds field, and descriptors such as @hourly.
var Parser = robfig.NewParser(robfig.SecondOptional | robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor)

// Options configures an Engine.
type Options struct {
	// Location used to evaluate expressions. Defaults to time.Local.
	Location *time.Location
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
	Log zerolog.Logger
}

// Entry is a point-in-time view of a registered trigger.
type Entry struct {
	ID         ID
	Expression string
	Next       time.Time
	Prev       time.Time
}

type entry struct {
	id       ID
	expr     string
	schedule robfig.Schedule
	fn       Func
	next     time.Time
	prev     time.Time
}

// Engine holds registered triggers and fires them from Tick.
type Engine struct {
	loc *time.Location
	now func() time.Time
	log zerolog.Logger

	mu      sync.Mutex
	entries map[ID]*entry
	lastID  ID
	current ID
}

// New creates an empty Engine.
func New(opts Options) *Engine {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		loc:     opts.Location,
		now:     opts.Now,
		log:     opts.Log,
		entries: map[ID]*entry{},
	}
}

// Validate reports whether expr can be registered.
func (e *Engine) Validate(expr string) error {
	_, err := parse(expr)
	return err
}

func parse(expr string) (robfig.Schedule, error) {
	s, err := Parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidExpression, expr, err)
	}
	return s, nil
}

// Register adds a recurring trigger and returns its ID. The first fire time
// is the next instant matching expr after Now.
func (e *Engine) Register(expr string, fn Func) (ID, error) {
	s, err := parse(expr)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastID++
	ent := &entry{
		id:       e.lastID,
		expr:     expr,
		schedule: s,
		fn:       fn,
		next:     s.Next(e.now().In(e.loc)),
	}
	e.entries[ent.id] = ent
	e.log.Debug().Uint64("id", uint64(ent.id)).Str("expr", expr).Time("next", ent.next).Msg("trigger registered")
	return ent.id, nil
}

// Remove unregisters id. Unknown IDs are ignored.
func (e *Engine) Remove(id ID) {
	e.mu.Lock()
	delete(e.entries, id)
	e.mu.Unlock()
}

// Clear unregisters every trigger. IDs keep increasing afterwards.
func (e *Engine) Clear() {
	e.mu.Lock()
	e.entries = map[ID]*entry{}
	e.mu.Unlock()
}

// Len returns the number of registered triggers.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

// LastTriggeredID returns the ID of the trigger currently firing, or the
// last one that fired. Zero before any trigger has fired.
func (e *Engine) LastTriggeredID() ID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Entries returns all triggers ordered by ID.
func (e *Engine) Entries() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Entry, 0, len(e.entries))
	for _, ent := range e.entries {
		out = append(out, Entry{ID: ent.id, Expression: ent.expr, Next: ent.next, Prev: ent.prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NextDue returns the earliest fire time of all triggers, or the zero time
// when nothing is registered.
func (e *Engine) NextDue() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	var earliest time.Time
	for _, ent := range e.entries {
		if earliest.IsZero() || ent.next.Before(earliest) {
			earliest = ent.next
		}
	}
	return earliest
}

// Tick fires every trigger due at now, in ascending ID order, and returns
// how many fired. Callbacks run synchronously. After each callback its entry's
// next fire time is computed from the engine clock, so the entry's own
// instants that passed while it ran are skipped. Other entries that came due
// during the callback keep their next time and fire once on the next Tick.
func (e *Engine) Tick(now time.Time) int {
	fired := 0
	for _, id := range e.dueIDs(now) {
		e.mu.Lock()
		ent, ok := e.entries[id]
		if !ok {
			// removed by an earlier callback in this tick
			e.mu.Unlock()
			continue
		}
		e.current = id
		e.mu.Unlock()

		e.invoke(ent)
		fired++

		after := e.now().In(e.loc)
		e.mu.Lock()
		ent.prev = now
		ent.next = ent.schedule.Next(after)
		e.mu.Unlock()
	}
	return fired
}

func (e *Engine) dueIDs(now time.Time) []ID {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []ID
	for id, ent := range e.entries {
		if !ent.next.IsZero() && !ent.next.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (e *Engine) invoke(ent *entry) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Uint64("id", uint64(ent.id)).Str("expr", ent.expr).
				Interface("panic", r).Msg("trigger callback panicked")
		}
	}()
	ent.fn(ent.id)
}
