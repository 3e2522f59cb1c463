package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/pump-scheduler/internal/cron"
	"github.com/sweeney/pump-scheduler/internal/schedule"
)

type run struct {
	trigger cron.ID
	d       schedule.Descriptor
}

type fakeActivator struct {
	runs []run
	err  error
}

func (f *fakeActivator) Run(trigger cron.ID, d schedule.Descriptor) error {
	f.runs = append(f.runs, run{trigger, d})
	return f.err
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newTestScheduler() (*Scheduler, *cron.Engine, *fakeActivator, *clock) {
	clk := &clock{t: time.Date(2026, 1, 1, 12, 0, 30, 0, time.UTC)}
	eng := cron.New(cron.Options{Location: time.UTC, Now: clk.Now, Log: zerolog.Nop()})
	act := &fakeActivator{}
	return New(eng, act, zerolog.Nop()), eng, act, clk
}

func pinConfig(pin, total, on, off int, expr any) map[string]any {
	return map[string]any{
		schedule.KeyPin:        pin,
		schedule.KeyTotalOnSec: total,
		schedule.KeyOnSec:      on,
		schedule.KeyOffSec:     off,
		schedule.KeyCronStr:    expr,
	}
}

func doc(entries ...map[string]any) schedule.Document {
	return schedule.Document{PinConfigs: entries}
}

func descriptors(s *Scheduler) []schedule.Descriptor {
	var out []schedule.Descriptor
	for _, e := range s.Entries() {
		out = append(out, e.Descriptor)
	}
	return out
}

func TestApplySingleSchedule(t *testing.T) {
	s, eng, _, _ := newTestScheduler()

	res, err := s.Apply(doc(pinConfig(16, 10, 4, 6, "0 * * * * *")))
	require.NoError(t, err)
	require.Len(t, res.Registered, 1)

	d, err := s.Lookup(res.Registered[0])
	require.NoError(t, err)
	assert.Equal(t, 16, d.Pin)
	assert.Equal(t, "0 * * * * *", d.TriggerExpression)

	entries := eng.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, res.Registered[0], entries[0].ID)
	assert.Equal(t, "0 * * * * *", entries[0].Expression)
}

func TestApplyRegistersInDocumentOrder(t *testing.T) {
	s, _, _, _ := newTestScheduler()

	res, err := s.Apply(doc(
		pinConfig(16, 10, 4, 6, "0 * * * * *"),
		pinConfig(5, 20, 5, 5, "0 0 6 * * *"),
		pinConfig(16, 10, 4, 6, "0 * * * * *"),
	))
	require.NoError(t, err)
	require.Len(t, res.Registered, 3)
	assert.Less(t, res.Registered[0], res.Registered[1])
	assert.Less(t, res.Registered[1], res.Registered[2])

	got := descriptors(s)
	assert.Equal(t, []int{16, 5, 16}, []int{got[0].Pin, got[1].Pin, got[2].Pin})
}

func TestApplyReplacesPreviousSchedules(t *testing.T) {
	s, eng, _, _ := newTestScheduler()
	cfg := doc(
		pinConfig(16, 10, 4, 6, "0 * * * * *"),
		pinConfig(5, 20, 5, 5, "@hourly"),
	)

	first, err := s.Apply(cfg)
	require.NoError(t, err)
	before := descriptors(s)

	second, err := s.Apply(cfg)
	require.NoError(t, err)

	assert.Equal(t, before, descriptors(s))
	assert.Equal(t, 2, eng.Len(), "reload must not accumulate triggers")
	for _, id := range first.Registered {
		_, err := s.Lookup(id)
		assert.ErrorIs(t, err, ErrUnknownTrigger, "old trigger %d", id)
	}
	for _, id := range second.Registered {
		_, err := s.Lookup(id)
		assert.NoError(t, err)
	}
}

func TestApplyInvalidKeepsCurrentSchedules(t *testing.T) {
	s, eng, _, _ := newTestScheduler()
	_, err := s.Apply(doc(pinConfig(16, 10, 4, 6, "0 * * * * *")))
	require.NoError(t, err)
	before := s.Entries()

	_, err = s.Apply(doc(
		pinConfig(5, 10, 4, 6, "@hourly"),
		pinConfig(5, -1, 4, 6, "@hourly"),
	))
	require.ErrorIs(t, err, schedule.ErrInvalidConfig)

	assert.Equal(t, before, s.Entries())
	assert.Equal(t, 1, eng.Len(), "no entry of a rejected batch may be registered")
}

func TestApplyRejectsBadExpressionBeforeRegistering(t *testing.T) {
	s, eng, _, _ := newTestScheduler()

	_, err := s.Apply(doc(
		pinConfig(16, 10, 4, 6, "0 * * * * *"),
		pinConfig(5, 10, 4, 6, "every tuesday"),
	))
	require.ErrorIs(t, err, schedule.ErrInvalidConfig)

	var ve *schedule.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, 1, ve.Index)
	assert.Equal(t, 0, eng.Len())
}

func TestApplySkipsMissingCronStr(t *testing.T) {
	s, _, _, _ := newTestScheduler()

	res, err := s.Apply(doc(
		pinConfig(16, 10, 4, 6, nil),
		pinConfig(5, 10, 4, 6, "@hourly"),
	))
	require.NoError(t, err)
	assert.Equal(t, []int{0}, res.Skipped)
	assert.Len(t, res.Registered, 1)
}

func TestApplyEmptyDocumentClears(t *testing.T) {
	s, eng, _, _ := newTestScheduler()
	_, err := s.Apply(doc(pinConfig(16, 10, 4, 6, "@hourly")))
	require.NoError(t, err)

	res, err := s.Apply(schedule.Document{})
	require.NoError(t, err)
	assert.Empty(t, res.Registered)
	assert.Empty(t, s.Entries())
	assert.Equal(t, 0, eng.Len())
}

func TestRegisterDirect(t *testing.T) {
	s, eng, _, _ := newTestScheduler()
	d := schedule.Descriptor{Pin: 16, TotalOnSec: 10, OnSec: 4, OffSec: 6, TriggerExpression: "0 * * * * *"}

	id1, err := s.Register(d)
	require.NoError(t, err)
	id2, err := s.Register(d)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2, "duplicate schedules are registered independently")
	assert.Equal(t, 2, eng.Len())
}

func TestRegisterRejectsInvalid(t *testing.T) {
	s, eng, _, _ := newTestScheduler()

	_, err := s.Register(schedule.Descriptor{Pin: -1, TriggerExpression: "@hourly"})
	assert.ErrorIs(t, err, schedule.ErrInvalidConfig)

	_, err = s.Register(schedule.Descriptor{Pin: 1, TriggerExpression: ""})
	assert.ErrorIs(t, err, schedule.ErrInvalidConfig)

	_, err = s.Register(schedule.Descriptor{Pin: 1, TriggerExpression: "bogus"})
	assert.ErrorIs(t, err, schedule.ErrInvalidConfig)

	assert.Equal(t, 0, eng.Len())
}

func TestFiredTriggerRunsItsDescriptor(t *testing.T) {
	s, eng, act, clk := newTestScheduler()
	_, err := s.Apply(doc(
		pinConfig(16, 10, 4, 6, "0 * * * * *"),
		pinConfig(5, 3, 3, 0, "0 0 * * * *"),
	))
	require.NoError(t, err)

	clk.t = clk.t.Add(30 * time.Second) // 12:01:00
	assert.Equal(t, 1, eng.Tick(clk.Now()))

	require.Len(t, act.runs, 1)
	assert.Equal(t, schedule.Descriptor{Pin: 16, TotalOnSec: 10, OnSec: 4, OffSec: 6, TriggerExpression: "0 * * * * *"}, act.runs[0].d)
	d, err := s.Lookup(act.runs[0].trigger)
	require.NoError(t, err)
	assert.Equal(t, act.runs[0].d, d)
	assert.Equal(t, Stats{Dispatched: 1}, s.Stats())
}

func TestDispatchUnknownTrigger(t *testing.T) {
	s, _, act, _ := newTestScheduler()

	err := s.Dispatch(42)
	assert.ErrorIs(t, err, ErrUnknownTrigger)
	assert.Empty(t, act.runs)
	assert.Equal(t, 1, s.Stats().UnknownTriggers)
}

func TestDispatchActivatorError(t *testing.T) {
	s, _, act, _ := newTestScheduler()
	act.err = errors.New("pin busy")
	id, err := s.Register(schedule.Descriptor{Pin: 16, TotalOnSec: 1, OnSec: 1, TriggerExpression: "@hourly"})
	require.NoError(t, err)

	err = s.Dispatch(id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pin busy")
	assert.Equal(t, Stats{Dispatched: 1, Failed: 1}, s.Stats())
}

// The trigger callback logs dispatch errors instead of propagating them.
func TestCallbackSurvivesActivatorError(t *testing.T) {
	s, eng, act, clk := newTestScheduler()
	act.err = errors.New("gpio gone")
	_, err := s.Register(schedule.Descriptor{Pin: 16, TotalOnSec: 1, OnSec: 1, TriggerExpression: "0 * * * * *"})
	require.NoError(t, err)

	clk.t = clk.t.Add(30 * time.Second)
	assert.NotPanics(t, func() { eng.Tick(clk.Now()) })
	assert.Len(t, act.runs, 1)
}

func TestDispatchCurrent(t *testing.T) {
	s, eng, act, clk := newTestScheduler()
	var errs []error
	id, err := s.Register(schedule.Descriptor{Pin: 16, TotalOnSec: 1, OnSec: 1, TriggerExpression: "0 * * * * *"})
	require.NoError(t, err)

	// before anything fired there is no current trigger
	assert.ErrorIs(t, s.DispatchCurrent(), ErrUnknownTrigger)

	// an extra trigger that uses the global-callback style
	_, err = eng.Register("0 * * * * *", func(cron.ID) { errs = append(errs, s.DispatchCurrent()) })
	require.NoError(t, err)

	clk.t = clk.t.Add(30 * time.Second)
	eng.Tick(clk.Now())

	// the extra trigger is not in the table
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrUnknownTrigger)
	require.Len(t, act.runs, 1)
	assert.Equal(t, id, act.runs[0].trigger)
}

func TestClearedTriggerIsUnknown(t *testing.T) {
	s, eng, _, _ := newTestScheduler()
	id, err := s.Register(schedule.Descriptor{Pin: 16, TotalOnSec: 1, OnSec: 1, TriggerExpression: "@hourly"})
	require.NoError(t, err)

	s.Clear()
	assert.Equal(t, 0, eng.Len())
	assert.ErrorIs(t, s.Dispatch(id), ErrUnknownTrigger)
}
