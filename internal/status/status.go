// Package status provides a thread-safe status tracker for the pump-scheduler
// daemon. It is read by the HTTP handlers and the MQTT heartbeat.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/sweeney/pump-scheduler/internal/activation"
)

// Outcomes recorded for a finished run.
const (
	OutcomeComplete = "COMPLETE"
	OutcomeFailed   = "FAILED"
	OutcomeRejected = "REJECTED"
)

// Config contains daemon configuration for display.
type Config struct {
	ConfigPath  string
	TickMs      int64
	HeartbeatMs int64
	Timezone    string
	Chip        string
	Broker      string
	HTTPAddr    string
}

// ScheduleInfo is one registered schedule and its next fire time.
type ScheduleInfo struct {
	ID         uint64
	Pin        int
	TotalOnSec int
	OnSec      int
	OffSec     int
	Cron       string
	Next       time.Time
}

// RunInfo describes an in-flight or finished run.
type RunInfo struct {
	RunID        string
	Trigger      uint64
	Pin          int
	TotalOnSec   int
	OnSec        int
	OffSec       int
	Burst        int
	RemainingSec int
	Energized    bool
	Started      time.Time
	Finished     time.Time
	Outcome      string
	Reason       string
}

// Counts tallies runs and config loads since startup.
type Counts struct {
	Runs            int
	Completed       int
	Rejected        int
	Failed          int
	UnknownTriggers int
	ConfigApplied   int
	ConfigRejected  int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Schedules     []ScheduleInfo
	Active        *RunInfo
	Last          *RunInfo
	Counts        Counts
	ConfigLoaded  time.Time
	ConfigError   string
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	now func() time.Time

	mu   sync.RWMutex
	snap Snapshot
}

var _ activation.Notifier = (*Tracker)(nil)

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		now: time.Now,
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// SetSchedules replaces the registered schedule list. Entries are kept in
// trigger ID order.
func (t *Tracker) SetSchedules(schedules []ScheduleInfo) {
	cp := append([]ScheduleInfo(nil), schedules...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].ID < cp[j].ID })
	t.mu.Lock()
	t.snap.Schedules = cp
	t.mu.Unlock()
}

// ConfigApplied records a successful config load.
func (t *Tracker) ConfigApplied(at time.Time) {
	t.mu.Lock()
	t.snap.Counts.ConfigApplied++
	t.snap.ConfigLoaded = at
	t.snap.ConfigError = ""
	t.mu.Unlock()
}

// ConfigRejected records a config load that was refused. The previous
// schedules stay in effect, so ConfigLoaded is left alone.
func (t *Tracker) ConfigRejected(err error) {
	t.mu.Lock()
	t.snap.Counts.ConfigRejected++
	if err != nil {
		t.snap.ConfigError = err.Error()
	}
	t.mu.Unlock()
}

// SetUnknownTriggers sets the count of fired triggers with no schedule.
func (t *Tracker) SetUnknownTriggers(n int) {
	t.mu.Lock()
	t.snap.Counts.UnknownTriggers = n
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Notify folds an activation event into the tracked run state.
func (t *Tracker) Notify(ev activation.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Type {
	case activation.EventRunStart:
		t.snap.Counts.Runs++
		run := runFromEvent(ev)
		t.snap.Active = &run
	case activation.EventBurstOn, activation.EventBurstOff:
		if t.snap.Active == nil {
			return
		}
		t.snap.Active.Burst = ev.Burst
		t.snap.Active.RemainingSec = ev.RemainingSec
		t.snap.Active.Energized = ev.Type == activation.EventBurstOn
	case activation.EventRunComplete:
		t.snap.Counts.Completed++
		t.finish(ev, OutcomeComplete)
	case activation.EventRunFailed:
		t.snap.Counts.Failed++
		t.finish(ev, OutcomeFailed)
	case activation.EventRunRejected:
		t.snap.Counts.Rejected++
		run := runFromEvent(ev)
		run.Finished = ev.Timestamp
		run.Outcome = OutcomeRejected
		run.Reason = ev.Reason
		t.snap.Last = &run
	}
}

func (t *Tracker) finish(ev activation.Event, outcome string) {
	run := t.snap.Active
	if run == nil || run.RunID != ev.RunID {
		r := runFromEvent(ev)
		run = &r
	}
	run.Energized = false
	run.Finished = ev.Timestamp
	run.Outcome = outcome
	run.Reason = ev.Reason
	if ev.Type == activation.EventRunComplete {
		run.RemainingSec = 0
	} else {
		run.RemainingSec = ev.RemainingSec
	}
	t.snap.Last = run
	t.snap.Active = nil
}

func runFromEvent(ev activation.Event) RunInfo {
	return RunInfo{
		RunID:        ev.RunID,
		Trigger:      uint64(ev.Trigger),
		Pin:          ev.Pin,
		TotalOnSec:   ev.TotalOnSec,
		OnSec:        ev.OnSec,
		OffSec:       ev.OffSec,
		RemainingSec: ev.RemainingSec,
		Started:      ev.Timestamp,
	}
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Schedules = append([]ScheduleInfo(nil), t.snap.Schedules...)
	if t.snap.Active != nil {
		a := *t.snap.Active
		s.Active = &a
	}
	if t.snap.Last != nil {
		l := *t.snap.Last
		s.Last = &l
	}
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
