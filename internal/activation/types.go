// Package activation runs duty cycles on output pins. A run blocks the
// caller for its full duration; time is injectable through Options.
package activation

import (
	"errors"
	"time"

	"github.com/sweeney/pump-scheduler/internal/cron"
)

// ErrInvalidDutyCycle is returned, before any output is touched, for
// negative timings and for runs that could never finish.
var ErrInvalidDutyCycle = errors.New("invalid duty cycle")

// ErrPinBusy is returned when a run is requested for a pin that is already
// being driven by another run.
var ErrPinBusy = errors.New("pin busy")

// EventType identifies a step of a run.
type EventType string

const (
	EventRunStart    EventType = "RUN_START"
	EventBurstOn     EventType = "BURST_ON"
	EventBurstOff    EventType = "BURST_OFF"
	EventRunComplete EventType = "RUN_COMPLETE"
	EventRunRejected EventType = "RUN_REJECTED"
	EventRunFailed   EventType = "RUN_FAILED"
)

// Event describes a step of a run, for publishing and status.
type Event struct {
	Timestamp time.Time
	Type      EventType
	RunID     string
	// Trigger is 0 for manual runs.
	Trigger    cron.ID
	Pin        int
	TotalOnSec int
	OnSec      int
	OffSec     int
	// Burst is the 1-based burst number (BURST_ON/BURST_OFF only).
	Burst    int
	BurstSec int
	// RemainingSec is the energized time still owed after this step.
	RemainingSec int
	Reason       string
}

// Notifier receives run events. Notify is called synchronously from the
// running duty cycle, never while a pin is energized, so a slow Notify can
// lengthen a rest but never a burst.
type Notifier interface {
	Notify(event Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

// Notify calls f(event).
func (f NotifierFunc) Notify(event Event) { f(event) }

// Summary is the outcome of a run.
type Summary struct {
	RunID string
	// Bursts holds the energized length of each burst.
	Bursts []time.Duration
	// Rests holds the length of each rest between bursts.
	Rests    []time.Duration
	Started  time.Time
	Finished time.Time
}
