package activation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sweeney/pump-scheduler/internal/cron"
	"github.com/sweeney/pump-scheduler/internal/gpio"
	"github.com/sweeney/pump-scheduler/internal/schedule"
)

// Options configures an Engine. Zero values use the real clock.
type Options struct {
	Sleep    func(time.Duration)
	Now      func() time.Time
	NewRunID func() string
	Notifier Notifier
	Log      zerolog.Logger
}

// Engine energizes pins through a gpio.Writer.
type Engine struct {
	out      gpio.Writer
	sleep    func(time.Duration)
	now      func() time.Time
	newRunID func() string
	notifier Notifier
	log      zerolog.Logger

	mu   sync.Mutex
	busy map[int]string // pin -> run ID
}

// New creates an Engine writing to out.
func New(out gpio.Writer, opts Options) *Engine {
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewRunID == nil {
		opts.NewRunID = uuid.NewString
	}
	return &Engine{
		out:      out,
		sleep:    opts.Sleep,
		now:      opts.Now,
		newRunID: opts.NewRunID,
		notifier: opts.Notifier,
		log:      opts.Log,
		busy:     map[int]string{},
	}
}

// Run executes the duty cycle of d on behalf of trigger.
func (e *Engine) Run(trigger cron.ID, d schedule.Descriptor) error {
	_, err := e.run(trigger, d.Pin, d.TotalOnSec, d.OnSec, d.OffSec)
	return err
}

// RunDutyCycle powers pin for totalOnSec seconds in bursts of at most onSec
// seconds, resting offSec seconds between bursts. It blocks until the pin
// has been de-energized for the last time.
//
// Negative timings, and onSec == 0 with a positive totalOnSec (which could
// never finish), are rejected with ErrInvalidDutyCycle before the pin is
// touched. A totalOnSec of 0 returns immediately without any burst.
func (e *Engine) RunDutyCycle(pin, totalOnSec, onSec, offSec int) (Summary, error) {
	return e.run(0, pin, totalOnSec, onSec, offSec)
}

func (e *Engine) run(trigger cron.ID, pin, totalOnSec, onSec, offSec int) (Summary, error) {
	base := Event{
		Trigger:    trigger,
		Pin:        pin,
		TotalOnSec: totalOnSec,
		OnSec:      onSec,
		OffSec:     offSec,
	}
	log := e.log.With().Int("pin", pin).Uint64("trigger", uint64(trigger)).Logger()

	if err := checkArgs(pin, totalOnSec, onSec, offSec); err != nil {
		log.Error().Err(err).Msg("refusing duty cycle")
		e.emit(base, EventRunRejected, func(ev *Event) { ev.Reason = err.Error() })
		return Summary{}, err
	}

	runID := e.newRunID()
	if err := e.acquire(pin, runID); err != nil {
		log.Error().Err(err).Msg("refusing duty cycle")
		e.emit(base, EventRunRejected, func(ev *Event) { ev.RunID = runID; ev.Reason = err.Error() })
		return Summary{}, err
	}
	defer e.release(pin)

	base.RunID = runID
	log = log.With().Str("run", runID).Logger()
	log.Info().Msgf("plan: power pin %d for %ds total in cycles of %ds on / %ds off", pin, totalOnSec, onSec, offSec)

	sum := Summary{RunID: runID, Started: e.now()}
	e.emit(base, EventRunStart, func(ev *Event) { ev.RemainingSec = totalOnSec })

	remaining := totalOnSec
	burst := 0
	onAt := e.now()
	for remaining > 0 {
		cycle := min(remaining, onSec)
		burst++

		// Notifiers run outside the energized window: BURST_ON goes out
		// during the rest, stamped with the planned energize time.
		e.emit(base, EventBurstOn, func(ev *Event) {
			ev.Timestamp = onAt
			ev.Burst = burst
			ev.BurstSec = cycle
			ev.RemainingSec = remaining
		})
		e.sleepUntil(onAt)

		if err := e.out.Set(pin, true); err != nil {
			return sum, e.fail(log, base, pin, remaining, fmt.Errorf("energize pin %d: %w", pin, err))
		}
		e.sleep(seconds(cycle))
		if err := e.out.Set(pin, false); err != nil {
			return sum, e.fail(log, base, pin, remaining, fmt.Errorf("de-energize pin %d: %w", pin, err))
		}
		offAt := e.now()

		remaining -= cycle
		sum.Bursts = append(sum.Bursts, seconds(cycle))
		e.emit(base, EventBurstOff, func(ev *Event) {
			ev.Timestamp = offAt
			ev.Burst = burst
			ev.BurstSec = cycle
			ev.RemainingSec = remaining
		})

		if remaining > 0 {
			onAt = offAt.Add(seconds(offSec))
			sum.Rests = append(sum.Rests, seconds(offSec))
		}
	}

	sum.Finished = e.now()
	log.Info().Int("bursts", burst).Dur("took", sum.Finished.Sub(sum.Started)).Msg("duty cycle complete")
	e.emit(base, EventRunComplete, func(ev *Event) { ev.Burst = burst })
	return sum, nil
}

func checkArgs(pin, totalOnSec, onSec, offSec int) error {
	if pin < 0 || totalOnSec < 0 || onSec < 0 || offSec < 0 {
		return fmt.Errorf("%w: pin: %d; total_on_sec: %d; on_sec: %d; off_sec: %d",
			ErrInvalidDutyCycle, pin, totalOnSec, onSec, offSec)
	}
	if onSec == 0 && totalOnSec > 0 {
		return fmt.Errorf("%w: on_sec is 0 but total_on_sec is %d", ErrInvalidDutyCycle, totalOnSec)
	}
	return nil
}

// fail makes a best-effort attempt to leave pin off, then reports err.
func (e *Engine) fail(log zerolog.Logger, base Event, pin, remaining int, err error) error {
	if offErr := e.out.Set(pin, false); offErr != nil {
		log.Error().Err(offErr).Msg("could not de-energize pin after failure")
	}
	log.Error().Err(err).Msg("duty cycle failed")
	e.emit(base, EventRunFailed, func(ev *Event) {
		ev.RemainingSec = remaining
		ev.Reason = err.Error()
	})
	return err
}

func (e *Engine) acquire(pin int, runID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if other, ok := e.busy[pin]; ok {
		return fmt.Errorf("%w: pin %d is running %s", ErrPinBusy, pin, other)
	}
	e.busy[pin] = runID
	return nil
}

func (e *Engine) release(pin int) {
	e.mu.Lock()
	delete(e.busy, pin)
	e.mu.Unlock()
}

// Busy reports whether pin is currently being driven.
func (e *Engine) Busy(pin int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.busy[pin]
	return ok
}

func (e *Engine) emit(base Event, typ EventType, fill func(*Event)) {
	if e.notifier == nil {
		return
	}
	ev := base
	ev.Type = typ
	ev.Timestamp = e.now()
	if fill != nil {
		fill(&ev)
	}
	e.notifier.Notify(ev)
}

// sleepUntil sleeps until t, or not at all once t has passed.
func (e *Engine) sleepUntil(t time.Time) {
	if d := t.Sub(e.now()); d > 0 {
		e.sleep(d)
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
