package gpio

import (
	"fmt"
	"sync"
	"time"
)

// Transition is one recorded call to Set.
type Transition struct {
	Pin  int
	On   bool
	Time time.Time
}

// FakeWriter is a test double that records every transition.
type FakeWriter struct {
	mu sync.Mutex

	// Transitions contains every successful Set call in order.
	Transitions []Transition

	// Now stamps transitions. Defaults to time.Now.
	Now func() time.Time

	// SetError, if set, is returned by Set for any pin in FailPins
	// (or every pin when FailPins is empty). Failed calls are not recorded.
	SetError error
	FailPins []int

	// FailOnlyOn restricts SetError to calls that energize.
	FailOnlyOn bool

	// Closed tracks if Close was called.
	Closed bool

	state map[int]bool
}

// NewFakeWriter creates a FakeWriter with all pins off.
func NewFakeWriter() *FakeWriter {
	return &FakeWriter{state: map[int]bool{}}
}

// Set records the transition.
func (f *FakeWriter) Set(pin int, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Closed {
		return fmt.Errorf("gpio: set pin %d on closed writer", pin)
	}
	if f.SetError != nil && f.fails(pin) && (on || !f.FailOnlyOn) {
		return f.SetError
	}

	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	if f.state == nil {
		f.state = map[int]bool{}
	}
	f.state[pin] = on
	f.Transitions = append(f.Transitions, Transition{Pin: pin, On: on, Time: now()})
	return nil
}

func (f *FakeWriter) fails(pin int) bool {
	if len(f.FailPins) == 0 {
		return true
	}
	for _, p := range f.FailPins {
		if p == pin {
			return true
		}
	}
	return false
}

// IsOn reports the last value written to pin.
func (f *FakeWriter) IsOn(pin int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state[pin]
}

// Close turns every pin off and marks the writer as closed.
func (f *FakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for pin := range f.state {
		f.state[pin] = false
	}
	f.Closed = true
	return nil
}

// Reset clears recorded transitions and state.
func (f *FakeWriter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Transitions = nil
	f.state = map[int]bool{}
	f.Closed = false
	f.SetError = nil
	f.FailPins = nil
	f.FailOnlyOn = false
}
