package gpio

import (
	"errors"
	"testing"
	"time"
)

func TestFakeWriterRecordsTransitions(t *testing.T) {
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f := NewFakeWriter()
	f.Now = func() time.Time { return clock }

	if err := f.Set(16, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.IsOn(16) {
		t.Error("pin 16 should be on")
	}

	clock = clock.Add(4 * time.Second)
	if err := f.Set(16, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.IsOn(16) {
		t.Error("pin 16 should be off")
	}

	if len(f.Transitions) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(f.Transitions))
	}
	if !f.Transitions[0].On || f.Transitions[1].On {
		t.Errorf("unexpected transition order: %+v", f.Transitions)
	}
	if got := f.Transitions[1].Time.Sub(f.Transitions[0].Time); got != 4*time.Second {
		t.Errorf("expected 4s between transitions, got %v", got)
	}
}

func TestFakeWriterUntouchedPinIsOff(t *testing.T) {
	f := NewFakeWriter()
	if f.IsOn(5) {
		t.Error("untouched pin should read off")
	}
}

func TestFakeWriterError(t *testing.T) {
	f := NewFakeWriter()
	f.SetError = errors.New("simulated error")

	err := f.Set(16, true)
	if err == nil || err.Error() != "simulated error" {
		t.Fatalf("expected simulated error, got %v", err)
	}
	if len(f.Transitions) != 0 {
		t.Errorf("failed set should not be recorded, got %d", len(f.Transitions))
	}
}

func TestFakeWriterFailPins(t *testing.T) {
	f := NewFakeWriter()
	f.SetError = errors.New("simulated error")
	f.FailPins = []int{5}

	if err := f.Set(16, true); err != nil {
		t.Errorf("pin 16 should not fail: %v", err)
	}
	if err := f.Set(5, true); err == nil {
		t.Error("pin 5 should fail")
	}
}

func TestFakeWriterFailOnlyOn(t *testing.T) {
	f := NewFakeWriter()
	f.SetError = errors.New("simulated error")
	f.FailOnlyOn = true

	if err := f.Set(16, true); err == nil {
		t.Error("energizing should fail")
	}
	if err := f.Set(16, false); err != nil {
		t.Errorf("de-energizing should succeed: %v", err)
	}
}

func TestFakeWriterClose(t *testing.T) {
	f := NewFakeWriter()
	f.Set(16, true)

	if f.Closed {
		t.Error("should not be closed initially")
	}
	if err := f.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !f.Closed {
		t.Error("should be closed after Close()")
	}
	if f.IsOn(16) {
		t.Error("Close should turn pins off")
	}
	if err := f.Set(16, true); err == nil {
		t.Error("set after close should fail")
	}
}

func TestFakeWriterReset(t *testing.T) {
	f := NewFakeWriter()
	f.Set(16, true)
	f.Close()

	f.Reset()

	if f.Closed || len(f.Transitions) != 0 || f.IsOn(16) {
		t.Errorf("reset did not clear state: closed=%v transitions=%d", f.Closed, len(f.Transitions))
	}
	if err := f.Set(16, true); err != nil {
		t.Errorf("set after reset: %v", err)
	}
}
