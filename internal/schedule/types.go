// Package schedule holds the pin schedule data model and the validation of
// raw schedule documents. It has no knowledge of cron evaluation or GPIO.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Document field names.
const (
	KeyPinConfigs = "pin_configs"
	KeyPin        = "pin"
	KeyTotalOnSec = "total_on_sec"
	KeyOnSec      = "on_sec"
	KeyOffSec     = "off_sec"
	KeyCronStr    = "cron_str"
)

// ErrInvalidConfig is matched by every ValidationError.
var ErrInvalidConfig = errors.New("invalid pin schedule")

// Descriptor is one output's duty-cycle plan and the cron expression that
// starts it. Descriptors are immutable once registered.
type Descriptor struct {
	Pin int `json:"pin"`
	// Power on for TotalOnSec in bursts of OnSec, resting OffSec in between.
	TotalOnSec int `json:"total_on_sec"`
	OnSec      int `json:"on_sec"`
	OffSec     int `json:"off_sec"`

	TriggerExpression string `json:"cron_str"`
}

// ValidationError describes the first invalid field of a pin config entry.
// Index is -1 when the descriptor did not come from a document.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid pin schedule: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid pin schedule at #%d: %s %s", e.Index, e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrInvalidConfig) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Validate checks that all numeric fields are non-negative and the trigger
// expression is not blank.
func (d Descriptor) Validate() error {
	return d.validate(-1)
}

func (d Descriptor) validate(index int) error {
	checks := []struct {
		field string
		value int
	}{
		{KeyPin, d.Pin},
		{KeyTotalOnSec, d.TotalOnSec},
		{KeyOnSec, d.OnSec},
		{KeyOffSec, d.OffSec},
	}
	for _, c := range checks {
		if c.value < 0 {
			return &ValidationError{Index: index, Field: c.field, Reason: fmt.Sprintf("must be >= 0, got %d", c.value)}
		}
	}
	if strings.TrimSpace(d.TriggerExpression) == "" {
		return &ValidationError{Index: index, Field: KeyCronStr, Reason: "must not be empty"}
	}
	return nil
}

// Cycles returns the number of bursts a run of d performs. It returns -1 when
// the run can never finish (OnSec is 0 but TotalOnSec is not).
func (d Descriptor) Cycles() int {
	if d.TotalOnSec <= 0 {
		return 0
	}
	if d.OnSec <= 0 {
		return -1
	}
	return (d.TotalOnSec + d.OnSec - 1) / d.OnSec
}

// Duration returns the wall time of one full run: energized time plus the
// rests between bursts. Zero for runs that never finish.
func (d Descriptor) Duration() time.Duration {
	n := d.Cycles()
	if n <= 0 {
		return 0
	}
	secs := d.TotalOnSec + (n-1)*d.OffSec
	return time.Duration(secs) * time.Second
}

// String formats d for log lines.
func (d Descriptor) String() string {
	return fmt.Sprintf("pin %d for %ds total in cycles of %ds on / %ds off at %q",
		d.Pin, d.TotalOnSec, d.OnSec, d.OffSec, d.TriggerExpression)
}
