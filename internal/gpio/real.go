//go:build linux

package gpio

import (
	"fmt"
	"sort"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// Options configures a RealWriter.
type Options struct {
	// Chip is the GPIO chip name. Defaults to DefaultChip.
	Chip string
	// ActiveLow inverts the physical level, for relay boards that switch
	// on when the input is pulled low.
	ActiveLow bool
}

// RealWriter drives output pins on actual hardware using the Linux GPIO
// character device. Lines are requested on first use.
type RealWriter struct {
	mu        sync.Mutex
	chip      *gpiocdev.Chip
	activeLow bool
	lines     map[int]*gpiocdev.Line
}

// NewRealWriter opens the GPIO chip. No lines are requested yet.
func NewRealWriter(opts Options) (*RealWriter, error) {
	if opts.Chip == "" {
		opts.Chip = DefaultChip
	}
	chip, err := gpiocdev.NewChip(opts.Chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	return &RealWriter{
		chip:      chip,
		activeLow: opts.ActiveLow,
		lines:     map[int]*gpiocdev.Line{},
	}, nil
}

// Prepare requests pins as outputs and drives them off, so pumps are known
// to be idle before any schedule runs.
func (w *RealWriter) Prepare(pins ...int) error {
	for _, pin := range pins {
		if err := w.Set(pin, false); err != nil {
			return err
		}
	}
	return nil
}

// Set drives pin to the logical on/off level.
func (w *RealWriter) Set(pin int, on bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	line, err := w.lineLocked(pin)
	if err != nil {
		return err
	}
	v := 0
	if on {
		v = 1
	}
	if err := line.SetValue(v); err != nil {
		return fmt.Errorf("set pin %d: %w", pin, err)
	}
	return nil
}

func (w *RealWriter) lineLocked(pin int) (*gpiocdev.Line, error) {
	if line, ok := w.lines[pin]; ok {
		return line, nil
	}
	if w.chip == nil {
		return nil, fmt.Errorf("request pin %d: gpio chip closed", pin)
	}
	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0), gpiocdev.WithConsumer("pump-scheduler")}
	if w.activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	line, err := w.chip.RequestLine(pin, opts...)
	if err != nil {
		return nil, fmt.Errorf("request pin %d: %w", pin, err)
	}
	w.lines[pin] = line
	return line, nil
}

// Close drives every requested pin off and releases GPIO resources.
// Pins are then reconfigured to input with pull-down (matching Pi boot
// defaults) so relays stay released across a reboot.
func (w *RealWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	pins := make([]int, 0, len(w.lines))
	for pin := range w.lines {
		pins = append(pins, pin)
	}
	sort.Ints(pins)

	for _, pin := range pins {
		line := w.lines[pin]
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("release pin %d: %w", pin, err))
		}
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	w.lines = map[int]*gpiocdev.Line{}

	if w.chip != nil {
		if err := w.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		w.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
