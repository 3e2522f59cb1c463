// Package gpio drives output pins (pump relays) with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Writer energizes and de-energizes output pins.
type Writer interface {
	// Set drives pin on (energized) or off. Pins are BCM line offsets.
	Set(pin int, on bool) error

	// Close de-energizes every pin it touched and releases GPIO resources.
	Close() error
}

// DefaultChip is the GPIO chip used on Raspberry Pi boards.
const DefaultChip = "gpiochip0"

// DefaultPumpPin is the BCM pin of the first pump relay.
const DefaultPumpPin = 16
