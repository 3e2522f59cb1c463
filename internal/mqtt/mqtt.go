// Package mqtt publishes activation and lifecycle events with abstraction
// for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/pump-scheduler/internal/activation"
)

// Topic is the MQTT topic for activation events.
const Topic = "irrigation/pump-scheduler/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "irrigation/pump-scheduler/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends an activation event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event activation.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT", "CONFIG_APPLIED"
	Reason     string // e.g., "SIGTERM", or the config error
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Activation ActivationPayload `json:"activation"`
}

// ActivationPayload contains the activation event details.
type ActivationPayload struct {
	Timestamp    string      `json:"timestamp"`
	Event        string      `json:"event"`
	RunID        string      `json:"run_id,omitempty"`
	TriggerID    uint64      `json:"trigger_id,omitempty"`
	Pin          int         `json:"pin"`
	Burst        int         `json:"burst,omitempty"`
	BurstSec     int         `json:"burst_sec,omitempty"`
	RemainingSec int         `json:"remaining_sec"`
	Plan         PlanPayload `json:"plan"`
	Reason       string      `json:"reason,omitempty"`
}

// PlanPayload is the duty cycle being run.
type PlanPayload struct {
	TotalOnSec int `json:"total_on_sec"`
	OnSec      int `json:"on_sec"`
	OffSec     int `json:"off_sec"`
}

// FormatPayload creates the JSON payload for an activation event.
func FormatPayload(event activation.Event) ([]byte, error) {
	payload := Payload{
		Activation: ActivationPayload{
			Timestamp:    event.Timestamp.UTC().Format(time.RFC3339),
			Event:        string(event.Type),
			RunID:        event.RunID,
			TriggerID:    uint64(event.Trigger),
			Pin:          event.Pin,
			Burst:        event.Burst,
			BurstSec:     event.BurstSec,
			RemainingSec: event.RemainingSec,
			Plan: PlanPayload{
				TotalOnSec: event.TotalOnSec,
				OnSec:      event.OnSec,
				OffSec:     event.OffSec,
			},
			Reason: event.Reason,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
