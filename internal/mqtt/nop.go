package mqtt

import "github.com/sweeney/pump-scheduler/internal/activation"

// NopPublisher discards everything. Used when no broker is configured.
type NopPublisher struct{}

var (
	_ Publisher        = NopPublisher{}
	_ ConnectionStatus = NopPublisher{}
)

func (NopPublisher) Publish(activation.Event) error  { return nil }
func (NopPublisher) PublishSystem(SystemEvent) error { return nil }
func (NopPublisher) Close() error                    { return nil }
func (NopPublisher) IsConnected() bool               { return false }
