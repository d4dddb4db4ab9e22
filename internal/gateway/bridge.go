package gateway

import (
	"context"
	"log"

	"github.com/sksarvesh007/gpuflow/internal/models"
)

// Sender is the registry surface the bridge writes to.
type Sender interface {
	Send(machineID string, msg []byte) bool
}

// Subscription is the bus surface the bridge consumes.
type Subscription interface {
	Run(ctx context.Context, fn func(ev models.DispatchEvent, raw []byte)) error
}

// Bridge is the decoupling piece: the dispatcher that made a claim may
// run in any process, but only the gateway holding the socket can
// deliver it. The bridge subscribes to the shared channel and forwards
// each event, verbatim, to the local registry.
type Bridge struct {
	Sub      Subscription
	Registry Sender
}

func NewBridge(sub Subscription, reg Sender) *Bridge {
	return &Bridge{Sub: sub, Registry: reg}
}

// Run consumes the subscription until ctx is cancelled. Events for
// machines this gateway does not hold are dropped; that is the known
// durability gap, so every drop is logged.
func (b *Bridge) Run(ctx context.Context) error {
	return b.Sub.Run(ctx, func(ev models.DispatchEvent, raw []byte) {
		if !b.Registry.Send(ev.MachineID, raw) {
			log.Printf("bridge: dropping %s for machine %s (job %s): no live connection",
				ev.Event, ev.MachineID, ev.JobID)
		}
	})
}
