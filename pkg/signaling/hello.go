package signaling

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashmesh/hashmesh/pkg/exchange"
)

// HelloPublisher adapts a Bus into the narrow exchange.Publisher seam the
// coordinator advertises through, wrapping each hello envelope's payload
// as opaque JSON the receiving end can interpret without this package
// needing to know about pool semantics.
type HelloPublisher struct {
	Bus Bus
}

func (h HelloPublisher) Publish(ctx context.Context, e exchange.HelloEnvelope) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return h.Bus.Publish(ctx, Envelope{
		Kind:     KindHello,
		PeerUUID: e.ConnectionUUID,
		Payload:  payload,
		TS:       time.Now(),
	})
}

var _ exchange.Publisher = HelloPublisher{}
