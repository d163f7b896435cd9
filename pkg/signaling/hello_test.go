package signaling

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hashmesh/hashmesh/pkg/exchange"
)

func TestHelloPublisherWrapsEnvelopeAsHelloKind(t *testing.T) {
	bus := NewMemBus()
	recv := make(chan Envelope, 1)
	bus.Subscribe(func(e Envelope) { recv <- e })

	pub := HelloPublisher{Bus: bus}
	err := pub.Publish(context.Background(), exchange.HelloEnvelope{
		ConnectionUUID: "conn-1",
		PoolsWanted:    []exchange.PoolName{exchange.PoolOther},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	env := <-recv
	if env.Kind != KindHello {
		t.Errorf("expected KindHello, got %q", env.Kind)
	}
	if env.PeerUUID != "conn-1" {
		t.Errorf("got PeerUUID %q", env.PeerUUID)
	}

	var decoded exchange.HelloEnvelope
	if err := json.Unmarshal(env.Payload, &decoded); err != nil {
		t.Fatalf("payload did not decode: %v", err)
	}
	if decoded.ConnectionUUID != "conn-1" {
		t.Errorf("decoded ConnectionUUID %q", decoded.ConnectionUUID)
	}
}
