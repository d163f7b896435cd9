package resolver

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/hashmesh/hashmesh/pkg/digest"
)

func testIdentity(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return encodeIdentity(pub), priv
}

func testCID(b byte) digest.CID {
	var d digest.Digest
	d[0] = b
	return digest.FromDigest(d)
}

func TestResolveMiss(t *testing.T) {
	r := NewMemResolver()
	cid, ok, err := r.Resolve(context.Background(), "nobody", "root")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ok || cid != nil {
		t.Fatalf("expected a miss, got %v %v", cid, ok)
	}
}

func TestPublishThenResolve(t *testing.T) {
	r := NewMemResolver()
	id, priv := testIdentity(t)
	cid := testCID(1)

	ok, err := r.Publish(context.Background(), id, priv, "root", cid, PublishOptions{Visibility: VisibilityPublic})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !ok {
		t.Fatalf("expected first publish to succeed")
	}

	got, found, err := r.Resolve(context.Background(), id, "root")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !found {
		t.Fatalf("expected to find published value")
	}
	if got.Digest != cid.Digest {
		t.Errorf("resolved digest mismatch")
	}
}

func TestPublishRejectsMismatchedIdentity(t *testing.T) {
	r := NewMemResolver()
	_, priv := testIdentity(t)
	cid := testCID(1)

	_, err := r.Publish(context.Background(), "not-the-real-identity", priv, "root", cid, PublishOptions{})
	if err == nil {
		t.Fatalf("expected an error for a mismatched identity")
	}
}

func TestPublishRejectsStaleVersion(t *testing.T) {
	r := NewMemResolver()
	id, priv := testIdentity(t)

	if ok, err := r.Publish(context.Background(), id, priv, "root", testCID(1), PublishOptions{}); err != nil || !ok {
		t.Fatalf("first publish: ok=%v err=%v", ok, err)
	}
	if ok, err := r.Publish(context.Background(), id, priv, "root", testCID(2), PublishOptions{}); err != nil || !ok {
		t.Fatalf("second publish: ok=%v err=%v", ok, err)
	}

	m := r
	m.mu.Lock()
	stale := m.records[Key(id, "root")]
	stale.Version = 1
	m.mu.Unlock()

	ok, err := r.Publish(context.Background(), id, priv, "root", testCID(3), PublishOptions{})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if ok {
		t.Fatalf("expected a stale version to be rejected")
	}
}

func TestSubscribeDeliversCurrentValueImmediately(t *testing.T) {
	r := NewMemResolver()
	id, priv := testIdentity(t)
	cid := testCID(5)

	if _, err := r.Publish(context.Background(), id, priv, "root", cid, PublishOptions{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var got []digest.CID
	unsub, err := r.Subscribe(context.Background(), id, "root", func(c digest.CID) {
		got = append(got, c)
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	if len(got) != 1 {
		t.Fatalf("expected the current value delivered immediately, got %d callbacks", len(got))
	}
	if got[0].Digest != cid.Digest {
		t.Errorf("delivered value mismatch")
	}
}

func TestSubscribeReceivesSubsequentPublishes(t *testing.T) {
	r := NewMemResolver()
	id, priv := testIdentity(t)

	var got []digest.CID
	unsub, err := r.Subscribe(context.Background(), id, "root", func(c digest.CID) {
		got = append(got, c)
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	if len(got) != 0 {
		t.Fatalf("expected no immediate delivery when there is no value yet, got %d", len(got))
	}

	if _, err := r.Publish(context.Background(), id, priv, "root", testCID(1), PublishOptions{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := r.Publish(context.Background(), id, priv, "root", testCID(2), PublishOptions{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	r := NewMemResolver()
	id, priv := testIdentity(t)

	count := 0
	unsub, err := r.Subscribe(context.Background(), id, "root", func(digest.CID) { count++ })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	unsub()

	if _, err := r.Publish(context.Background(), id, priv, "root", testCID(1), PublishOptions{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no deliveries after unsubscribe, got %d", count)
	}
}

func TestListStreamsAllLabelsForIdentity(t *testing.T) {
	r := NewMemResolver()
	id, priv := testIdentity(t)

	labels := []string{"root", "www", " Root"}
	for i, label := range labels {
		if _, err := r.Publish(context.Background(), id, priv, label, testCID(byte(i+1)), PublishOptions{}); err != nil {
			t.Fatalf("Publish(%q): %v", label, err)
		}
	}

	seen := make(map[string]bool)
	err := r.List(context.Background(), id, func(e Entry) {
		seen[e.Label] = true
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	if len(seen) != len(labels) {
		t.Fatalf("expected %d distinct labels, got %d: %v", len(labels), len(seen), seen)
	}
	for _, label := range labels {
		if !seen[label] {
			t.Errorf("missing label %q in List output", label)
		}
	}
}

func TestLabelsWithDifferentCaseAreDistinctKeys(t *testing.T) {
	r := NewMemResolver()
	id, priv := testIdentity(t)

	if _, err := r.Publish(context.Background(), id, priv, "Root", testCID(1), PublishOptions{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := r.Publish(context.Background(), id, priv, "root", testCID(2), PublishOptions{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	upper, found, err := r.Resolve(context.Background(), id, "Root")
	if err != nil || !found {
		t.Fatalf("Resolve(Root): found=%v err=%v", found, err)
	}
	lower, found, err := r.Resolve(context.Background(), id, "root")
	if err != nil || !found {
		t.Fatalf("Resolve(root): found=%v err=%v", found, err)
	}
	if upper.Digest == lower.Digest {
		t.Fatalf("expected differently-cased labels to resolve to different values")
	}
}
