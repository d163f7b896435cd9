package block

import (
	"context"
	"testing"

	"github.com/hashmesh/hashmesh/pkg/digest"
)

type fakeRemote struct {
	data     map[digest.Digest][]byte
	notified []digest.Digest
	getCalls int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{data: make(map[digest.Digest][]byte)}
}

func (f *fakeRemote) Get(_ context.Context, d digest.Digest) ([]byte, bool, error) {
	f.getCalls++
	v, ok := f.data[d]
	return v, ok, nil
}

func (f *fakeRemote) NotifyLocalPut(_ context.Context, d digest.Digest, _ []byte) {
	f.notified = append(f.notified, d)
}

func TestFacadeGetPrefersLocal(t *testing.T) {
	ctx := context.Background()
	local := NewMemStore()
	remote := newFakeRemote()
	f := NewFacade(local, remote)

	data := []byte("local content")
	d := digest.Sum(data)
	if _, err := local.Put(ctx, d, data); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, ok, err := f.Get(ctx, d)
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if string(got) != string(data) {
		t.Errorf("got %q, want %q", got, data)
	}
	if remote.getCalls != 0 {
		t.Errorf("remote should not be consulted when local hits, got %d calls", remote.getCalls)
	}
}

func TestFacadeGetFallsThroughToRemoteAndWritesThrough(t *testing.T) {
	ctx := context.Background()
	local := NewMemStore()
	remote := newFakeRemote()
	f := NewFacade(local, remote)

	data := []byte("remote content")
	d := digest.Sum(data)
	remote.data[d] = data

	got, ok, err := f.Get(ctx, d)
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if string(got) != string(data) {
		t.Errorf("got %q, want %q", got, data)
	}

	// Second Get should now hit local, without another remote call.
	if _, _, err := f.Get(ctx, d); err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if remote.getCalls != 1 {
		t.Errorf("expected exactly 1 remote Get (write-through), got %d", remote.getCalls)
	}
}

func TestFacadePutNotifiesRemote(t *testing.T) {
	ctx := context.Background()
	local := NewMemStore()
	remote := newFakeRemote()
	f := NewFacade(local, remote)

	data := []byte("new block")
	d := digest.Sum(data)

	ok, err := f.Put(ctx, d, data)
	if err != nil || !ok {
		t.Fatalf("Put failed: ok=%v err=%v", ok, err)
	}
	if len(remote.notified) != 1 || remote.notified[0] != d {
		t.Errorf("expected remote to be notified of %v, got %v", d, remote.notified)
	}
}

func TestFacadeGetMissWithNoRemote(t *testing.T) {
	ctx := context.Background()
	f := NewFacade(NewMemStore(), nil)

	_, ok, err := f.Get(ctx, digest.Sum([]byte("absent")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected miss with no remote configured")
	}
}
