package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAnnouncer struct {
	mu      sync.Mutex
	online  []string
	offline []string
}

func (a *recordingAnnouncer) UserOnline(userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.online = append(a.online, userID)
}

func (a *recordingAnnouncer) UserOffline(userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.offline = append(a.offline, userID)
}

func TestRegistryBroadcastsOnlyOnEdges(t *testing.T) {
	ctx := context.Background()
	ann := &recordingAnnouncer{}
	reg := NewRegistry(NewMemPresence(), ann)

	reg.Register(ctx, "alice", "c1")
	reg.Register(ctx, "alice", "c2")
	assert.Equal(t, []string{"alice"}, ann.online, "second connection must not re-announce")

	reg.Unregister(ctx, "alice", "c1")
	assert.Empty(t, ann.offline, "offline only after the last connection drops")

	reg.Unregister(ctx, "alice", "c2")
	assert.Equal(t, []string{"alice"}, ann.offline)
}

func TestRegistryDuplicateRegistrations(t *testing.T) {
	ctx := context.Background()
	ann := &recordingAnnouncer{}
	reg := NewRegistry(NewMemPresence(), ann)

	reg.Register(ctx, "bob", "c1")
	reg.Register(ctx, "bob", "c1")
	assert.Len(t, ann.online, 1)

	reg.Unregister(ctx, "bob", "c1")
	reg.Unregister(ctx, "bob", "c1")
	assert.Len(t, ann.offline, 1, "double unregister must not announce twice")
}

func TestRegistryUnregisterUnknownConn(t *testing.T) {
	ctx := context.Background()
	ann := &recordingAnnouncer{}
	reg := NewRegistry(NewMemPresence(), ann)

	reg.Unregister(ctx, "carol", "ghost")
	assert.Empty(t, ann.offline)
}

func TestMemPresenceListOnline(t *testing.T) {
	ctx := context.Background()
	p := NewMemPresence()

	_, _, err := p.AddAndCount(ctx, "alice", "c1")
	require.NoError(t, err)
	_, _, err = p.AddAndCount(ctx, "bob", "c2")
	require.NoError(t, err)

	online, err := p.ListOnline(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, online)

	_, _, err = p.RemoveAndCount(ctx, "bob", "c2")
	require.NoError(t, err)
	online, err = p.ListOnline(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, online)
}

type touchyStore struct {
	*MemPresence
	touched []string
	err     error
}

func (s *touchyStore) Touch(_ context.Context, userID string) error {
	s.touched = append(s.touched, userID)
	return s.err
}

func TestRegistryTouchRefreshesStore(t *testing.T) {
	ctx := context.Background()
	store := &touchyStore{MemPresence: NewMemPresence()}
	reg := NewRegistry(store, &recordingAnnouncer{})

	reg.Register(ctx, "alice", "c1")
	reg.Touch(ctx, "alice")
	reg.Touch(ctx, "alice")
	assert.Equal(t, []string{"alice", "alice"}, store.touched)
}

func TestRegistryTouchSwallowsStoreFailure(t *testing.T) {
	ctx := context.Background()
	store := &touchyStore{MemPresence: NewMemPresence(), err: fmt.Errorf("down")}
	reg := NewRegistry(store, &recordingAnnouncer{})

	reg.Touch(ctx, "alice")
	assert.Equal(t, []string{"alice"}, store.touched)
}

func TestRegistryConcurrentConnections(t *testing.T) {
	ctx := context.Background()
	ann := &recordingAnnouncer{}
	reg := NewRegistry(NewMemPresence(), ann)

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reg.Register(ctx, "dave", fmt.Sprintf("c%d", i))
		}(i)
	}
	wg.Wait()
	assert.Len(t, ann.online, 1, "exactly one online edge for a burst of connections")

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reg.Unregister(ctx, "dave", fmt.Sprintf("c%d", i))
		}(i)
	}
	wg.Wait()
	assert.Len(t, ann.offline, 1, "exactly one offline edge when all connections drop")
}
