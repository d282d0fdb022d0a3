package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "stealth/pkg/platform/audit"
	"stealth/pkg/platform/audit/store/memory"
	"stealth/pkg/requestcontext"
)

func TestRingBufferEvictsOldest(t *testing.T) {
	b := newRingBuffer(2)
	assert.False(t, b.push(audit.SecurityEvent{Handle: "a"}))
	assert.False(t, b.push(audit.SecurityEvent{Handle: "b"}))
	assert.True(t, b.push(audit.SecurityEvent{Handle: "c"}))

	got := b.take(10)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Handle)
	assert.Equal(t, "c", got[1].Handle)
	assert.Equal(t, int64(1), b.droppedCount())
	assert.Zero(t, b.len())
}

func TestPublisherDrainsToStore(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := New(store, 16)

	ctx := requestcontext.WithClientMetadata(context.Background(), "10.0.0.1", "test")
	pub.Emit(ctx, audit.SecurityEvent{
		Action: string(audit.EventAuthorizationDenied),
		Handle: "ariel",
		Reason: "missing proof",
	})

	require.Eventually(t, func() bool {
		events, _ := store.ListByHandle(context.Background(), "ariel")
		return len(events) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, pub.Close())
	events, err := store.ListByHandle(context.Background(), "ariel")
	require.NoError(t, err)
	assert.Equal(t, audit.CategorySecurity, events[0].Category)
	assert.Equal(t, "10.0.0.1", events[0].IP)
	assert.Equal(t, audit.SeverityWarning, events[0].Severity)
}

func TestPublisherCloseFlushes(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := New(store, 128)
	for range 100 {
		pub.Emit(context.Background(), audit.SecurityEvent{Action: string(audit.EventUnauthorizedChange), Handle: "h"})
	}
	require.NoError(t, pub.Close())
	require.NoError(t, pub.Close())

	events, err := store.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 100)
	assert.Zero(t, pub.Pending())
}
