package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"stealth/pkg/domain"
)

func TestSigners(t *testing.T) {
	a := domain.Identity{1}
	b := domain.Identity{2}

	t.Run("empty context has no signers", func(t *testing.T) {
		ctx := context.Background()
		assert.Empty(t, Signers(ctx))
		assert.False(t, HasSigner(ctx, a))
	})

	t.Run("signers accumulate", func(t *testing.T) {
		ctx := WithSigners(context.Background(), a)
		ctx = WithSigners(ctx, b)
		assert.Equal(t, []domain.Identity{a, b}, Signers(ctx))
		assert.True(t, HasSigner(ctx, a))
		assert.True(t, HasSigner(ctx, b))
		assert.False(t, HasSigner(ctx, domain.Identity{3}))
	})

	t.Run("parent context is not affected", func(t *testing.T) {
		parent := WithSigners(context.Background(), a)
		_ = WithSigners(parent, b)
		assert.Equal(t, []domain.Identity{a}, Signers(parent))
	})
}

func TestNowFallsBackToWallClock(t *testing.T) {
	fixed := time.Date(2025, 12, 3, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, fixed, Now(WithTime(context.Background(), fixed)))
	assert.WithinDuration(t, time.Now(), Now(context.Background()), time.Second)
}

func TestRequestMetadata(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithClientMetadata(ctx, "10.0.0.1", "curl/8")
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, "10.0.0.1", ClientIP(ctx))
	assert.Equal(t, "curl/8", UserAgent(ctx))
}
