package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewPayload(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 8, time.FixedZone("CET", 3600))

	t.Run("category follows the action", func(t *testing.T) {
		p := NewPayload("id-1", Event{Category: CategorySecurity, Action: string(EventHandleCreated), Timestamp: at})

		assert.Equal(t, string(CategoryCompliance), p.Category)
		assert.Equal(t, "2026-03-04T04:06:07.000000008Z", p.Timestamp)
	})

	t.Run("entry events are keyed by address", func(t *testing.T) {
		p := NewPayload("id-2", Event{Action: string(EventDestinationSet), Address: "addr"})

		kind, id := p.AggregateKey()
		assert.Equal(t, "registry_entry", kind)
		assert.Equal(t, "addr", id)
	})

	t.Run("events without an entry are keyed by id", func(t *testing.T) {
		p := NewPayload("id-3", Event{Action: string(EventAuthorizationDenied)})

		kind, id := p.AggregateKey()
		assert.Equal(t, "audit", kind)
		assert.Equal(t, "id-3", id)
	})
}
