package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecord(t *testing.T) {
	relay := NewRelay(nil, nil, "stealth.registry.audit", WithBatchSize(0), WithInterval(0))
	created := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	rec := relay.Record(OutboxRow{
		ID:            "row-1",
		AggregateType: "registry_entry",
		AggregateID:   "addr",
		EventType:     "handle_created",
		Payload:       []byte(`{"action":"handle_created"}`),
		CreatedAt:     created,
	})

	assert.Equal(t, "stealth.registry.audit", rec.Topic)
	assert.Equal(t, []byte("addr"), rec.Key)
	assert.Equal(t, created, rec.Timestamp)
	assert.JSONEq(t, `{"action":"handle_created"}`, string(rec.Value))

	headers := map[string]string{}
	for _, h := range rec.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "handle_created", headers["event_type"])
	assert.Equal(t, "row-1", headers["outbox_id"])

	assert.Equal(t, 100, relay.batchSize)
	assert.Equal(t, time.Second, relay.interval)
}
