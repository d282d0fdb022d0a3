package audit

import "time"

// Payload is the JSON document published for an event, whether through the
// Postgres outbox or the Redis audit stream.
type Payload struct {
	ID                string `json:"id"`
	Category          string `json:"category"`
	Timestamp         string `json:"timestamp"`
	Action            string `json:"action"`
	Handle            string `json:"handle,omitempty"`
	Address           string `json:"address,omitempty"`
	Actor             string `json:"actor,omitempty"`
	Authority         string `json:"authority,omitempty"`
	PreviousAuthority string `json:"previous_authority,omitempty"`
	Destination       string `json:"destination,omitempty"`
	Reason            string `json:"reason,omitempty"`
	Severity          string `json:"severity,omitempty"`
	IP                string `json:"ip,omitempty"`
	RequestID         string `json:"request_id,omitempty"`
}

// NewPayload builds the published form of event under id. The action decides
// the category; the field on event is advisory.
func NewPayload(id string, event Event) Payload {
	return Payload{
		ID:                id,
		Category:          string(AuditEvent(event.Action).Category()),
		Timestamp:         event.Timestamp.UTC().Format(time.RFC3339Nano),
		Action:            event.Action,
		Handle:            event.Handle,
		Address:           event.Address,
		Actor:             event.Actor,
		Authority:         event.Authority,
		PreviousAuthority: event.PreviousAuthority,
		Destination:       event.Destination,
		Reason:            event.Reason,
		Severity:          string(event.Severity),
		IP:                event.IP,
		RequestID:         event.RequestID,
	}
}

// AggregateKey groups events for ordering: the entry address when there is
// one, otherwise the event id.
func (p Payload) AggregateKey() (aggregateType, aggregateID string) {
	if p.Address != "" {
		return "registry_entry", p.Address
	}
	return "audit", p.ID
}
