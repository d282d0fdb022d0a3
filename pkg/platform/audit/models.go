package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// Categories drive retention and delivery guarantees.
type EventCategory string

const (
	// CategoryCompliance covers state changes of the registry. These are
	// persisted fail-closed: if the event cannot be written, the change
	// must not commit.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers rejected attempts. Delivery is best effort
	// through a bounded buffer.
	CategorySecurity EventCategory = "security"
)

type AuditEvent string

const (
	EventHandleCreated        AuditEvent = "handle_created"
	EventAuthorityTransferred AuditEvent = "authority_transferred"
	EventDestinationSet       AuditEvent = "destination_set"

	EventAuthorizationDenied AuditEvent = "authorization_denied"
	EventUnauthorizedChange  AuditEvent = "unauthorized_change"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventHandleCreated:        CategoryCompliance,
	EventAuthorityTransferred: CategoryCompliance,
	EventDestinationSet:       CategoryCompliance,

	EventAuthorizationDenied: CategorySecurity,
	EventUnauthorizedChange:  CategorySecurity,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategorySecurity.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategorySecurity
}

// Event is the stored form of every audit record. Keep it transport-agnostic
// so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	Action    string
	// Handle and Address identify the entry the event is about.
	Handle  string
	Address string
	// Actor is the identity that performed or attempted the action.
	Actor             string
	Authority         string
	PreviousAuthority string
	Destination       string
	Reason            string
	Severity          Severity
	IP                string
	RequestID         string
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// ComplianceEvent records a committed change to a registry entry.
type ComplianceEvent struct {
	Timestamp         time.Time
	Handle            string
	Address           string
	Action            string
	Actor             string
	Authority         string
	PreviousAuthority string
	Destination       string
	RequestID         string
}

// Category returns CategoryCompliance (always).
func (e ComplianceEvent) Category() EventCategory { return CategoryCompliance }

func (e ComplianceEvent) ToEvent() Event {
	return Event{
		Category:          CategoryCompliance,
		Timestamp:         e.Timestamp,
		Action:            e.Action,
		Handle:            e.Handle,
		Address:           e.Address,
		Actor:             e.Actor,
		Authority:         e.Authority,
		PreviousAuthority: e.PreviousAuthority,
		Destination:       e.Destination,
		RequestID:         e.RequestID,
	}
}

// SecurityEvent records a rejected attempt for alerting.
type SecurityEvent struct {
	Timestamp time.Time
	Handle    string
	Action    string
	Reason    string
	Actor     string
	IP        string
	RequestID string
	Severity  Severity
}

// Severity levels for security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Category returns CategorySecurity (always).
func (e SecurityEvent) Category() EventCategory { return CategorySecurity }

func (e SecurityEvent) ToEvent() Event {
	return Event{
		Category:  CategorySecurity,
		Timestamp: e.Timestamp,
		Action:    e.Action,
		Handle:    e.Handle,
		Actor:     e.Actor,
		Reason:    e.Reason,
		Severity:  e.Severity,
		IP:        e.IP,
		RequestID: e.RequestID,
	}
}
