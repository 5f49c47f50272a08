package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateServiceRequest OutboxAggregateType = "service_request"
	AggregateBundleRequest  OutboxAggregateType = "bundle_request"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateServiceRequest,
	AggregateBundleRequest,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// AggregateForRequest maps a request type onto its outbox aggregate.
func AggregateForRequest(rt RequestType) OutboxAggregateType {
	if rt == RequestTypeBundle {
		return AggregateBundleRequest
	}
	return AggregateServiceRequest
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventJobAutoAssigned    OutboxEventType = "job_auto_assigned"
	EventAutomationFallback OutboxEventType = "automation_fallback"
	EventPriorityDowngraded OutboxEventType = "priority_downgraded"
)

var validOutboxEventTypes = []OutboxEventType{
	EventJobAutoAssigned,
	EventAutomationFallback,
	EventPriorityDowngraded,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
