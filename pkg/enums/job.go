package enums

import "fmt"

// JobPriority is the priority tier a job carries.
type JobPriority string

const (
	PriorityLow    JobPriority = "low"
	PriorityNormal JobPriority = "normal"
	PriorityHigh   JobPriority = "high"
	PriorityUrgent JobPriority = "urgent"
)

var validJobPriorities = []JobPriority{
	PriorityLow,
	PriorityNormal,
	PriorityHigh,
	PriorityUrgent,
}

func (p JobPriority) String() string {
	return string(p)
}

func (p JobPriority) IsValid() bool {
	for _, candidate := range validJobPriorities {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsCapped reports whether the tier is subject to the client quota.
func (p JobPriority) IsCapped() bool {
	return p == PriorityUrgent || p == PriorityHigh
}

// Lower returns the next tier down. Normal and Low are floors for quota purposes.
func (p JobPriority) Lower() JobPriority {
	switch p {
	case PriorityUrgent:
		return PriorityHigh
	case PriorityHigh:
		return PriorityNormal
	}
	return p
}

func ParseJobPriority(value string) (JobPriority, error) {
	for _, candidate := range validJobPriorities {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid job priority %q", value)
}

// JobStatus is the lifecycle state owned by the job store.
type JobStatus string

const (
	JobStatusPending       JobStatus = "pending"
	JobStatusInProgress    JobStatus = "in_progress"
	JobStatusChangeRequest JobStatus = "change_request"
	JobStatusCompleted     JobStatus = "completed"
	JobStatusCancelled     JobStatus = "cancelled"
)

// ActiveJobStatuses are the states counted against the priority quota.
var ActiveJobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusInProgress,
	JobStatusChangeRequest,
}

func (s JobStatus) IsActive() bool {
	for _, candidate := range ActiveJobStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// QuotaDecision is the verdict of a priority allowance check.
type QuotaDecision string

const (
	QuotaAccepted   QuotaDecision = "accepted"
	QuotaDowngraded QuotaDecision = "downgraded"
	QuotaRejected   QuotaDecision = "rejected"
)

// QuotaOverflowPolicy decides what an over-quota request turns into.
type QuotaOverflowPolicy string

const (
	QuotaOverflowDowngrade QuotaOverflowPolicy = "downgrade"
	QuotaOverflowReject    QuotaOverflowPolicy = "reject"
)

func ParseQuotaOverflowPolicy(value string) (QuotaOverflowPolicy, error) {
	switch QuotaOverflowPolicy(value) {
	case QuotaOverflowDowngrade, QuotaOverflowReject:
		return QuotaOverflowPolicy(value), nil
	}
	return "", fmt.Errorf("invalid quota overflow policy %q", value)
}
