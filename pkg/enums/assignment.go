package enums

import "fmt"

// AssignmentStatus is the caller-visible outcome of one orchestration run.
type AssignmentStatus string

const (
	AssignmentAssigned         AssignmentStatus = "assigned"
	AssignmentPartialAssigned  AssignmentStatus = "partial_assigned"
	AssignmentFailedNoVendor   AssignmentStatus = "failed_no_vendor"
	AssignmentFailedNoDesigner AssignmentStatus = "failed_no_designer"
	AssignmentFailedCapacity   AssignmentStatus = "failed_capacity"
	// AssignmentSkippedLocked never lands on the job record; it only tags the audit row.
	AssignmentSkippedLocked AssignmentStatus = "skipped_locked"
)

var validAssignmentStatuses = []AssignmentStatus{
	AssignmentAssigned,
	AssignmentPartialAssigned,
	AssignmentFailedNoVendor,
	AssignmentFailedNoDesigner,
	AssignmentFailedCapacity,
	AssignmentSkippedLocked,
}

func (s AssignmentStatus) String() string {
	return string(s)
}

func (s AssignmentStatus) IsValid() bool {
	for _, candidate := range validAssignmentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsSuccess reports whether a vendor ended up on the job.
func (s AssignmentStatus) IsSuccess() bool {
	return s == AssignmentAssigned || s == AssignmentPartialAssigned
}

func ParseAssignmentStatus(value string) (AssignmentStatus, error) {
	for _, candidate := range validAssignmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid assignment status %q", value)
}

// AssignmentStep labels one row of the decision trail.
type AssignmentStep string

const (
	StepLocked            AssignmentStep = "locked"
	StepRuleMatch         AssignmentStep = "rule_match"
	StepVendorSelection   AssignmentStep = "vendor_selection"
	StepDesignerSelection AssignmentStep = "designer_selection"
	StepFinal             AssignmentStep = "final"
)

func (s AssignmentStep) IsValid() bool {
	switch s {
	case StepLocked, StepRuleMatch, StepVendorSelection, StepDesignerSelection, StepFinal:
		return true
	}
	return false
}

// RequestType distinguishes single service requests from bundles.
type RequestType string

const (
	RequestTypeService RequestType = "service_request"
	RequestTypeBundle  RequestType = "bundle_request"
)

func (r RequestType) IsValid() bool {
	return r == RequestTypeService || r == RequestTypeBundle
}

func ParseRequestType(value string) (RequestType, error) {
	rt := RequestType(value)
	if !rt.IsValid() {
		return "", fmt.Errorf("invalid request type %q", value)
	}
	return rt, nil
}
