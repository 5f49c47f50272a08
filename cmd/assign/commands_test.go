package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/jobrouter/internal/assignment"
	"github.com/angelmondragon/jobrouter/internal/audit"
	"github.com/angelmondragon/jobrouter/internal/quota"
	"github.com/angelmondragon/jobrouter/pkg/enums"
	"github.com/angelmondragon/jobrouter/pkg/pagination"
)

type stubService struct {
	lastJob      uuid.UUID
	lastPriority enums.JobPriority
}

func (s *stubService) RunAssignment(_ context.Context, jobID uuid.UUID) (*assignment.Outcome, error) {
	s.lastJob = jobID
	return &assignment.Outcome{JobID: jobID, Status: enums.AssignmentAssigned}, nil
}

func (s *stubService) CheckPriorityAllowance(_ context.Context, clientID uuid.UUID, requested enums.JobPriority) (*quota.Allowance, error) {
	s.lastPriority = requested
	return &quota.Allowance{Preview: quota.Preview{ClientID: clientID}, Requested: requested, Granted: requested, Decision: enums.QuotaAccepted}, nil
}

func (s *stubService) PreviewPriority(_ context.Context, clientID uuid.UUID) (*quota.Preview, error) {
	return &quota.Preview{ClientID: clientID, ActiveCount: 4}, nil
}

type stubRuns struct {
	params pagination.Params
}

func (s *stubRuns) ListRuns(_ context.Context, _ uuid.UUID, params pagination.Params) (*audit.RunPage, error) {
	s.params = params
	return &audit.RunPage{Runs: []audit.Run{}}, nil
}

func TestExecuteRun(t *testing.T) {
	svc := &stubService{}
	jobID := uuid.New()
	var out bytes.Buffer
	if err := execute(context.Background(), svc, &stubRuns{}, options{Cmd: "run", JobID: jobID.String()}, &out); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if svc.lastJob != jobID {
		t.Fatalf("expected run for %s got %s", jobID, svc.lastJob)
	}
	var decoded map[string]any
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if decoded["status"] != string(enums.AssignmentAssigned) {
		t.Fatalf("unexpected status %v", decoded["status"])
	}
}

func TestExecutePriorityNormalizesInput(t *testing.T) {
	svc := &stubService{}
	var out bytes.Buffer
	err := execute(context.Background(), svc, &stubRuns{}, options{Cmd: "priority", ClientID: uuid.NewString(), Priority: " URGENT "}, &out)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if svc.lastPriority != enums.PriorityUrgent {
		t.Fatalf("unexpected priority %s", svc.lastPriority)
	}
}

func TestExecuteLogsPassesPaging(t *testing.T) {
	runs := &stubRuns{}
	var out bytes.Buffer
	err := execute(context.Background(), &stubService{}, runs, options{Cmd: "logs", JobID: uuid.NewString(), Limit: 5, Cursor: "abc"}, &out)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if runs.params.Limit != 5 || runs.params.Cursor != "abc" {
		t.Fatalf("unexpected paging %+v", runs.params)
	}
}

func TestExecuteRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		opts options
		want string
	}{
		{name: "missing job", opts: options{Cmd: "run"}, want: "missing -job"},
		{name: "bad client", opts: options{Cmd: "preview", ClientID: "nope"}, want: "invalid -client"},
		{name: "bad priority", opts: options{Cmd: "priority", ClientID: uuid.NewString(), Priority: "asap"}, want: "asap"},
		{name: "unknown command", opts: options{Cmd: "explode"}, want: "unknown -cmd"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := execute(context.Background(), &stubService{}, &stubRuns{}, tc.opts, &bytes.Buffer{})
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
