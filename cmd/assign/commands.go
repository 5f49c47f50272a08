package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/jobrouter/internal/assignment"
	"github.com/angelmondragon/jobrouter/internal/audit"
	"github.com/angelmondragon/jobrouter/pkg/enums"
	"github.com/angelmondragon/jobrouter/pkg/pagination"
)

type runLog interface {
	ListRuns(ctx context.Context, requestID uuid.UUID, params pagination.Params) (*audit.RunPage, error)
}

type options struct {
	Cmd      string
	JobID    string
	ClientID string
	Priority string
	Limit    int
	Cursor   string
}

// execute runs one CLI command and writes its JSON result to out.
func execute(ctx context.Context, svc assignment.Service, runs runLog, opts options, out io.Writer) error {
	var result any
	switch strings.ToLower(strings.TrimSpace(opts.Cmd)) {
	case "run":
		jobID, err := parseID("job", opts.JobID)
		if err != nil {
			return err
		}
		result, err = svc.RunAssignment(ctx, jobID)
		if err != nil {
			return err
		}

	case "priority":
		clientID, err := parseID("client", opts.ClientID)
		if err != nil {
			return err
		}
		priority, err := enums.ParseJobPriority(strings.ToLower(strings.TrimSpace(opts.Priority)))
		if err != nil {
			return err
		}
		result, err = svc.CheckPriorityAllowance(ctx, clientID, priority)
		if err != nil {
			return err
		}

	case "preview":
		clientID, err := parseID("client", opts.ClientID)
		if err != nil {
			return err
		}
		result, err = svc.PreviewPriority(ctx, clientID)
		if err != nil {
			return err
		}

	case "logs":
		jobID, err := parseID("job", opts.JobID)
		if err != nil {
			return err
		}
		result, err = runs.ListRuns(ctx, jobID, pagination.Params{Limit: opts.Limit, Cursor: opts.Cursor})
		if err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown -cmd value %q (want run|priority|preview|logs)", opts.Cmd)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func parseID(name, value string) (uuid.UUID, error) {
	if strings.TrimSpace(value) == "" {
		return uuid.Nil, fmt.Errorf("missing -%s", name)
	}
	id, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid -%s: %w", name, err)
	}
	return id, nil
}
