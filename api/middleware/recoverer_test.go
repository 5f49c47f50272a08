package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	pkgerrors "github.com/angelmondragon/jobrouter/pkg/errors"
	"github.com/angelmondragon/jobrouter/pkg/logger"
)

func TestRecovererLogsRouteAndJob(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})

	r := chi.NewRouter()
	r.Use(Recoverer(logg))
	r.Post("/jobs/{jobId}/automation/run", func(http.ResponseWriter, *http.Request) {
		panic("ledger exploded")
	})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/jobs/job-42/automation/run", nil))

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse error response: %v", err)
	}
	if payload.Error.Code != string(pkgerrors.CodeInternal) || strings.Contains(payload.Error.Message, "ledger") {
		t.Fatalf("unexpected envelope %+v", payload.Error)
	}

	out := buf.String()
	for _, want := range []string{`"route":"/jobs/{jobId}/automation/run"`, `"job_id":"job-42"`, `"panic_stack"`, "ledger exploded"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected log to contain %s, got %s", want, out)
		}
	}
}

func TestRecovererReraisesAbortHandler(t *testing.T) {
	handler := Recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Fatalf("expected ErrAbortHandler to propagate got %v", rec)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	t.Fatal("expected panic")
}

func TestRequestIDKeepsUsableUpstreamID(t *testing.T) {
	var seen string
	handler := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "lb-7f3a:01")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if seen != "lb-7f3a:01" || resp.Header().Get(requestIDHeader) != "lb-7f3a:01" {
		t.Fatalf("expected upstream id kept, ctx=%q header=%q", seen, resp.Header().Get(requestIDHeader))
	}
}

func TestRequestIDReplacesUnusableUpstreamID(t *testing.T) {
	cases := []string{"", "has space", "line\nbreak", strings.Repeat("a", 65)}
	for _, incoming := range cases {
		var seen string
		handler := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = RequestIDFromContext(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(requestIDHeader, incoming)
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)

		if seen == incoming || seen == "" {
			t.Fatalf("incoming %q: expected a generated id got %q", incoming, seen)
		}
		if resp.Header().Get(requestIDHeader) != seen {
			t.Fatalf("incoming %q: response header %q does not match %q", incoming, resp.Header().Get(requestIDHeader), seen)
		}
	}
}
