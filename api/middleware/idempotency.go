package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/jobrouter/api/responses"
	pkgerrors "github.com/angelmondragon/jobrouter/pkg/errors"
	"github.com/angelmondragon/jobrouter/pkg/logger"
	pkgredis "github.com/angelmondragon/jobrouter/pkg/redis"
)

const (
	idempotencyHeader    = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"
	originalRequestID    = "X-Original-Request-Id"
	maxIdempotencyKey    = 255
	writeReplayTTL       = 24 * time.Hour
	manualRunReplayTTL   = 10 * time.Minute
	inFlightClaimTTL     = 30 * time.Second
	inFlightStatusMarker = -1
)

// idempotentRoute describes one write the engine deduplicates. Rule creation
// and allowance checks demand a key; a manual run only honours one when the
// caller sends it, so a retried run replays its outcome instead of routing
// the job a second time.
type idempotentRoute struct {
	method   string
	match    func(path string) bool
	ttl      time.Duration
	required bool
}

var idempotentRoutes = []idempotentRoute{
	{method: http.MethodPost, match: exactPath("/api/admin/v1/automation/rules"), ttl: writeReplayTTL, required: true},
	{method: http.MethodPost, match: exactPath("/api/v1/priority/allowance"), ttl: writeReplayTTL, required: true},
	{method: http.MethodPost, match: jobRunPath, ttl: manualRunReplayTTL},
}

type idempotencyRecord struct {
	Status      int               `json:"status"`
	Body        string            `json:"body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	RequestHash string            `json:"request_hash"`
	RequestID   string            `json:"request_id,omitempty"`
}

func (r idempotencyRecord) inFlight() bool {
	return r.Status == inFlightStatusMarker
}

// Idempotency replays the stored response of a repeated write. A key is
// claimed before the handler runs so two concurrent retries cannot both
// create a rule; the claim is released without a record when the handler
// fails with a 5xx so the caller may retry.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, ok := matchIdempotentRoute(r.Method, strings.TrimSuffix(r.URL.Path, "/"))
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			idemKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			switch {
			case idemKey == "" && !route.required:
				next.ServeHTTP(w, r)
				return
			case idemKey == "":
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			case len(idemKey) > maxIdempotencyKey:
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header too long").
					WithDetails(map[string]any{"max_length": maxIdempotencyKey}))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			requestHash := hashBody(body)
			key := store.IdempotencyKey(idempotencyScope(r), idemKey)

			claim, _ := json.Marshal(idempotencyRecord{Status: inFlightStatusMarker, RequestHash: requestHash})
			claimed, err := store.SetNX(ctx, key, string(claim), inFlightClaimTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Dependency(err, "claim idempotency key"))
				return
			}
			if !claimed {
				replayStored(ctx, w, store, key, requestHash, logg)
				return
			}

			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			// Swap the claim for the final record.
			if err := store.Del(ctx, key); err != nil {
				logError(ctx, logg, "release idempotency claim", err)
				return
			}
			status := defaultStatus(rec.status)
			if status >= http.StatusInternalServerError {
				return
			}
			record := idempotencyRecord{
				Status:      status,
				Body:        base64.StdEncoding.EncodeToString(rec.body.Bytes()),
				RequestHash: requestHash,
				RequestID:   RequestIDFromContext(ctx),
			}
			if ct := rec.Header().Get("Content-Type"); ct != "" {
				record.Headers = map[string]string{"Content-Type": ct}
			}
			payload, err := json.Marshal(record)
			if err != nil {
				logError(ctx, logg, "marshal idempotency record", err)
				return
			}
			if _, err := store.SetNX(ctx, key, string(payload), route.ttl); err != nil {
				logError(ctx, logg, "persist idempotency record", err)
			}
		})
	}
}

func replayStored(ctx context.Context, w http.ResponseWriter, store pkgredis.IdempotencyStore, key, requestHash string, logg *logger.Logger) {
	stored, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// The claim expired between SetNX and Get; treat it as still running.
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is in progress"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Dependency(err, "check idempotency"))
		return
	}
	var record idempotencyRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	if record.RequestHash != requestHash {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
		return
	}
	if record.inFlight() {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is in progress"))
		return
	}

	for name, value := range record.Headers {
		w.Header().Set(name, value)
	}
	w.Header().Set(replayedHeader, "true")
	if record.RequestID != "" {
		w.Header().Set(originalRequestID, record.RequestID)
	}
	w.WriteHeader(record.Status)
	if decoded, err := base64.StdEncoding.DecodeString(record.Body); err == nil {
		_, _ = w.Write(decoded)
	}
}

// idempotencyScope keeps keys from colliding across callers and vendors.
func idempotencyScope(r *http.Request) string {
	ctx := r.Context()
	return strings.Join([]string{
		ActorIDFromContext(ctx),
		VendorIDFromContext(ctx),
		r.Method,
		r.URL.Path,
	}, "|")
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func defaultStatus(value int) int {
	if value == 0 {
		return http.StatusOK
	}
	return value
}

func matchIdempotentRoute(method, path string) (idempotentRoute, bool) {
	if path == "" {
		return idempotentRoute{}, false
	}
	for _, route := range idempotentRoutes {
		if route.method == method && route.match(path) {
			return route, true
		}
	}
	return idempotentRoute{}, false
}

func exactPath(path string) func(string) bool {
	return func(candidate string) bool {
		return candidate == path
	}
}

// jobRunPath matches /api/v1/jobs/{jobId}/automation/run.
func jobRunPath(path string) bool {
	rest, ok := strings.CutPrefix(path, "/api/v1/jobs/")
	if !ok {
		return false
	}
	jobID, tail, ok := strings.Cut(rest, "/")
	return ok && jobID != "" && tail == "automation/run"
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
