package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/jobrouter/internal/assignment"
	"github.com/angelmondragon/jobrouter/internal/audit"
	"github.com/angelmondragon/jobrouter/internal/capacity"
	"github.com/angelmondragon/jobrouter/internal/quota"
	"github.com/angelmondragon/jobrouter/internal/rules"
	pkgAuth "github.com/angelmondragon/jobrouter/pkg/auth"
	"github.com/angelmondragon/jobrouter/pkg/config"
	"github.com/angelmondragon/jobrouter/pkg/db/models"
	"github.com/angelmondragon/jobrouter/pkg/enums"
	"github.com/angelmondragon/jobrouter/pkg/logger"
	"github.com/angelmondragon/jobrouter/pkg/metrics"
	"github.com/angelmondragon/jobrouter/pkg/pagination"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type stubAssignment struct {
	runs int
}

func (s *stubAssignment) RunAssignment(_ context.Context, jobID uuid.UUID) (*assignment.Outcome, error) {
	s.runs++
	return &assignment.Outcome{JobID: jobID, Status: enums.AssignmentFailedNoVendor}, nil
}

func (s *stubAssignment) CheckPriorityAllowance(_ context.Context, clientID uuid.UUID, requested enums.JobPriority) (*quota.Allowance, error) {
	return &quota.Allowance{Preview: quota.Preview{ClientID: clientID}, Requested: requested, Granted: requested, Decision: enums.QuotaAccepted}, nil
}

func (s *stubAssignment) PreviewPriority(_ context.Context, clientID uuid.UUID) (*quota.Preview, error) {
	return &quota.Preview{ClientID: clientID}, nil
}

type stubRunLog struct{}

func (stubRunLog) ListRuns(context.Context, uuid.UUID, pagination.Params) (*audit.RunPage, error) {
	return &audit.RunPage{Runs: []audit.Run{}}, nil
}

type stubRules struct{}

func (stubRules) List(context.Context) ([]rules.Rule, error) { return nil, nil }
func (stubRules) Get(context.Context, uuid.UUID) (*rules.Rule, error) {
	return nil, nil
}
func (stubRules) Create(context.Context, rules.RuleInput) (*rules.Rule, error) {
	return nil, nil
}
func (stubRules) Update(context.Context, uuid.UUID, rules.RuleInput) (*rules.Rule, error) {
	return nil, nil
}
func (stubRules) SetActive(context.Context, uuid.UUID, bool) error { return nil }
func (stubRules) SetPriority(context.Context, uuid.UUID, int) error { return nil }

type stubCapacity struct{}

func (stubCapacity) UpsertVendorCapacity(context.Context, capacity.VendorCapacityInput) (*models.VendorServiceCapacity, error) {
	return &models.VendorServiceCapacity{}, nil
}

func (stubCapacity) UpsertDesignerCapacity(context.Context, capacity.DesignerCapacityInput) (*models.VendorDesignerCapacity, error) {
	return &models.VendorDesignerCapacity{}, nil
}

type stubOwners struct{}

func (stubOwners) ParentVendor(context.Context, uuid.UUID) (uuid.UUID, error) {
	return uuid.New(), nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "jobrouter", ExpirationMinutes: 5},
		RateLimit: config.RateLimitConfig{
			RerunWindow: time.Minute,
			RerunLimit:  1,
		},
	}
}

func newTestRouter(t *testing.T, svc *stubAssignment) (http.Handler, *config.Config) {
	t.Helper()
	cfg := testConfig()
	reg := prometheus.NewRegistry()
	m := metrics.NewAssignmentMetrics(reg)
	m.ObserveOutcome(string(enums.AssignmentAssigned), time.Millisecond)

	return NewRouter(Deps{
		Config:     cfg,
		Logger:     logger.New(logger.Options{ServiceName: "routes-test", Output: io.Discard}),
		DB:         stubPinger{},
		Assignment: svc,
		RunLog:     stubRunLog{},
		Rules:      stubRules{},
		Capacity:   stubCapacity{},
		Designers:  stubOwners{},
		Metrics:    metrics.Handler(reg),
	}), cfg
}

func bearer(t *testing.T, cfg *config.Config, role enums.ActorRole) string {
	t.Helper()
	payload := pkgAuth.AccessTokenPayload{ActorID: uuid.New(), Role: role}
	if role == enums.ActorRoleVendorAdmin {
		vendorID := uuid.New()
		payload.VendorID = &vendorID
	}
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), payload)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + token
}

func TestHealthRoutes(t *testing.T) {
	router, _ := newTestRouter(t, &stubAssignment{})
	for _, path := range []string{"/health/live", "/health/ready"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, rec.Code)
		}
	}
}

func TestMetricsRoute(t *testing.T) {
	router, _ := newTestRouter(t, &stubAssignment{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "jobrouter_") {
		t.Fatalf("expected jobrouter metrics in body")
	}
}

func TestAPIRequiresToken(t *testing.T) {
	router, _ := newTestRouter(t, &stubAssignment{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+uuid.NewString()+"/automation/run", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestAutomationRunRoute(t *testing.T) {
	svc := &stubAssignment{}
	router, cfg := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+uuid.NewString()+"/automation/run", nil)
	req.Header.Set("Authorization", bearer(t, cfg, enums.ActorRoleSystem))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.runs != 1 {
		t.Fatalf("expected one run got %d", svc.runs)
	}
}

func TestAdminRoutesRejectSystemRole(t *testing.T) {
	router, cfg := newTestRouter(t, &stubAssignment{})

	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/automation/rules", nil)
	req.Header.Set("Authorization", bearer(t, cfg, enums.ActorRoleSystem))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/v1/automation/rules", nil)
	req.Header.Set("Authorization", bearer(t, cfg, enums.ActorRoleVendorAdmin))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for vendor admin got %d", rec.Code)
	}
}

func TestPriorityPreviewRoute(t *testing.T) {
	router, cfg := newTestRouter(t, &stubAssignment{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/priority/preview/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", bearer(t, cfg, enums.ActorRolePlatformAdmin))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
}
