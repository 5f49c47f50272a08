package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/jobrouter/api/middleware"
	"github.com/angelmondragon/jobrouter/pkg/enums"
)

func newRequest(method, target string, body string, params map[string]string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewReader([]byte(body)))
		req.Header.Set("Content-Type", "application/json")
	}
	rc := chi.NewRouteContext()
	for k, v := range params {
		rc.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func asPlatformAdmin(req *http.Request) *http.Request {
	ctx := middleware.WithActorID(req.Context(), uuid.NewString())
	ctx = middleware.WithRole(ctx, string(enums.ActorRolePlatformAdmin))
	return req.WithContext(ctx)
}

func asVendorAdmin(req *http.Request, vendorID uuid.UUID) *http.Request {
	ctx := middleware.WithActorID(req.Context(), uuid.NewString())
	ctx = middleware.WithRole(ctx, string(enums.ActorRoleVendorAdmin))
	ctx = middleware.WithVendorID(ctx, vendorID.String())
	return req.WithContext(ctx)
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return envelope.Error.Code
}
