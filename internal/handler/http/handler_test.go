// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package http

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-sync-engine/internal/config"
	"github.com/MKhiriev/go-sync-engine/internal/conflict"
	"github.com/MKhiriev/go-sync-engine/internal/engine"
	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/orchestrator"
	"github.com/MKhiriev/go-sync-engine/internal/strategy"
	"github.com/MKhiriev/go-sync-engine/models"
)

// fakeEngine records calls and answers with canned values.
type fakeEngine struct {
	mu sync.Mutex

	status    models.EngineStatus
	ops       []models.SyncOperation
	result    models.SyncResult
	err       error
	modes     []models.SyncMode
	network   models.NetworkInfo
	strategy  string
	resumed   bool
	reconnect int
}

func (f *fakeEngine) Status(context.Context) (models.EngineStatus, error) {
	return f.status, f.err
}

func (f *fakeEngine) PendingOperations(context.Context) ([]models.SyncOperation, error) {
	return f.ops, f.err
}

func (f *fakeEngine) ConflictStats() map[models.Table]conflict.TableStats {
	return map[models.Table]conflict.TableStats{
		models.TableCards: {Total: 3, ByResolution: map[models.Resolution]int{models.ResolutionCloudWins: 2, models.ResolutionMerge: 1}},
	}
}

func (f *fakeEngine) PerformSync(_ context.Context, mode models.SyncMode) (models.SyncResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modes = append(f.modes, mode)
	if !mode.Valid() {
		return models.SyncResult{}, fmt.Errorf("%w: %q", orchestrator.ErrInvalidMode, mode)
	}
	r := f.result
	r.Mode = mode
	return r, f.err
}

func (f *fakeEngine) ReconnectAll(context.Context) (int, error) {
	return f.reconnect, f.err
}

func (f *fakeEngine) SetNetwork(_ context.Context, info models.NetworkInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.network = info
	return f.err
}

func (f *fakeEngine) ForceStrategy(_ context.Context, name string) error {
	if name != strategy.Realtime && name != strategy.Balanced {
		return fmt.Errorf("%w: %q", strategy.ErrUnknownStrategy, name)
	}
	f.strategy = name
	return nil
}

func (f *fakeEngine) ResumeAfterAuth() { f.resumed = true }

func newTestHandler(eng Engine, token string) *Handler {
	return NewHandler(eng, config.Server{Token: token}, models.NewAppBuildInfo("1.2.3", "2026-10-01", "abc123"), logger.Nop())
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestInit_RegistersAllRoutes(t *testing.T) {
	router := newTestHandler(&fakeEngine{}, "").Init()

	routes := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/api/version", ""},
		{http.MethodGet, "/api/status", ""},
		{http.MethodGet, "/api/operations", ""},
		{http.MethodGet, "/api/conflicts", ""},
		{http.MethodPost, "/api/sync", ""},
		{http.MethodPost, "/api/connections/reconnect", ""},
		{http.MethodPost, "/api/network", `{"online":true}`},
		{http.MethodPost, "/api/strategy", `{"name":"realtime"}`},
		{http.MethodPost, "/api/auth/resume", ""},
	}

	for _, tc := range routes {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rec := do(t, router, tc.method, tc.path, tc.body)
			assert.Less(t, rec.Code, http.StatusBadRequest, "%s %s answered %d", tc.method, tc.path, rec.Code)
		})
	}
}

func TestInit_UnknownRouteAndWrongMethod(t *testing.T) {
	router := newTestHandler(&fakeEngine{}, "").Init()

	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/api/nonexistent", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodPost, "/api/status", "").Code)
}

func TestGetVersion(t *testing.T) {
	router := newTestHandler(&fakeEngine{}, "secret").Init()

	rec := do(t, router, http.MethodGet, "/api/version", "")
	require.Equal(t, http.StatusOK, rec.Code, "version is readable without a token")

	got := decode[versionResponse](t, rec)
	assert.Equal(t, versionResponse{Version: "1.2.3", Date: "2026-10-01", Commit: "abc123"}, got)
}

func TestGetStatus(t *testing.T) {
	eng := &fakeEngine{status: models.EngineStatus{
		Online:            true,
		Strategy:          strategy.Balanced,
		Tier:              models.TierGood,
		PendingOperations: 2,
		Channels:          []models.ChannelStatus{{Channel: "cards", Table: models.TableCards, State: models.StateConnected}},
	}}
	router := newTestHandler(eng, "").Init()

	rec := do(t, router, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	got := decode[models.EngineStatus](t, rec)
	assert.True(t, got.Online)
	assert.Equal(t, strategy.Balanced, got.Strategy)
	assert.Equal(t, 2, got.PendingOperations)
	require.Len(t, got.Channels, 1)
	assert.Equal(t, models.StateConnected, got.Channels[0].State)
}

func TestGetStatus_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "destroyed engine", err: engine.ErrDestroyed, want: http.StatusServiceUnavailable},
		{name: "deadline", err: fmt.Errorf("read: %w", context.DeadlineExceeded), want: http.StatusGatewayTimeout},
		{name: "unclassified", err: errors.New("disk on fire"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestHandler(&fakeEngine{err: tt.err}, "").Init()

			rec := do(t, router, http.MethodGet, "/api/status", "")
			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, decode[map[string]string](t, rec)["error"], tt.err.Error())
		})
	}
}

func TestListOperations(t *testing.T) {
	eng := &fakeEngine{ops: []models.SyncOperation{
		{ID: "op-1", Status: models.OperationPending},
		{ID: "op-2", Status: models.OperationProcessing},
		{ID: "op-3", Status: models.OperationFailed, LastError: "rejected"},
	}}
	router := newTestHandler(eng, "").Init()

	rec := do(t, router, http.MethodGet, "/api/operations", "")
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[operationsResponse](t, rec)
	assert.Len(t, got.Operations, 3)
	assert.Equal(t, 2, got.Pending)
	assert.Equal(t, 1, got.Failed)
}

func TestListOperations_EmptyQueueIsArray(t *testing.T) {
	router := newTestHandler(&fakeEngine{}, "").Init()

	rec := do(t, router, http.MethodGet, "/api/operations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"operations":[]`)
}

func TestGetConflictStats(t *testing.T) {
	router := newTestHandler(&fakeEngine{}, "").Init()

	rec := do(t, router, http.MethodGet, "/api/conflicts", "")
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[map[models.Table]conflict.TableStats](t, rec)
	assert.Equal(t, 3, got[models.TableCards].Total)
	assert.Equal(t, 2, got[models.TableCards].ByResolution[models.ResolutionCloudWins])
}

func TestPerformSync_Modes(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantCode int
		wantMode models.SyncMode
	}{
		{name: "default is incremental", query: "", wantCode: http.StatusOK, wantMode: models.SyncIncremental},
		{name: "full", query: "?mode=full", wantCode: http.StatusOK, wantMode: models.SyncFull},
		{name: "case insensitive", query: "?mode=FULL", wantCode: http.StatusOK, wantMode: models.SyncFull},
		{name: "unknown", query: "?mode=partial", wantCode: http.StatusBadRequest, wantMode: "partial"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{result: models.SyncResult{Success: true, ProcessedCount: 3}}
			router := newTestHandler(eng, "").Init()

			rec := do(t, router, http.MethodPost, "/api/sync"+tt.query, "")
			assert.Equal(t, tt.wantCode, rec.Code)
			require.Len(t, eng.modes, 1)
			assert.Equal(t, tt.wantMode, eng.modes[0])

			if tt.wantCode == http.StatusOK {
				got := decode[models.SyncResult](t, rec)
				assert.True(t, got.Success)
				assert.Equal(t, 3, got.ProcessedCount)
			}
		})
	}
}

func TestPerformSync_AuthPaused(t *testing.T) {
	router := newTestHandler(&fakeEngine{err: orchestrator.ErrAuthPaused}, "").Init()

	rec := do(t, router, http.MethodPost, "/api/sync", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReconnectAll(t *testing.T) {
	router := newTestHandler(&fakeEngine{reconnect: 2}, "").Init()

	rec := do(t, router, http.MethodPost, "/api/connections/reconnect", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[reconnectResponse](t, rec).Reconnected)
}

func TestSetNetwork(t *testing.T) {
	eng := &fakeEngine{}
	router := newTestHandler(eng, "").Init()

	rec := do(t, router, http.MethodPost, "/api/network", `{"network_id":"wifi-home","kind":"wifi","online":true}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, models.NetworkInfo{NetworkID: "wifi-home", Kind: "wifi", Online: true}, eng.network)

	rec = do(t, router, http.MethodPost, "/api/network", `{"online":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestForceStrategy(t *testing.T) {
	eng := &fakeEngine{}
	router := newTestHandler(eng, "").Init()

	assert.Equal(t, http.StatusNoContent, do(t, router, http.MethodPost, "/api/strategy", `{"name":"realtime"}`).Code)
	assert.Equal(t, strategy.Realtime, eng.strategy)

	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/strategy", `{"name":"warp"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/strategy", `{}`).Code)
}

func TestResumeAfterAuth(t *testing.T) {
	eng := &fakeEngine{}
	router := newTestHandler(eng, "").Init()

	assert.Equal(t, http.StatusNoContent, do(t, router, http.MethodPost, "/api/auth/resume", "").Code)
	assert.True(t, eng.resumed)
}

func TestAuth(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "no header", header: "", want: http.StatusUnauthorized},
		{name: "malformed", header: "Bearer", want: http.StatusUnauthorized},
		{name: "wrong token", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "valid token", header: "Bearer secret", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestHandler(&fakeEngine{}, "secret").Init()

			var header []string
			if tt.header != "" {
				header = []string{"Authorization", tt.header}
			}
			rec := do(t, router, http.MethodGet, "/api/status", "", header...)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestWithTraceID(t *testing.T) {
	router := newTestHandler(&fakeEngine{}, "").Init()

	rec := do(t, router, http.MethodGet, "/api/version", "", traceIDHeader, "trace-123")
	assert.Equal(t, "trace-123", rec.Header().Get(traceIDHeader))

	rec = do(t, router, http.MethodGet, "/api/version", "")
	_, err := uuid.Parse(rec.Header().Get(traceIDHeader))
	assert.NoError(t, err, "generated trace id is a UUID")
}

func TestWithTraceID_LoggerInContext(t *testing.T) {
	h := newTestHandler(&fakeEngine{}, "")

	var traced bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traced = logger.FromRequest(r) != nil
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	h.withTraceID(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, traced)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestCompressesJSON(t *testing.T) {
	router := newTestHandler(&fakeEngine{status: models.EngineStatus{Strategy: strategy.Balanced}}, "").Init()

	rec := do(t, router, http.MethodGet, "/api/status", "", "Accept-Encoding", "gzip")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	var got models.EngineStatus
	require.NoError(t, json.NewDecoder(zr).Decode(&got))
	assert.Equal(t, strategy.Balanced, got.Strategy)
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &responseWriter{ResponseWriter: rec}

	w.WriteHeader(http.StatusCreated)
	w.WriteHeader(http.StatusInternalServerError)
	n, err := w.Write([]byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, 5, n)
	assert.Equal(t, http.StatusCreated, w.status, "only the first status is kept")
	assert.Equal(t, 5, w.size)
	assert.Equal(t, http.StatusCreated, rec.Code)

	implicit := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _ = implicit.Write([]byte("x"))
	assert.Equal(t, http.StatusOK, implicit.status)
}
