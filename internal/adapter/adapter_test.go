// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package adapter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang/snappy"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-sync-engine/internal/config"
	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/utils"
	"github.com/MKhiriev/go-sync-engine/models"
)

type fakeBackend struct {
	mu        sync.Mutex
	pushes    []PushRequest
	encodings []string
	auth      []string

	pushStatus int
	pullBody   string
	entityBody string
	wsStatus   int

	requests atomic.Int32
	frames   chan []byte
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	t.Helper()

	b := &fakeBackend{frames: make(chan []byte, 16)}
	upgrader := websocket.Upgrader{}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			b.requests.Add(1)
			b.mu.Lock()
			b.auth = append(b.auth, req.Header.Get("Authorization"))
			b.mu.Unlock()
			next.ServeHTTP(w, req)
		})
	})

	r.Post("/api/sync/push", func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		encoding := req.Header.Get("Content-Encoding")
		if encoding == "snappy" {
			decoded, err := snappy.Decode(nil, body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			body = decoded
		}

		var pr PushRequest
		if err := json.Unmarshal(body, &pr); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		b.mu.Lock()
		b.pushes = append(b.pushes, pr)
		b.encodings = append(b.encodings, encoding)
		status := b.pushStatus
		b.mu.Unlock()

		if status != 0 {
			http.Error(w, "rejected", status)
			return
		}
		_, _ = utils.WriteJSON(w, models.Ack{
			OperationID: pr.Operation.ID,
			EntityID:    pr.Operation.EntityID,
			SyncVersion: pr.Operation.BaseVersion + 1,
		}, http.StatusOK)
	})

	r.Get("/api/sync/pull/{table}", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("since") == "" {
			http.Error(w, "missing since", http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		body := b.pullBody
		b.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	})

	r.Get("/api/entities/{table}/{id}", func(w http.ResponseWriter, req *http.Request) {
		b.mu.Lock()
		body := b.entityBody
		b.mu.Unlock()
		if body == "" {
			http.Error(w, "no such entity", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	})

	r.Get("/api/realtime", func(w http.ResponseWriter, req *http.Request) {
		b.mu.Lock()
		status := b.wsStatus
		b.mu.Unlock()
		if status != 0 {
			http.Error(w, "denied", status)
			return
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// keep reading so pings are answered
		readerDone := make(chan struct{})
		go func() {
			defer close(readerDone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case frame, ok := <-b.frames:
				if !ok {
					_ = conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
					<-readerDone
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			case <-readerDone:
				return
			}
		}
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *fakeBackend) set(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn()
}

type recordingObserver struct {
	mu      sync.Mutex
	samples []error
}

func (o *recordingObserver) ObserveRequest(_ time.Duration, _ int64, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.samples = append(o.samples, err)
}

func (o *recordingObserver) snapshot() []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]error(nil), o.samples...)
}

func newTestRemote(t *testing.T, url, token string, observer RequestObserver) RemoteStore {
	t.Helper()
	remote, err := NewHTTPRemoteStore(config.Remote{
		HTTPAddress:    url,
		Token:          token,
		RequestTimeout: 2 * time.Second,
	}, observer, logger.Nop())
	require.NoError(t, err)
	return remote
}

func cardPayload(t *testing.T, id string, version int64) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(&models.Card{
		SyncEntity: models.SyncEntity{ID: id, UserID: "user-1", SyncVersion: version},
		Front:      "front " + id,
		Back:       "back",
	})
	require.NoError(t, err)
	return raw
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "adds scheme", in: "localhost:8080", want: "http://localhost:8080"},
		{name: "trims slash", in: "https://sync.example.com/", want: "https://sync.example.com"},
		{name: "keeps path", in: "http://host/base/", want: "http://host/base"},
		{name: "empty", in: "  ", wantErr: true},
		{name: "no host", in: "http://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeBaseURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeRealtimeURL(t *testing.T) {
	got, err := normalizeRealtimeURL("https://sync.example.com")
	require.NoError(t, err)
	assert.Equal(t, "wss://sync.example.com", got)

	got, err = normalizeRealtimeURL("http://127.0.0.1:9000/")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9000", got)

	_, err = normalizeRealtimeURL("ftp://host")
	assert.Error(t, err)
}

func TestNewHTTPRemoteStore_InvalidAddress(t *testing.T) {
	_, err := NewHTTPRemoteStore(config.Remote{}, nil, logger.Nop())
	assert.Error(t, err)
}

func TestPush_CompressedAck(t *testing.T) {
	backend, srv := newFakeBackend(t)
	observer := &recordingObserver{}
	remote := newTestRemote(t, srv.URL, "opaque-token", observer)

	op := models.SyncOperation{
		ID:          "op-1",
		Type:        models.OperationUpdate,
		EntityType:  models.TableCards,
		EntityID:    "card-1",
		Payload:     cardPayload(t, "card-1", 4),
		BaseVersion: 4,
	}

	ack, err := remote.Push(context.Background(), op, true)
	require.NoError(t, err)
	assert.Equal(t, models.Ack{OperationID: "op-1", EntityID: "card-1", SyncVersion: 5}, ack)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.pushes, 1)
	assert.Equal(t, "snappy", backend.encodings[0])
	assert.Equal(t, "card-1", backend.pushes[0].Operation.EntityID)
	assert.Equal(t, "Bearer opaque-token", backend.auth[0])

	samples := observer.snapshot()
	require.Len(t, samples, 1)
	assert.NoError(t, samples[0])
}

func TestPush_Uncompressed(t *testing.T) {
	backend, srv := newFakeBackend(t)
	remote := newTestRemote(t, srv.URL, "", nil)

	_, err := remote.Push(context.Background(), models.SyncOperation{ID: "op-2", EntityID: "x"}, false)
	require.NoError(t, err)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, "", backend.encodings[0])
	assert.Equal(t, "", backend.auth[0])
}

func TestPush_StatusMapping(t *testing.T) {
	tests := []struct {
		status    int
		want      error
		retryable bool
	}{
		{status: http.StatusConflict, want: ErrVersionConflict},
		{status: http.StatusUnauthorized, want: ErrUnauthorized},
		{status: http.StatusForbidden, want: ErrUnauthorized},
		{status: http.StatusBadRequest, want: ErrBadRequest},
		{status: http.StatusTooManyRequests, want: ErrTransport, retryable: true},
		{status: http.StatusBadGateway, want: ErrServer, retryable: true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			backend, srv := newFakeBackend(t)
			backend.set(func() { backend.pushStatus = tt.status })
			remote := newTestRemote(t, srv.URL, "", nil)

			_, err := remote.Push(context.Background(), models.SyncOperation{ID: "op"}, false)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestPush_ObserverSeesServerErrors(t *testing.T) {
	backend, srv := newFakeBackend(t)
	backend.set(func() { backend.pushStatus = http.StatusInternalServerError })
	observer := &recordingObserver{}
	remote := newTestRemote(t, srv.URL, "", observer)

	_, err := remote.Push(context.Background(), models.SyncOperation{ID: "op"}, false)
	require.Error(t, err)

	samples := observer.snapshot()
	require.Len(t, samples, 1)
	assert.ErrorIs(t, samples[0], ErrServer)
}

func TestExpiredToken_FailsWithoutRequest(t *testing.T) {
	backend, srv := newFakeBackend(t)
	token, err := utils.GenerateJWTToken("backend", "user-1", -time.Hour, "secret")
	require.NoError(t, err)
	remote := newTestRemote(t, srv.URL, token, nil)
	ctx := context.Background()

	_, err = remote.Push(ctx, models.SyncOperation{ID: "op"}, false)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, IsRetryable(err))

	_, err = remote.Pull(ctx, models.TableCards, 0)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = remote.Subscribe(ctx, models.TableCards, "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	assert.Zero(t, backend.requests.Load())
}

func TestPull_DropsInvalidRecords(t *testing.T) {
	backend, srv := newFakeBackend(t)
	valid := cardPayload(t, "card-1", 3)
	backend.set(func() {
		backend.pullBody = `{"entities":[` + string(valid) + `,{"id":"","user_id":"user-1","front":"x"}]}`
	})
	remote := newTestRemote(t, srv.URL, "", nil)

	got, err := remote.Pull(context.Background(), models.TableCards, 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "card-1", got[0].Base().ID)
	assert.Equal(t, int64(3), got[0].Base().SyncVersion)
}

func TestPull_MalformedBody(t *testing.T) {
	backend, srv := newFakeBackend(t)
	backend.set(func() { backend.pullBody = `not json` })
	remote := newTestRemote(t, srv.URL, "", nil)

	_, err := remote.Pull(context.Background(), models.TableCards, 0)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestPull_UnknownTable(t *testing.T) {
	_, srv := newFakeBackend(t)
	remote := newTestRemote(t, srv.URL, "", nil)

	_, err := remote.Pull(context.Background(), models.Table("notes"), 0)
	assert.ErrorIs(t, err, models.ErrUnknownTable)
}

func TestFetch(t *testing.T) {
	backend, srv := newFakeBackend(t)
	remote := newTestRemote(t, srv.URL, "", nil)

	_, err := remote.Fetch(context.Background(), models.TableCards, "card-1")
	assert.ErrorIs(t, err, ErrNotFound)

	body := string(cardPayload(t, "card-1", 7))
	backend.set(func() { backend.entityBody = body })
	got, err := remote.Fetch(context.Background(), models.TableCards, "card-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Base().SyncVersion)
}

func TestSubscribe_DeliversEventsAndPings(t *testing.T) {
	backend, srv := newFakeBackend(t)
	remote := newTestRemote(t, srv.URL, "", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub, err := remote.Subscribe(ctx, models.TableCards, "user_id=eq.user-1")
	require.NoError(t, err)
	defer sub.Close()

	frame, err := json.Marshal(ChangeMessage{
		Type:  models.ChangeInsert,
		Table: models.TableCards,
		New:   cardPayload(t, "card-1", 1),
	})
	require.NoError(t, err)
	backend.frames <- []byte(`{"type":"INSERT","table":"cards","new":{"id":""}}`)
	backend.frames <- frame

	select {
	case event := <-sub.Events():
		assert.Equal(t, models.ChangeInsert, event.Type)
		assert.Equal(t, "card-1", event.EntityID())
		assert.False(t, event.ReceivedAt.IsZero())
	case <-ctx.Done():
		t.Fatal("no event received")
	}

	require.NoError(t, sub.Ping(ctx))
}

func TestSubscribe_RemoteCloseEndsFeed(t *testing.T) {
	backend, srv := newFakeBackend(t)
	remote := newTestRemote(t, srv.URL, "", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub, err := remote.Subscribe(ctx, models.TableTags, "")
	require.NoError(t, err)
	defer sub.Close()

	close(backend.frames)

	select {
	case err := <-sub.Errors():
		assert.ErrorIs(t, err, ErrSubscriptionClosed)
	case <-ctx.Done():
		t.Fatal("no terminal error")
	}

	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestSubscribe_CloseIsIdempotent(t *testing.T) {
	_, srv := newFakeBackend(t)
	remote := newTestRemote(t, srv.URL, "", nil)

	sub, err := remote.Subscribe(context.Background(), models.TableFolders, "")
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	assert.NotPanics(t, func() { _ = sub.Close() })
	assert.ErrorIs(t, sub.Ping(context.Background()), ErrSubscriptionClosed)
}

func TestSubscribe_HandshakeRejected(t *testing.T) {
	backend, srv := newFakeBackend(t)
	backend.set(func() { backend.wsStatus = http.StatusUnauthorized })
	remote := newTestRemote(t, srv.URL, "", nil)

	_, err := remote.Subscribe(context.Background(), models.TableCards, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestDecodeChange(t *testing.T) {
	now := time.Unix(1700000000, 0)
	card := string(cardPayload(t, "card-1", 2))

	tests := []struct {
		name    string
		frame   string
		wantErr bool
	}{
		{name: "update", frame: `{"type":"UPDATE","table":"cards","old":` + card + `,"new":` + card + `}`},
		{name: "delete uses old image", frame: `{"type":"DELETE","table":"cards","old":` + card + `}`},
		{name: "table defaults to feed", frame: `{"type":"INSERT","new":` + card + `}`},
		{name: "insert without new", frame: `{"type":"INSERT","table":"cards"}`, wantErr: true},
		{name: "delete without old", frame: `{"type":"DELETE","table":"cards","new":null}`, wantErr: true},
		{name: "wrong table", frame: `{"type":"INSERT","table":"tags","new":` + card + `}`, wantErr: true},
		{name: "unknown type", frame: `{"type":"TRUNCATE","table":"cards","new":` + card + `}`, wantErr: true},
		{name: "garbage", frame: `{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := decodeChange([]byte(tt.frame), models.TableCards, now)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "card-1", event.EntityID())
			assert.Equal(t, models.TableCards, event.Table)
			assert.Equal(t, now, event.ReceivedAt)
		})
	}
}

func TestDecodeChange_CarriesVersion(t *testing.T) {
	card := string(cardPayload(t, "card-1", 2))

	event, err := decodeChange([]byte(`{"type":"DELETE","table":"cards","old":`+card+`,"version":5}`), models.TableCards, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(5), event.Version)

	event, err = decodeChange([]byte(`{"type":"DELETE","table":"cards","old":`+card+`}`), models.TableCards, time.Now())
	require.NoError(t, err)
	assert.Zero(t, event.Version)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(ErrPingTimeout))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(ErrNotFound))
}
