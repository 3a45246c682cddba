// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang/snappy"
	"github.com/gorilla/websocket"

	"github.com/MKhiriev/go-sync-engine/internal/config"
	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/utils"
	"github.com/MKhiriev/go-sync-engine/models"
)

type httpRemoteStore struct {
	client      *utils.HTTPClient
	dialer      *websocket.Dialer
	realtimeURL string
	token       string
	now         func() time.Time

	logger *logger.Logger
}

// NewHTTPRemoteStore constructs the HTTP + WebSocket implementation of
// [RemoteStore]. observer may be nil.
//
// Returns an error if cfg.HTTPAddress is empty or cannot be parsed as a
// valid URL.
func NewHTTPRemoteStore(cfg config.Remote, observer RequestObserver, log *logger.Logger) (RemoteStore, error) {
	baseURL, err := normalizeBaseURL(cfg.HTTPAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid remote http address: %w", err)
	}

	realtimeURL := cfg.RealtimeAddress
	if realtimeURL == "" {
		realtimeURL = baseURL
	}
	realtimeURL, err = normalizeRealtimeURL(realtimeURL)
	if err != nil {
		return nil, fmt.Errorf("invalid remote realtime address: %w", err)
	}

	token := strings.TrimSpace(cfg.Token)
	client := utils.NewHTTPClient(baseURL, cfg.RequestTimeout, token)
	if observer != nil {
		observe(client.Client, observer)
	}

	return &httpRemoteStore{
		client:      client,
		dialer:      &websocket.Dialer{HandshakeTimeout: cfg.RequestTimeout, EnableCompression: true},
		realtimeURL: realtimeURL,
		token:       token,
		now:         time.Now,
		logger:      log.WithComponent("remote"),
	}, nil
}

// observe reports every completed or failed request to o.
func observe(c *resty.Client, o RequestObserver) {
	c.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		var err error
		if resp.StatusCode() >= http.StatusInternalServerError {
			err = fmt.Errorf("%w: http %d", ErrServer, resp.StatusCode())
		}
		o.ObserveRequest(resp.Time(), resp.Size(), err)
		return nil
	})
	c.OnError(func(req *resty.Request, err error) {
		o.ObserveRequest(time.Since(req.Time), 0, err)
	})
}

func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty address")
	}

	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("address must include host and scheme")
	}

	return strings.TrimRight(u.String(), "/"), nil
}

// normalizeRealtimeURL maps http(s) schemes to ws(s).
func normalizeRealtimeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported realtime scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("address must include host")
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// checkToken fails fast with ErrUnauthorized when the bearer token is an
// expired JWT, so no request is sent that the backend would reject anyway.
func (h *httpRemoteStore) checkToken() error {
	if err := utils.CheckTokenExpiry(h.token, h.now()); err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return nil
}

// Push implements [RemoteStore]. It POSTs the operation to /api/sync/push,
// snappy-compressed when compress is set.
func (h *httpRemoteStore) Push(ctx context.Context, op models.SyncOperation, compress bool) (models.Ack, error) {
	if err := h.checkToken(); err != nil {
		return models.Ack{}, err
	}

	body, err := json.Marshal(PushRequest{Operation: op})
	if err != nil {
		return models.Ack{}, fmt.Errorf("encode push request: %w", err)
	}

	req := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json")
	if compress {
		body = snappy.Encode(nil, body)
		req.SetHeader("Content-Encoding", "snappy")
	}

	resp, err := req.SetBody(body).Post("/api/sync/push")
	if err != nil {
		return models.Ack{}, mapTransportError("push request", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return models.Ack{}, err
	}

	var ack models.Ack
	if err = json.Unmarshal(resp.Body(), &ack); err != nil {
		return models.Ack{}, fmt.Errorf("%w: decode push ack: %w", ErrInvalidPayload, err)
	}
	if ack.OperationID == "" {
		ack.OperationID = op.ID
	}
	if ack.EntityID == "" {
		ack.EntityID = op.EntityID
	}
	return ack, nil
}

// Pull implements [RemoteStore]. It GETs /api/sync/pull/{table}?since=N.
// Records failing validation are dropped with a warning so one bad row
// cannot block a table forever.
func (h *httpRemoteStore) Pull(ctx context.Context, table models.Table, sinceVersion int64) ([]models.Entity, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownTable, table)
	}
	if err := h.checkToken(); err != nil {
		return nil, err
	}

	resp, err := h.client.R().
		SetContext(ctx).
		SetPathParam("table", string(table)).
		SetQueryParam("since", strconv.FormatInt(sinceVersion, 10)).
		Get("/api/sync/pull/{table}")
	if err != nil {
		return nil, mapTransportError("pull request", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return nil, err
	}

	var body PullResponse
	if err = json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("%w: decode pull response: %w", ErrInvalidPayload, err)
	}

	entities := make([]models.Entity, 0, len(body.Entities))
	for _, raw := range body.Entities {
		e, err := models.DecodeEntity(table, raw)
		if err != nil {
			h.logger.Warn().Err(err).
				Str("table", string(table)).
				Msg("dropping invalid record from pull")
			continue
		}
		entities = append(entities, e)
	}
	return entities, nil
}

// Fetch implements [RemoteStore]. It GETs /api/entities/{table}/{id}.
func (h *httpRemoteStore) Fetch(ctx context.Context, table models.Table, id string) (models.Entity, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownTable, table)
	}
	if err := h.checkToken(); err != nil {
		return nil, err
	}

	resp, err := h.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"table": string(table), "id": id}).
		Get("/api/entities/{table}/{id}")
	if err != nil {
		return nil, mapTransportError("fetch request", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return nil, err
	}

	e, err := models.DecodeEntity(table, resp.Body())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return e, nil
}
