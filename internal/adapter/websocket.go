// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/models"
)

const (
	eventBufferSize = 256
	writeWait       = 5 * time.Second
)

// Subscribe implements [RemoteStore]. It dials {realtime}/api/realtime and
// starts a reader goroutine that decodes frames until the feed ends. The
// dial is bounded by ctx; the returned subscription outlives it.
func (h *httpRemoteStore) Subscribe(ctx context.Context, table models.Table, filter string) (Subscription, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownTable, table)
	}
	if err := h.checkToken(); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("table", string(table))
	if filter != "" {
		query.Set("filter", filter)
	}
	target := h.realtimeURL + "/api/realtime?" + query.Encode()

	header := http.Header{}
	if h.token != "" {
		header.Set("Authorization", "Bearer "+h.token)
	}

	conn, resp, err := h.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			if statusErr := mapStatus(resp.StatusCode, ""); statusErr != nil {
				return nil, fmt.Errorf("subscribe %s: %w", table, statusErr)
			}
		}
		return nil, mapTransportError("subscribe "+string(table), err)
	}

	log := &logger.Logger{Logger: h.logger.With().Str("table", string(table)).Logger()}
	sub := newWSSubscription(conn, table, h.now, log)
	go sub.readLoop()

	return sub, nil
}

type wsSubscription struct {
	conn  *websocket.Conn
	table models.Table
	now   func() time.Time

	events chan models.ChangeEvent
	errs   chan error
	pongs  chan struct{}
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once

	logger *logger.Logger
}

func newWSSubscription(conn *websocket.Conn, table models.Table, now func() time.Time, log *logger.Logger) *wsSubscription {
	s := &wsSubscription{
		conn:   conn,
		table:  table,
		now:    now,
		events: make(chan models.ChangeEvent, eventBufferSize),
		errs:   make(chan error, 1),
		pongs:  make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: log,
	}

	conn.SetPongHandler(func(string) error {
		select {
		case s.pongs <- struct{}{}:
		default:
		}
		return nil
	})

	return s
}

func (s *wsSubscription) Events() <-chan models.ChangeEvent { return s.events }
func (s *wsSubscription) Errors() <-chan error              { return s.errs }

// Ping sends a WebSocket ping and waits for the matching pong.
func (s *wsSubscription) Ping(ctx context.Context) error {
	select {
	case <-s.done:
		return ErrSubscriptionClosed
	default:
	}

	// drop a pong left over from an earlier probe
	select {
	case <-s.pongs:
	default:
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	err := s.conn.WriteControl(websocket.PingMessage, nil, deadline)
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: write ping: %w", ErrTransport, err)
	}

	select {
	case <-s.pongs:
		return nil
	case <-s.done:
		return ErrSubscriptionClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrPingTimeout, ctx.Err())
	}
}

// Close implements [Subscription].
func (s *wsSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)

		s.writeMu.Lock()
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		s.writeMu.Unlock()

		err = s.conn.Close()
	})
	return err
}

func (s *wsSubscription) readLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(err)
			return
		}

		event, err := decodeChange(data, s.table, s.now())
		if err != nil {
			s.logger.Warn().Err(err).Msg("dropping invalid change frame")
			continue
		}

		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
}

// fail reports a read error unless the subscription was closed locally.
func (s *wsSubscription) fail(err error) {
	select {
	case <-s.done:
		return
	default:
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		err = ErrSubscriptionClosed
	} else {
		err = fmt.Errorf("%w: read %s feed: %w", ErrTransport, s.table, err)
	}

	select {
	case s.errs <- err:
	default:
	}
}

var _ Subscription = (*wsSubscription)(nil)
