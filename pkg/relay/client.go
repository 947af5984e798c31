// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendQueueFull    = errors.New("send queue full")
)

// Disconnect reasons reported to the session.
const (
	reasonClientClose   = "client namespace disconnect"
	reasonTransportErr  = "transport error"
	reasonPingTimeout   = "ping timeout"
	reasonServerClosing = "server shutting down"
	reasonLocalClose    = "server closed connection"
)

// wsClient adapts a single WebSocket connection to the Handle interface.
// Outbound frames are queued and written by a dedicated goroutine, so Emit
// never blocks on the network.
type wsClient struct {
	id   ConnectionID
	conn *websocket.Conn
	cfg  WebSocketConfig

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	log zerolog.Logger
}

var _ Handle = (*wsClient)(nil)

func newWSClient(id ConnectionID, conn *websocket.Conn, cfg WebSocketConfig, log zerolog.Logger) *wsClient {
	return &wsClient{
		id:   id,
		conn: conn,
		cfg:  cfg,
		send: make(chan []byte, cfg.SendQueueSize),
		done: make(chan struct{}),
		log:  log.With().Str("component", "ws_client").Str("conn_id", id.String()).Logger(),
	}
}

// Emit queues an event for this connection. It fails when the connection is
// closed or its queue is full; the event is not retried.
func (c *wsClient) Emit(event string, payload any) error {
	frame, err := EncodeEnvelope(event, payload)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- frame:
		// done may have closed while the queue still had room.
		if c.isClosed() {
			return ErrConnectionClosed
		}
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return fmt.Errorf("%w (%d queued)", ErrSendQueueFull, len(c.send))
	}
}

// close stops the write loop and closes the socket. Safe to call repeatedly.
func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if err := c.conn.Close(); err != nil {
			c.log.Debug().Err(err).Msg("Error closing connection")
		}
	})
}

// shutdown sends a close frame before closing the connection.
func (c *wsClient) shutdown() {
	deadline := time.Now().Add(c.cfg.writeTimeout())
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reasonServerClosing)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		c.log.Debug().Err(err).Msg("Failed to send close frame")
	}
	c.close()
}

// writeLoop drains the send queue and keeps the connection alive with
// pings until the client is closed.
func (c *wsClient) writeLoop() {
	ticker := time.NewTicker(c.cfg.pingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout())); err != nil {
				c.log.Warn().Err(err).Msg("Failed to set write deadline")
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Warn().Err(err).Msg("Write failed, closing connection")
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.writeTimeout())); err != nil {
				c.log.Warn().Err(err).Msg("Ping failed, closing connection")
				c.close()
				return
			}
		}
	}
}

// readLoop feeds inbound frames to session until the connection ends, then
// disconnects the session. Malformed frames are reported as errors and
// skipped.
func (c *wsClient) readLoop(session *Session) {
	reason := reasonClientClose
	defer func() {
		c.close()
		session.Disconnect(reason)
	}()

	c.conn.SetReadLimit(c.cfg.ReadLimit)
	pongWait := c.cfg.pongWait()
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn().Err(err).Msg("Failed to set read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, frame, err := c.conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				reason = reasonLocalClose
				return
			}
			reason = disconnectReason(err)
			if reason != reasonClientClose {
				session.ReportError(err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			session.ReportError(fmt.Errorf("unsupported frame type %d", msgType))
			continue
		}
		env, err := DecodeEnvelope(frame)
		if err != nil {
			session.ReportError(fmt.Errorf("failed to decode event: %w", err))
			continue
		}
		session.HandleEvent(env)
	}
}

func (c *wsClient) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// disconnectReason classifies a read error into a disconnect reason.
func disconnectReason(err error) string {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return reasonClientClose
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return reasonPingTimeout
	}
	return reasonTransportErr
}
