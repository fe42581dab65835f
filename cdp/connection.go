/*
 *
 * cypress-code-coverage-v8 - native browser coverage for end-to-end test runs
 * Copyright (C) 2024 parkuman
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package cdp owns the single connection to the browser's runtime-debugging
// protocol: dialing, the message loops, and the session manager that retries,
// reconnects and exposes the Profiler-domain capture calls to the rest of the
// pipeline.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/inspector"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"

	"github.com/parkuman/cypress-code-coverage-v8/log"
)

const wsWriteBufferSize = 1 << 20

// ErrChannelClosed is returned when a command's reply channel was closed
// before a response arrived.
var ErrChannelClosed = errors.New("channel closed")

// Ensure Connection implements the Executor interface.
var _ cdp.Executor = &Connection{}

// Connection represents one WebSocket connection to a page target's
// debugging session. Reads and writes run on their own goroutines; command
// replies are routed back to callers by message ID.
type Connection struct {
	ctx          context.Context
	wsURL        string
	logger       *log.Logger
	conn         *websocket.Conn
	sendCh       chan *cdproto.Message
	errorCh      chan error
	done         chan struct{}
	closed       chan struct{}
	shutdownOnce sync.Once
	msgID        int64

	pendingMu sync.Mutex
	pending   map[int64]chan *cdproto.Message

	// Reuse the easyjson structs to avoid allocs per Read/Write.
	decoder jlexer.Lexer
	encoder jwriter.Writer
}

// NewConnection dials the given websocket debugger URL and starts the
// message loops.
func NewConnection(ctx context.Context, wsURL string, logger *log.Logger) (*Connection, error) {
	wsd := websocket.Dialer{
		HandshakeTimeout: time.Second * 60,
		WriteBufferSize:  wsWriteBufferSize,
	}

	conn, _, connErr := wsd.DialContext(ctx, wsURL, nil)
	if connErr != nil {
		return nil, connErr
	}

	c := Connection{
		ctx:     ctx,
		wsURL:   wsURL,
		logger:  logger,
		conn:    conn,
		sendCh:  make(chan *cdproto.Message, 32), // Avoid blocking in Execute
		errorCh: make(chan error),
		done:    make(chan struct{}),
		closed:  make(chan struct{}),
		msgID:   0,
		pending: make(map[int64]chan *cdproto.Message),
	}

	go c.recvLoop()
	go c.sendLoop()

	return &c, nil
}

// Closed returns a channel that is closed once the connection has shut down,
// whether by Close or by the peer going away.
func (c *Connection) Closed() <-chan struct{} {
	return c.closed
}

// Close cleanly closes the WebSocket connection.
func (c *Connection) Close() {
	_ = c.closeConnection(websocket.CloseGoingAway)
}

// closeConnection cleanly closes the WebSocket connection.
// Returns an error if sending the close control frame fails.
func (c *Connection) closeConnection(code int) error {
	var err error

	c.shutdownOnce.Do(func() {
		defer func() {
			_ = c.conn.Close()

			// Stop the main control loop
			close(c.done)
			close(c.closed)
		}()

		err = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, ""),
			time.Now().Add(10*time.Second),
		)

		c.pendingMu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()
	})

	return err
}

// handleIOError hands an unexpected closure to an in-flight caller if one is
// waiting, then shuts the connection down. It must never block: when no
// command is in flight there is nobody to consume the error, and the
// disconnect observer relies on the shutdown happening regardless.
func (c *Connection) handleIOError(err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		select {
		case c.errorCh <- err:
		default:
			c.logger.Debugf("cov:cdp", "connection lost: %v", err)
		}
	}
	code := websocket.CloseGoingAway
	if e, ok := err.(*websocket.CloseError); ok {
		code = e.Code
	}
	_ = c.closeConnection(code)
}

func (c *Connection) recvLoop() {
	for {
		_, buf, err := c.conn.ReadMessage()
		if err != nil {
			c.handleIOError(err)
			return
		}

		c.logger.Tracef("cov:cdp:recv", "<- %s", buf)

		var msg cdproto.Message
		c.decoder = jlexer.Lexer{Data: buf}
		msg.UnmarshalEasyJSON(&c.decoder)
		if err := c.decoder.Error(); err != nil {
			select {
			case c.errorCh <- err:
			default:
				c.logger.Errorf("cov:cdp", "decoding incoming message: %v", err)
			}
			continue
		}

		switch {
		case msg.ID != 0:
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.pendingMu.Unlock()
			if !ok {
				c.logger.Debugf("cov:cdp", "dropping reply to unknown message ID %d", msg.ID)
				continue
			}
			m := msg
			select {
			case ch <- &m:
			case <-c.done:
				return
			}

		case msg.Method == cdproto.EventInspectorDetached:
			reason := "unknown"
			if ev, err := cdproto.UnmarshalMessage(&msg); err == nil {
				if detached, ok := ev.(*inspector.EventDetached); ok {
					reason = fmt.Sprintf("%s", detached.Reason)
				}
			}
			// Not an error: an expected teardown at suite end looks exactly
			// like a transient drop from here.
			c.logger.Debugf("cov:cdp", "debugger target detached: %s", reason)

		case msg.Method != "":
			c.logger.Tracef("cov:cdp", "ignoring event %s", msg.Method)

		default:
			c.logger.Errorf("cov:cdp", "ignoring malformed incoming message (missing id or method): %#v", msg)
		}
	}
}

func (c *Connection) send(msg *cdproto.Message, recvCh chan *cdproto.Message, res easyjson.Unmarshaler) error {
	select {
	case c.sendCh <- msg:
	case err := <-c.errorCh:
		return err
	case <-c.done:
		return ErrChannelClosed
	}

	if recvCh != nil {
		// Block waiting for response.
		select {
		case msg := <-recvCh:
			switch {
			case msg == nil:
				return ErrChannelClosed
			case msg.Error != nil:
				return msg.Error
			case res != nil:
				return easyjson.Unmarshal(msg.Result, res)
			}
		case err := <-c.errorCh:
			return err
		case <-c.done:
			return ErrChannelClosed
		}
	}

	return nil
}

func (c *Connection) sendLoop() {
	for {
		select {
		case msg := <-c.sendCh:
			c.encoder = jwriter.Writer{}
			msg.MarshalEasyJSON(&c.encoder)
			if err := c.encoder.Error; err != nil {
				select {
				case c.errorCh <- err:
				case <-c.done:
					return
				}
				continue
			}

			buf, _ := c.encoder.BuildBytes()
			c.logger.Tracef("cov:cdp:send", "-> %s", buf)
			writer, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.handleIOError(err)
				return
			}
			if _, err := writer.Write(buf); err != nil {
				c.handleIOError(err)
				return
			}
			if err := writer.Close(); err != nil {
				c.handleIOError(err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// Execute implements cdp.Executor and performs a synchronous send and receive.
func (c *Connection) Execute(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	id := atomic.AddInt64(&c.msgID, 1)

	ch := make(chan *cdproto.Message, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	var buf []byte
	if params != nil {
		var err error
		buf, err = easyjson.Marshal(params)
		if err != nil {
			return err
		}
	}
	msg := &cdproto.Message{
		ID:     id,
		Method: cdproto.MethodType(method),
		Params: buf,
	}
	return c.send(msg, ch, res)
}
