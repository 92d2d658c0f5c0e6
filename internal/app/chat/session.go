/*
Package chat contains the core logic of the chat server.

This file defines the Session struct, one per live WebSocket connection. It
owns the connection's read and write pumps and the buffered outbound queue the
engine delivers frames through.
*/
package chat

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tildechat/internal/pkg/wire"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client. The
	// largest legal request is SEND_MESSAGE: opcode + two length-prefixed
	// 255-byte fields.
	maxFrameSize = 1 + 1 + 255 + 1 + 255

	// sendQueueSize is the per-session outbound buffer. A full queue drops
	// the frame; the client can recover history with GET_MESSAGES.
	sendQueueSize = 256
)

// Session represents one admitted user and their connection. The presence
// state and lastAction fields are read and written only under the roster
// lock; the send queue is safe for concurrent use.
type Session struct {
	// claimed name, fixed at admission.
	name string

	// presence state; never StatusDisconnected while in the roster.
	status wire.Status

	// wall-clock instant of the last client-originated action.
	lastAction time.Time

	// underlying WebSocket connection object.
	conn *websocket.Conn

	// buffered channel of encoded frames waiting to be written out.
	send chan []byte

	// engine dispatching this session's frames.
	engine *Engine

	// structured logger with session context.
	logger zerolog.Logger
}

// NewSession constructs a session for an upgraded connection. The engine
// admits it into the roster separately.
func NewSession(engine *Engine, conn *websocket.Conn, name string, logger zerolog.Logger) *Session {
	return &Session{
		name:   name,
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		engine: engine,
		logger: logger,
	}
}

// Name returns the session's claimed name.
func (s *Session) Name() string {
	return s.name
}

// enqueue queues an encoded frame for delivery. A full queue drops the frame
// with a warning; there is no retry.
func (s *Session) enqueue(frame []byte) {
	select {
	case s.send <- frame:
	default:
		s.logger.Warn().Int("queue_len", len(s.send)).Msg("Session send queue full, dropping frame")
	}
}

// ReadPump reads binary frames from the connection and hands each one to the
// engine in arrival order. It runs the disconnect path on exit.
func (s *Session) ReadPump() {
	defer s.cleanupOnDisconnect()

	s.conn.SetReadLimit(maxFrameSize)

	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Info().Err(err).Msg("Error reading frame (client close/going away)")
			}
			break
		}

		if msgType != websocket.BinaryMessage {
			s.logger.Warn().Int("msg_type", msgType).Msg("Dropping non-binary message")
			continue
		}

		s.engine.HandleFrame(s, frame)
	}
}

// cleanupOnDisconnect removes the session from the roster, broadcasts the
// farewell, and closes the connection.
func (s *Session) cleanupOnDisconnect() {
	s.logger.Info().Msg("Session connection cleanup starting.")

	s.engine.Disconnect(s)

	if err := s.conn.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("Session connection close error")
	}
}

// WritePump writes queued frames to the connection and keeps the heartbeat
// alive with periodic pings.
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := s.conn.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Session connection close error in WritePump")
		}
	}()

	for {
		select {
		case frame, ok := <-s.send:
			if !s.writeQueuedFrame(frame, ok) {
				return
			}

		case <-ticker.C:
			if !s.writePingMessage() {
				return
			}
		}
	}
}

// writeQueuedFrame writes one frame pulled from the send queue. Returns true
// if the WritePump loop should continue.
func (s *Session) writeQueuedFrame(frame []byte, ok bool) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := s.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			s.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		s.logger.Error().Err(err).Msg("Error writing frame")
		return false
	}

	return true
}

// writePingMessage sends a periodic WebSocket ping. Returns false if the
// WritePump loop should terminate.
func (s *Session) writePingMessage() bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		s.logger.Error().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// closeSend closes the outbound queue, waking the write pump so it can send
// the close frame. Only the disconnect path calls this, once.
func (s *Session) closeSend() {
	close(s.send)
}
