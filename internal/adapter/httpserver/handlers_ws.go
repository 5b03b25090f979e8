package httpserver

import (
	"context"
	"errors"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/nagpalvipin/slido-clone-sub000/internal/adapter/websocket"
	"github.com/nagpalvipin/slido-clone-sub000/internal/broadcast"
	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
)

// handleWebSocket upgrades an authenticated handshake and hands the socket
// to the broadcaster. Rejected handshakes are upgraded too, so the client
// receives an error frame before the close.
func (s *Server) handleWebSocket(c echo.Context) error {
	eventID := domain.EventID(c.Param("eventID"))
	token := c.QueryParam("token")
	ip := c.RealIP()
	// The connection outlives the handshake request.
	ctx := context.WithoutCancel(c.Request().Context())

	acquired, limitReason := s.limits.Acquire(ip)
	var (
		role      domain.Role
		verifyErr error
	)
	if acquired {
		role, verifyErr = s.verifier.Verify(ctx, eventID, token)
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		if acquired {
			s.limits.Release(ip)
		}
		slog.DebugContext(ctx, "WebSocket upgrade failed", "error", err)
		return nil
	}
	transport := websocket.NewConn(ws)

	if !acquired {
		slog.WarnContext(ctx, "Connection limit reached", "reason", limitReason, "ip", ip)
		s.reject(ctx, transport, eventID, domain.CodeConnectionLimit, "too many connections")
		return nil
	}

	release := func() { s.limits.Release(ip) }

	if verifyErr != nil {
		release()
		if errors.Is(verifyErr, domain.ErrInvalidToken) {
			slog.InfoContext(ctx, "Handshake rejected", "error", verifyErr)
			s.reject(ctx, transport, eventID, domain.CodeUnauthorized, "invalid token")
		} else {
			slog.ErrorContext(ctx, "Token verification failed", "error", verifyErr)
			s.reject(ctx, transport, eventID, domain.CodeInternal, "token verification failed")
		}
		return nil
	}

	conn, err := s.live.Connect(ctx, broadcast.ConnectRequest{EventID: eventID, Role: role, Transport: transport})
	if err != nil {
		release()
		if errors.Is(err, domain.ErrRoomFull) {
			s.reject(ctx, transport, eventID, domain.CodeRoomFull, "room is full")
		} else {
			slog.ErrorContext(ctx, "Failed to join room", "error", err)
			s.reject(ctx, transport, eventID, domain.CodeInternal, "could not join room")
		}
		return nil
	}

	go func() {
		<-conn.Closed()
		release()
	}()
	return nil
}

func (s *Server) reject(ctx context.Context, transport *websocket.Conn, eventID domain.EventID, code domain.ErrorCode, message string) {
	frame, err := domain.ErrorMessage(eventID, code, message, s.clock.Now()).Encode()
	if err == nil {
		if err := transport.WriteFrame(frame); err != nil {
			slog.DebugContext(ctx, "Failed to write rejection frame", "error", err)
		}
	}
	_ = transport.Close(domain.CloseHandshakeRejected)
}
