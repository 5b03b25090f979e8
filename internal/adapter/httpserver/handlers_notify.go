package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
	apperrors "github.com/nagpalvipin/slido-clone-sub000/internal/platform/errors"
)

type publishRequest struct {
	Type    domain.MessageType `json:"type"`
	Payload domain.Payload     `json:"payload"`
	Role    string             `json:"role,omitempty"`
}

// handlePublish accepts a committed state change from the write layer.
func (s *Server) handlePublish(c echo.Context) error {
	eventID := domain.EventID(c.Param("eventID"))

	var req publishRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if !req.Type.IsRoomEvent() {
		return apperrors.ValidationError("message type cannot be broadcast").WithField("type", req.Type)
	}
	if req.Payload == nil {
		req.Payload = domain.Payload{}
	}
	if err := domain.ValidatePayload(req.Type, req.Payload); err != nil {
		return err
	}

	if req.Role != "" {
		role, err := domain.ParseRole(req.Role)
		if err != nil {
			return apperrors.ValidationError(err.Error()).WithField("role", req.Role)
		}
		s.live.PublishToRole(eventID, role, req.Type, req.Payload)
	} else {
		s.live.Publish(eventID, req.Type, req.Payload)
	}

	if err := c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"}); err != nil {
		return fmt.Errorf("failed to write publish response: %w", err)
	}
	return nil
}

func (s *Server) handleEndEvent(c echo.Context) error {
	eventID := domain.EventID(c.Param("eventID"))
	if !s.live.EndEvent(eventID) {
		return apperrors.NotFoundError("no live room for event").WithField("event_id", eventID)
	}
	if err := c.NoContent(http.StatusNoContent); err != nil {
		return fmt.Errorf("failed to write end response: %w", err)
	}
	return nil
}

func (s *Server) handleConnections(c echo.Context) error {
	eventID := domain.EventID(c.Param("eventID"))
	response := map[string]any{
		"event_id":    eventID,
		"connections": s.live.ConnectionCount(eventID),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write connections response: %w", err)
	}
	return nil
}
