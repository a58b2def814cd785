package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/stream"
)

// RegisterStream wires only the SSE and health endpoints, for nodes that
// serve live updates without accepting writes.
func RegisterStream(e *echo.Echo, boards Snapshotter, hub *stream.Hub, auth Authenticator, health Pinger, logger *log.Logger, ping time.Duration) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	e.GET("/healthz", healthz(health))
	e.GET("/api/boards/:boardId/stream", streamBoard(boards, hub, auth, logger, ping))
}

// streamBoard subscribes before loading the snapshot so no event committed
// in between is lost. Replayed moves are harmless since they carry absolute
// positions.
func streamBoard(boards Snapshotter, hub *stream.Hub, auth Authenticator, logger *log.Logger, ping time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(authHeader(c, true))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("boardId")
		session := sessionID(c)
		ctx := c.Request().Context()

		sub := hub.Subscribe(boardID, session)
		defer sub.Close()

		snap, err := boards.Snapshot(ctx, userID, boardID)
		if err != nil {
			return writeError(c, logger, err)
		}

		entry := logger.WithFields(log.Fields{"board_id": boardID, "user_id": userID, "session_id": session})
		entry.Debug("stream opened")
		err = stream.ServeSSE(ctx, c.Response(), sub, snap, ping)
		switch {
		case err == nil:
			entry.Debug("stream closed")
		case errors.Is(err, stream.ErrDropped):
			entry.Warn("stream subscriber dropped")
		case !c.Response().Committed:
			return c.String(http.StatusInternalServerError, err.Error())
		default:
			entry.WithError(err).Debug("stream write failed")
		}
		return nil
	}
}
