package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"prism-board/move"
)

func postMove(d *Deps) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newMoveRequestMetrics(d.Logger, "/api/moves")
		var res outcome
		defer func() {
			logErr := err
			if res.err != nil {
				logErr = res.err
			}
			metrics.Log(c.Response().Status, logErr)
		}()

		authStart := time.Now()
		userID, authErr := d.Auth.UserIDFromAuthHeader(authHeader(c, false))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			return c.String(http.StatusUnauthorized, authErr.Error())
		}

		res, err = respond(c, d, userID, func() (int, any, error) {
			var req move.Request
			if err := decodeBody(c, &req, false); err != nil {
				metrics.SetErrorStage("decode")
				return 0, nil, err
			}
			req.ActorID = userID
			req.SessionID = sessionID(c)
			metrics.SetItemKind(string(req.Kind))

			moveStart := time.Now()
			result, err := d.Moves.Move(c.Request().Context(), req)
			metrics.ObserveMove(time.Since(moveStart))
			if err != nil {
				metrics.SetErrorStage("move")
				return 0, nil, err
			}
			metrics.SetItemsMoved(1)
			metrics.SetRenumbered(result.Renumbered)
			if result.Automation != nil {
				metrics.SetRulesApplied(result.Automation.Applied)
			}
			return http.StatusOK, result, nil
		})
		metrics.SetReplayed(res.replayed)
		return err
	}
}

func moveAllCards(d *Deps) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newMoveRequestMetrics(d.Logger, "/api/columns/:columnId/move-cards")
		var res outcome
		defer func() {
			logErr := err
			if res.err != nil {
				logErr = res.err
			}
			metrics.Log(c.Response().Status, logErr)
		}()

		authStart := time.Now()
		userID, authErr := d.Auth.UserIDFromAuthHeader(authHeader(c, false))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			return c.String(http.StatusUnauthorized, authErr.Error())
		}

		res, err = respond(c, d, userID, func() (int, any, error) {
			var req move.BulkRequest
			if err := decodeBody(c, &req, false); err != nil {
				metrics.SetErrorStage("decode")
				return 0, nil, err
			}
			req.ActorID = userID
			req.SessionID = sessionID(c)
			req.SourceColumnID = c.Param("columnId")
			metrics.SetItemKind(string(move.KindCard))

			moveStart := time.Now()
			result, err := d.Moves.MoveAllCards(c.Request().Context(), req)
			metrics.ObserveMove(time.Since(moveStart))
			if err != nil {
				metrics.SetErrorStage("move")
				return 0, nil, err
			}
			metrics.SetItemsMoved(len(result.Moved))
			metrics.SetRulesApplied(result.Automation.Applied)
			return http.StatusOK, result, nil
		})
		metrics.SetReplayed(res.replayed)
		return err
	}
}

func copyColumn(d *Deps) echo.HandlerFunc {
	return mutate(d, func(c echo.Context, userID, session string) (int, any, error) {
		var req move.CopyRequest
		if err := decodeBody(c, &req, true); err != nil {
			return 0, nil, err
		}
		req.ActorID = userID
		req.SessionID = session
		req.ColumnID = c.Param("columnId")
		result, err := d.Moves.CopyColumn(c.Request().Context(), req)
		return http.StatusCreated, result, err
	})
}
