package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/board"
	"prism-board/domain"
)

const maxBodySize = 64 << 10

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	dp := &d

	e.Use(decompressBody())
	e.GET("/healthz", healthz(d.Health))

	e.POST("/api/boards", mutate(dp, createBoard(d.Boards)))
	e.GET("/api/boards/:boardId", getBoard(d.Boards, d.Auth, d.Logger))
	e.PATCH("/api/boards/:boardId", mutate(dp, renameBoard(d.Boards)))
	e.POST("/api/boards/:boardId/members", mutate(dp, putMember(d.Boards)))
	e.DELETE("/api/boards/:boardId/members/:userId", mutate(dp, removeMember(d.Boards)))
	e.POST("/api/boards/:boardId/columns", mutate(dp, createColumn(d.Boards)))
	e.POST("/api/boards/:boardId/labels", mutate(dp, createLabel(d.Boards)))
	e.GET("/api/boards/:boardId/stream", streamBoard(d.Boards, d.Hub, d.Auth, d.Logger, d.PingInterval))

	e.PATCH("/api/columns/:columnId", mutate(dp, updateColumn(d.Boards)))
	e.DELETE("/api/columns/:columnId", mutate(dp, deleteColumn(d.Boards)))
	e.POST("/api/columns/:columnId/copy", copyColumn(dp))
	e.POST("/api/columns/:columnId/move-cards", moveAllCards(dp))
	e.POST("/api/columns/:columnId/cards", mutate(dp, createCard(d.Boards)))
	e.GET("/api/columns/:columnId/rules", listRules(d.Boards, d.Auth, d.Logger))
	e.POST("/api/columns/:columnId/rules", mutate(dp, createRule(d.Boards)))
	e.DELETE("/api/rules/:ruleId", mutate(dp, deleteRule(d.Boards)))

	e.PATCH("/api/cards/:cardId", mutate(dp, updateCard(d.Boards)))
	e.DELETE("/api/cards/:cardId", mutate(dp, deleteCard(d.Boards)))
	e.POST("/api/cards/:cardId/labels", mutate(dp, attachLabel(d.Boards)))
	e.DELETE("/api/cards/:cardId/labels/:labelId", mutate(dp, detachLabel(d.Boards)))

	e.POST("/api/moves", postMove(dp))
}

func healthz(store Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if store != nil {
			if err := store.Ping(c.Request().Context()); err != nil {
				return c.String(http.StatusServiceUnavailable, err.Error())
			}
		}
		return c.NoContent(http.StatusOK)
	}
}

func sessionID(c echo.Context) string {
	if s := c.Request().Header.Get(HeaderSessionID); s != "" {
		return s
	}
	return c.QueryParam("session")
}

// decodeBody reads a JSON body into v. An empty body is accepted when
// optional is set.
func decodeBody(c echo.Context, v any, optional bool) error {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize))
	if err != nil {
		return domain.Invalidf("invalid body")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		if optional {
			return nil
		}
		return domain.Invalidf("invalid body")
	}
	dec := sonic.ConfigStd.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.Invalidf("invalid body")
	}
	return nil
}

// mutation performs one authenticated write and returns the status and body
// to send on success. A nil body means no content.
type mutation func(c echo.Context, userID, sessionID string) (int, any, error)

func mutate(d *Deps, fn mutation) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := d.Auth.UserIDFromAuthHeader(authHeader(c, false))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		session := sessionID(c)
		_, err = respond(c, d, userID, func() (int, any, error) {
			return fn(c, userID, session)
		})
		return err
	}
}

type outcome struct {
	replayed bool
	err      error
}

// respond runs fn at most once per Idempotency-Key and writes its result. A
// repeated key replays the stored response; a key whose first request is
// still running is a conflict. Failures release the key.
func respond(c echo.Context, d *Deps, userID string, fn func() (int, any, error)) (outcome, error) {
	ctx := c.Request().Context()
	key := strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey))
	if key != "" && d.Deduper != nil {
		added, err := d.Deduper.Add(ctx, userID, key)
		switch {
		case err != nil:
			d.Logger.WithError(err).Warn("idempotency check failed; processing without it")
			key = ""
		case !added:
			stored, ok, err := d.Deduper.Lookup(ctx, userID, key)
			if err != nil {
				d.Logger.WithError(err).Warn("idempotency lookup failed")
			}
			if !ok {
				conflict := domain.Conflictf("request with this idempotency key is in progress")
				return outcome{err: conflict}, writeError(c, d.Logger, conflict)
			}
			return outcome{replayed: true}, writeStored(c, stored)
		}
	} else {
		key = ""
	}

	status, out, err := fn()
	if err != nil {
		if key != "" {
			if rmErr := d.Deduper.Remove(context.WithoutCancel(ctx), userID, key); rmErr != nil {
				d.Logger.WithError(rmErr).Warn("release idempotency key failed")
			}
		}
		return outcome{err: err}, writeError(c, d.Logger, err)
	}

	stored := StoredResponse{Status: status}
	if out != nil {
		if stored.Body, err = sonic.Marshal(out); err != nil {
			return outcome{err: err}, writeError(c, d.Logger, err)
		}
	}
	if key != "" {
		if err := d.Deduper.Complete(context.WithoutCancel(ctx), userID, key, stored); err != nil {
			d.Logger.WithError(err).Warn("store idempotent response failed")
		}
	}
	return outcome{}, writeStored(c, stored)
}

func writeStored(c echo.Context, resp StoredResponse) error {
	if len(resp.Body) == 0 {
		return c.NoContent(resp.Status)
	}
	return c.JSONBlob(resp.Status, resp.Body)
}

type nameRequest struct {
	Name string `json:"name"`
}

type memberRequest struct {
	UserID string      `json:"userId"`
	Role   domain.Role `json:"role"`
}

type labelRequest struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type attachLabelRequest struct {
	LabelID string `json:"labelId"`
}

func createBoard(boards *board.Service) mutation {
	return func(c echo.Context, userID, _ string) (int, any, error) {
		var req nameRequest
		if err := decodeBody(c, &req, false); err != nil {
			return 0, nil, err
		}
		b, err := boards.CreateBoard(c.Request().Context(), userID, req.Name)
		return http.StatusCreated, b, err
	}
}

func getBoard(boards Snapshotter, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(authHeader(c, false))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		snap, err := boards.Snapshot(c.Request().Context(), userID, c.Param("boardId"))
		if err != nil {
			return writeError(c, logger, err)
		}
		return c.JSON(http.StatusOK, snap)
	}
}

func renameBoard(boards *board.Service) mutation {
	return func(c echo.Context, userID, session string) (int, any, error) {
		var req nameRequest
		if err := decodeBody(c, &req, false); err != nil {
			return 0, nil, err
		}
		b, err := boards.RenameBoard(c.Request().Context(), userID, session, c.Param("boardId"), req.Name)
		return http.StatusOK, b, err
	}
}

func putMember(boards *board.Service) mutation {
	return func(c echo.Context, userID, _ string) (int, any, error) {
		var req memberRequest
		if err := decodeBody(c, &req, false); err != nil {
			return 0, nil, err
		}
		m, err := boards.PutMember(c.Request().Context(), userID, c.Param("boardId"), req.UserID, req.Role)
		return http.StatusOK, m, err
	}
}

func removeMember(boards *board.Service) mutation {
	return func(c echo.Context, userID, _ string) (int, any, error) {
		err := boards.RemoveMember(c.Request().Context(), userID, c.Param("boardId"), c.Param("userId"))
		return http.StatusNoContent, nil, err
	}
}

func createColumn(boards *board.Service) mutation {
	return func(c echo.Context, userID, session string) (int, any, error) {
		var req nameRequest
		if err := decodeBody(c, &req, false); err != nil {
			return 0, nil, err
		}
		col, err := boards.CreateColumn(c.Request().Context(), userID, session, c.Param("boardId"), req.Name)
		return http.StatusCreated, col, err
	}
}

func updateColumn(boards *board.Service) mutation {
	return func(c echo.Context, userID, session string) (int, any, error) {
		var patch board.ColumnPatch
		if err := decodeBody(c, &patch, false); err != nil {
			return 0, nil, err
		}
		col, err := boards.UpdateColumn(c.Request().Context(), userID, session, c.Param("columnId"), patch)
		return http.StatusOK, col, err
	}
}

func deleteColumn(boards *board.Service) mutation {
	return func(c echo.Context, userID, session string) (int, any, error) {
		err := boards.DeleteColumn(c.Request().Context(), userID, session, c.Param("columnId"))
		return http.StatusNoContent, nil, err
	}
}

func createLabel(boards *board.Service) mutation {
	return func(c echo.Context, userID, session string) (int, any, error) {
		var req labelRequest
		if err := decodeBody(c, &req, false); err != nil {
			return 0, nil, err
		}
		l, err := boards.CreateLabel(c.Request().Context(), userID, session, c.Param("boardId"), req.Name, req.Color)
		return http.StatusCreated, l, err
	}
}

func createCard(boards *board.Service) mutation {
	return func(c echo.Context, userID, session string) (int, any, error) {
		var in board.CardInput
		if err := decodeBody(c, &in, false); err != nil {
			return 0, nil, err
		}
		card, err := boards.CreateCard(c.Request().Context(), userID, session, c.Param("columnId"), in)
		return http.StatusCreated, card, err
	}
}

func updateCard(boards *board.Service) mutation {
	return func(c echo.Context, userID, session string) (int, any, error) {
		var patch board.CardPatch
		if err := decodeBody(c, &patch, false); err != nil {
			return 0, nil, err
		}
		card, err := boards.UpdateCard(c.Request().Context(), userID, session, c.Param("cardId"), patch)
		return http.StatusOK, card, err
	}
}

func deleteCard(boards *board.Service) mutation {
	return func(c echo.Context, userID, session string) (int, any, error) {
		err := boards.DeleteCard(c.Request().Context(), userID, session, c.Param("cardId"))
		return http.StatusNoContent, nil, err
	}
}

func attachLabel(boards *board.Service) mutation {
	return func(c echo.Context, userID, session string) (int, any, error) {
		var req attachLabelRequest
		if err := decodeBody(c, &req, false); err != nil {
			return 0, nil, err
		}
		card, err := boards.AttachLabel(c.Request().Context(), userID, session, c.Param("cardId"), req.LabelID)
		return http.StatusOK, card, err
	}
}

func detachLabel(boards *board.Service) mutation {
	return func(c echo.Context, userID, session string) (int, any, error) {
		card, err := boards.DetachLabel(c.Request().Context(), userID, session, c.Param("cardId"), c.Param("labelId"))
		return http.StatusOK, card, err
	}
}

func listRules(boards *board.Service, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(authHeader(c, false))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		rules, err := boards.ListRules(c.Request().Context(), userID, c.Param("columnId"))
		if err != nil {
			return writeError(c, logger, err)
		}
		if rules == nil {
			rules = []domain.Rule{}
		}
		return c.JSON(http.StatusOK, rules)
	}
}

func createRule(boards *board.Service) mutation {
	return func(c echo.Context, userID, _ string) (int, any, error) {
		var in board.RuleInput
		if err := decodeBody(c, &in, false); err != nil {
			return 0, nil, err
		}
		r, err := boards.CreateRule(c.Request().Context(), userID, c.Param("columnId"), in)
		return http.StatusCreated, r, err
	}
}

func deleteRule(boards *board.Service) mutation {
	return func(c echo.Context, userID, _ string) (int, any, error) {
		err := boards.DeleteRule(c.Request().Context(), userID, c.Param("ruleId"))
		return http.StatusNoContent, nil, err
	}
}
