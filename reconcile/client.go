package reconcile

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"prism-board/domain"
	"prism-board/move"
	"prism-board/stream"
)

// SessionHeader carries the client session id on every request.
const SessionHeader = "X-Session-ID"

// APIError is a non-2xx answer from the board API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("board api: %d %s", e.Status, e.Message)
}

// Unwrap maps the status onto the domain sentinels.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusForbidden:
		return domain.ErrForbidden
	case http.StatusConflict:
		return domain.ErrConflict
	case http.StatusBadRequest:
		return domain.ErrValidation
	}
	return nil
}

// Client talks to the board API on behalf of one session.
type Client struct {
	BaseURL   string
	Token     string
	SessionID string
	HTTP      *http.Client
}

// NewClient returns a client with a fresh session id.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Token:     token,
		SessionID: uuid.NewString(),
		HTTP:      &http.Client{},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.Header.Set(SessionHeader, c.SessionID)
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return sonic.Unmarshal(data, out)
}

// Snapshot fetches the full board.
func (c *Client) Snapshot(ctx context.Context, boardID string) (domain.BoardSnapshot, error) {
	var snap domain.BoardSnapshot
	err := c.do(ctx, http.MethodGet, "/api/boards/"+url.PathEscape(boardID), nil, &snap)
	return snap, err
}

// Move applies req optimistically to rec, sends it, and confirms or rolls
// back depending on the answer. A conflict means rec was behind the server:
// the board is refetched into rec and the move is tried once more.
func (c *Client) Move(ctx context.Context, rec *Reconciler, req move.Request) (move.Result, error) {
	res, err := c.send(ctx, rec, req)
	if err == nil || !errors.Is(err, domain.ErrConflict) {
		return res, err
	}
	boardID := rec.View().Board.ID
	if boardID == "" {
		return res, err
	}
	snap, serr := c.Snapshot(ctx, boardID)
	if serr != nil {
		return res, err
	}
	rec.Reset(snap)
	return c.send(ctx, rec, req)
}

func (c *Client) send(ctx context.Context, rec *Reconciler, req move.Request) (move.Result, error) {
	token, _, err := rec.ApplyMove(req)
	if err != nil {
		return move.Result{}, err
	}
	var res move.Result
	if err := c.do(ctx, http.MethodPost, "/api/moves", req, &res); err != nil {
		return move.Result{}, rec.Fail(token, err)
	}
	rec.Confirm(token, res)
	return res, nil
}

// Watch streams boardID into rec until ctx ends or the server closes the
// stream. onUpdate, when set, receives the view after every applied frame.
func (c *Client) Watch(ctx context.Context, boardID string, rec *Reconciler, onUpdate func(domain.BoardSnapshot)) error {
	path := "/api/boards/" + url.PathEscape(boardID) + "/stream?session=" + url.QueryEscape(c.SessionID)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	err = readFrames(resp.Body, func(event, data string) error {
		changed, err := applyFrame(rec, event, data)
		if err != nil {
			return err
		}
		if changed && onUpdate != nil {
			onUpdate(rec.View())
		}
		return nil
	})
	if ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled)) {
		return nil
	}
	return err
}

func applyFrame(rec *Reconciler, event, data string) (bool, error) {
	if event == stream.SnapshotEvent {
		var snap domain.BoardSnapshot
		if err := sonic.UnmarshalString(data, &snap); err != nil {
			return false, fmt.Errorf("decode snapshot: %w", err)
		}
		rec.Reset(snap)
		return true, nil
	}
	var ev domain.Event
	if err := sonic.UnmarshalString(data, &ev); err != nil {
		return false, fmt.Errorf("decode %s event: %w", event, err)
	}
	return rec.HandleEvent(ev), nil
}

// readFrames parses a text/event-stream body, calling fn per complete frame.
// Comment lines such as pings are ignored.
func readFrames(r io.Reader, fn func(event, data string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	var (
		event string
		data  []string
	)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				if err := fn(event, strings.Join(data, "\n")); err != nil {
					return err
				}
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return sc.Err()
}
