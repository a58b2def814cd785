package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"prism-board/domain"
)

// SnapshotEvent names the frame that carries the full board state on connect.
const SnapshotEvent = "snapshot"

// ErrDropped is returned by ServeSSE when the hub dropped a slow subscriber.
var ErrDropped = errors.New("stream: subscriber dropped")

// SetHeaders prepares w for an event stream.
func SetHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// WriteFrame writes one `event:`/`data:` frame.
func WriteFrame(w io.Writer, event string, payload any) error {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return nil
}

// ServeSSE streams sub to w: first the snapshot frame, then every event, with
// a `: ping` comment every ping interval. It returns nil when ctx ends and
// ErrDropped when the hub cut the subscriber off.
func ServeSSE(ctx context.Context, w http.ResponseWriter, sub *Subscription, snapshot domain.BoardSnapshot, ping time.Duration) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return errors.New("stream unsupported")
	}
	SetHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := WriteFrame(w, SnapshotEvent, snapshot); err != nil {
		return err
	}
	flusher.Flush()

	if ping <= 0 {
		ping = 15 * time.Second
	}
	ticker := time.NewTicker(ping)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return err
			}
			flusher.Flush()
		case ev, ok := <-sub.C:
			if !ok {
				if sub.Dropped() {
					return ErrDropped
				}
				return nil
			}
			if err := WriteFrame(w, string(ev.Type), ev); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}
