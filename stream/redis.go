package stream

import (
	"context"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// ChannelPrefix namespaces the per-board Pub/Sub channels.
const ChannelPrefix = "board-events:"

// Channel returns the Pub/Sub channel carrying boardID's events.
func Channel(boardID string) string {
	return ChannelPrefix + boardID
}

// RedisBus publishes events to Redis so every API and stream node sees them.
type RedisBus struct {
	rc     *redis.Client
	logger *log.Logger
}

// NewRedisBus returns a bus over rc.
func NewRedisBus(rc *redis.Client, logger *log.Logger) *RedisBus {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RedisBus{rc: rc, logger: logger}
}

// Publish encodes ev and publishes it on the board channel. Failures are logged.
func (b *RedisBus) Publish(ctx context.Context, boardID string, ev domain.Event) {
	data, err := sonic.Marshal(ev)
	if err != nil {
		b.logger.WithError(err).WithField("board_id", boardID).Error("stream: encode event")
		return
	}
	if err := b.rc.Publish(ctx, Channel(boardID), data).Err(); err != nil {
		b.logger.WithError(err).WithField("board_id", boardID).Error("stream: redis publish")
	}
}

// Relay pattern-subscribes to every board channel and republishes decoded
// events into hub until ctx is done. A lost subscription is re-established
// after retry.
func Relay(ctx context.Context, rc *redis.Client, hub *Hub, logger *log.Logger, retry time.Duration) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if retry <= 0 {
		retry = time.Second
	}
	for {
		sub := rc.PSubscribe(ctx, ChannelPrefix+"*")
		relayMessages(ctx, sub.Channel(), hub, logger)
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("stream: pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

func relayMessages(ctx context.Context, ch <-chan *redis.Message, hub *Hub, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			boardID := strings.TrimPrefix(msg.Channel, ChannelPrefix)
			var ev domain.Event
			if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil {
				logger.WithError(err).WithField("channel", msg.Channel).Error("stream: unable to parse event")
				continue
			}
			hub.Publish(ctx, boardID, ev)
		}
	}
}
