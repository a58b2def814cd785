package stream

import (
	"context"

	"prism-board/domain"
)

// Fanout forwards each event to every non-nil publisher in order.
type Fanout []domain.Publisher

// NewFanout drops nil publishers.
func NewFanout(pubs ...domain.Publisher) Fanout {
	out := make(Fanout, 0, len(pubs))
	for _, p := range pubs {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (f Fanout) Publish(ctx context.Context, boardID string, ev domain.Event) {
	for _, p := range f {
		p.Publish(ctx, boardID, ev)
	}
}
