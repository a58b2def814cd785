package api

import (
	"time"

	log "github.com/sirupsen/logrus"
)

type moveRequestMetrics struct {
	logger       *log.Logger
	route        string
	start        time.Time
	authDuration time.Duration
	moveDuration time.Duration
	itemKind     string
	itemsMoved   int
	renumbered   bool
	rulesApplied int
	replayed     bool
	errorStage   string
}

func newMoveRequestMetrics(logger *log.Logger, route string) *moveRequestMetrics {
	return &moveRequestMetrics{
		logger: logger,
		route:  route,
		start:  time.Now(),
	}
}

func (m *moveRequestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *moveRequestMetrics) ObserveMove(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.moveDuration = duration
}

func (m *moveRequestMetrics) SetItemKind(kind string) {
	m.itemKind = kind
}

func (m *moveRequestMetrics) SetItemsMoved(count int) {
	if count < 0 {
		count = 0
	}
	m.itemsMoved = count
}

func (m *moveRequestMetrics) SetRenumbered(renumbered bool) {
	m.renumbered = renumbered
}

func (m *moveRequestMetrics) SetRulesApplied(count int) {
	m.rulesApplied = count
}

func (m *moveRequestMetrics) SetReplayed(replayed bool) {
	m.replayed = replayed
}

func (m *moveRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *moveRequestMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}

	fields := log.Fields{
		"route":       m.route,
		"status":      status,
		"total_ms":    durationToMillis(time.Since(m.start)),
		"items_moved": m.itemsMoved,
		"renumbered":  m.renumbered,
	}
	if m.itemKind != "" {
		fields["item_kind"] = m.itemKind
	}
	if m.rulesApplied > 0 {
		fields["rules_applied"] = m.rulesApplied
	}
	if m.replayed {
		fields["replayed"] = true
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.moveDuration > 0 {
		fields["move_ms"] = durationToMillis(m.moveDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	m.logger.WithFields(fields).Info("moves.request.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
