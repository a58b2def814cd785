package automation

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism-board/domain"
	"prism-board/domain/domaintest"
	"prism-board/move"
	"prism-board/position"
)

type harness struct {
	f      *domaintest.Fixture
	coord  *move.Coordinator
	engine *Engine
	rec    *domaintest.Recorder
	hook   *test.Hook
	board  domain.Board
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	f := domaintest.NewFixture(t)
	rec := &domaintest.Recorder{}
	coord := move.NewCoordinator(f.Store, rec, logger)
	engine := NewEngine(f.Store, coord, rec, logger)
	coord.UseAutomation(engine)
	return &harness{f: f, coord: coord, engine: engine, rec: rec, hook: hook, board: f.Board("Ops", "alice")}
}

func (h *harness) moveInto(t *testing.T, card domain.Card, col domain.Column) move.Result {
	t.Helper()
	res, err := h.coord.Move(context.Background(), move.Request{ActorID: "alice", SessionID: "s1", ItemID: card.ID, TargetContainerID: col.ID})
	require.NoError(t, err)
	return res
}

func TestPingPongRulesTerminate(t *testing.T) {
	h := newHarness(t)
	inbox := h.f.Column(h.board.ID, "Inbox", position.Step)
	a := h.f.Column(h.board.ID, "A", 2*position.Step)
	b := h.f.Column(h.board.ID, "B", 3*position.Step)
	h.f.Rule(a, domain.RuleMoveToColumn, domain.RulePayload{TargetColumnID: b.ID})
	h.f.Rule(b, domain.RuleMoveToColumn, domain.RulePayload{TargetColumnID: a.ID})
	card := h.f.Card(inbox, "bounce", position.Base)

	res := h.moveInto(t, card, a)
	require.NotNil(t, res.Automation)
	assert.Equal(t, 3, res.Automation.Applied)
	assert.True(t, res.Automation.Truncated)
	require.NotNil(t, res.Final)
	assert.Equal(t, b.ID, res.Final.ContainerID)

	assert.Empty(t, h.f.Cards(a.ID))
	require.Len(t, h.f.Cards(b.ID), 1)
	assert.Equal(t, 1, h.f.Store.CardCount())

	var warned bool
	for _, entry := range h.hook.AllEntries() {
		if entry.Level == log.WarnLevel && entry.Message == "automation depth limit reached; remaining rules skipped" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestAddLabelIsIdempotent(t *testing.T) {
	h := newHarness(t)
	inbox := h.f.Column(h.board.ID, "Inbox", position.Step)
	done := h.f.Column(h.board.ID, "Done", 2*position.Step)
	label := h.f.Label(h.board.ID, "shipped")
	h.f.Rule(done, domain.RuleAddLabel, domain.RulePayload{LabelID: label.ID})
	h.f.Rule(done, domain.RuleAddLabel, domain.RulePayload{LabelID: label.ID})
	card := h.f.Card(inbox, "feature", position.Base)

	res := h.moveInto(t, card, done)
	assert.Equal(t, 2, res.Automation.Applied)
	assert.Equal(t, []string{label.ID}, h.f.GetCard(card.ID).Labels)
	assert.Equal(t, []domain.EventType{domain.CardMoved, domain.CardUpdated}, h.rec.Types())
}

func TestCopyContinuesRuleList(t *testing.T) {
	h := newHarness(t)
	inbox := h.f.Column(h.board.ID, "Inbox", position.Step)
	review := h.f.Column(h.board.ID, "Review", 2*position.Step)
	archive := h.f.Column(h.board.ID, "Archive", 3*position.Step)
	h.f.Card(archive, "older", 100)
	label := h.f.Label(h.board.ID, "reviewed")
	h.f.Rule(review, domain.RuleCopyToColumn, domain.RulePayload{TargetColumnID: archive.ID, Edge: domain.EdgeTop})
	h.f.Rule(review, domain.RuleAddLabel, domain.RulePayload{LabelID: label.ID})
	card := h.f.Card(inbox, "doc", position.Base)

	res := h.moveInto(t, card, review)
	assert.Equal(t, 2, res.Automation.Applied)
	assert.Equal(t, review.ID, res.Final.ContainerID)
	assert.Equal(t, []string{label.ID}, h.f.GetCard(card.ID).Labels)

	copies := h.f.Cards(archive.ID)
	require.Len(t, copies, 2)
	assert.Equal(t, "doc", copies[0].Title)
	assert.Equal(t, 50.0, copies[0].Position)
	assert.NotEqual(t, card.ID, copies[0].ID)
	assert.Empty(t, copies[0].Labels)
}

func TestMoveStopsRuleList(t *testing.T) {
	h := newHarness(t)
	inbox := h.f.Column(h.board.ID, "Inbox", position.Step)
	triage := h.f.Column(h.board.ID, "Triage", 2*position.Step)
	backlog := h.f.Column(h.board.ID, "Backlog", 3*position.Step)
	label := h.f.Label(h.board.ID, "triaged")
	h.f.Rule(triage, domain.RuleMoveToColumn, domain.RulePayload{TargetColumnID: backlog.ID})
	h.f.Rule(triage, domain.RuleAddLabel, domain.RulePayload{LabelID: label.ID})
	card := h.f.Card(inbox, "bug", position.Base)

	res := h.moveInto(t, card, triage)
	assert.Equal(t, 1, res.Automation.Applied)
	assert.Zero(t, res.Automation.Failed)
	assert.Equal(t, backlog.ID, res.Final.ContainerID)
	assert.Empty(t, h.f.GetCard(card.ID).Labels)
}

func TestRuleFailureDoesNotStopLaterRules(t *testing.T) {
	h := newHarness(t)
	other := h.f.Board("Other", "alice")
	foreign := h.f.Label(other.ID, "foreign")
	inbox := h.f.Column(h.board.ID, "Inbox", position.Step)
	done := h.f.Column(h.board.ID, "Done", 2*position.Step)
	local := h.f.Label(h.board.ID, "local")
	h.f.Rule(done, domain.RuleAddLabel, domain.RulePayload{LabelID: foreign.ID})
	h.f.Rule(done, domain.RuleMoveToColumn, domain.RulePayload{TargetColumnID: "vanished"})
	h.f.Rule(done, domain.RuleAddLabel, domain.RulePayload{LabelID: local.ID})
	card := h.f.Card(inbox, "task", position.Base)

	res := h.moveInto(t, card, done)
	assert.Equal(t, 2, res.Automation.Failed)
	assert.Equal(t, 1, res.Automation.Applied)
	assert.Equal(t, done.ID, res.Final.ContainerID)
	assert.Equal(t, []string{local.ID}, h.f.GetCard(card.ID).Labels)
}

func TestSelfTargetedRulesAreSkipped(t *testing.T) {
	h := newHarness(t)
	inbox := h.f.Column(h.board.ID, "Inbox", position.Step)
	loop := h.f.Column(h.board.ID, "Loop", 2*position.Step)
	h.f.Rule(loop, domain.RuleMoveToColumn, domain.RulePayload{TargetColumnID: loop.ID})
	h.f.Rule(loop, domain.RuleCopyToColumn, domain.RulePayload{TargetColumnID: loop.ID})
	card := h.f.Card(inbox, "task", position.Base)

	res := h.moveInto(t, card, loop)
	assert.Equal(t, 2, res.Automation.Skipped)
	assert.Zero(t, res.Automation.Applied)
	assert.Len(t, h.f.Cards(loop.ID), 1)
}

func TestDisabledRulesAreIgnored(t *testing.T) {
	h := newHarness(t)
	a := h.f.Column(h.board.ID, "A", position.Step)
	b := h.f.Column(h.board.ID, "B", 2*position.Step)
	card := h.f.Card(a, "task", position.Base)
	rule := domain.Rule{ID: "off", ColumnID: a.ID, Type: domain.RuleMoveToColumn, Payload: domain.RulePayload{TargetColumnID: b.ID}}
	require.NoError(t, h.f.Store.RunInTx(context.Background(), func(tx domain.Tx) error {
		return tx.InsertRule(context.Background(), rule)
	}))

	report := h.engine.Evaluate(context.Background(), card.ID, a.ID, 0)
	assert.Equal(t, Report{}, report)
	assert.Equal(t, a.ID, h.f.GetCard(card.ID).ColumnID)
}

func TestAutomationEventsHaveNoOriginSession(t *testing.T) {
	h := newHarness(t)
	inbox := h.f.Column(h.board.ID, "Inbox", position.Step)
	a := h.f.Column(h.board.ID, "A", 2*position.Step)
	b := h.f.Column(h.board.ID, "B", 3*position.Step)
	h.f.Rule(a, domain.RuleMoveToColumn, domain.RulePayload{TargetColumnID: b.ID})
	card := h.f.Card(inbox, "task", position.Base)

	h.moveInto(t, card, a)
	require.Len(t, h.rec.Events, 2)
	assert.Equal(t, "s1", h.rec.Events[0].OriginSessionID)
	assert.Equal(t, "", h.rec.Events[1].OriginSessionID)
	assert.Equal(t, b.ID, h.rec.Events[1].Payload.ContainerID)
	assert.Equal(t, a.ID, h.rec.Events[1].Payload.FromContainerID)
}

func TestEvaluatePastMaxDepthIsTruncated(t *testing.T) {
	h := newHarness(t)
	before := h.f.Store.Transactions()
	report := h.engine.Evaluate(context.Background(), "card", "col", MaxDepth+1)
	assert.True(t, report.Truncated)
	assert.Equal(t, before, h.f.Store.Transactions())
	require.NotNil(t, h.hook.LastEntry())
	assert.Equal(t, log.WarnLevel, h.hook.LastEntry().Level)
}
