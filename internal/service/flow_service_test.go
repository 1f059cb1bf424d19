package service

import (
	"context"
	"testing"
	"time"

	"tempo/backend/internal/catalog"
	apperrors "tempo/backend/internal/errors"
	"tempo/backend/internal/model"
	"tempo/backend/internal/store"
)

// ledgerRecorder finalizes straight into the ledger, standing in for the sync
// reconciler the server wires here.
type ledgerRecorder struct {
	ledger *LedgerService
}

func (r ledgerRecorder) Record(ctx context.Context, userID, item, entryType string, tmaSeconds, timeSpent int, source string, now time.Time) (model.Transaction, *apperrors.APIError) {
	return r.ledger.Add(ctx, userID, item, entryType, tmaSeconds, timeSpent, source, now)
}

type flowFixture struct {
	flow     *FlowService
	ledger   *LedgerService
	paused   *PausedService
	settings *SettingsService
}

func newFlowFixture() flowFixture {
	kv := store.NewMemory()
	cat := catalog.Default()
	ledger := NewLedgerService(kv, cat)
	paused := NewPausedService(kv)
	settings := NewSettingsService(kv)
	flow := NewFlowService(kv, cat, paused, settings, ledgerRecorder{ledger}, ledger)
	return flowFixture{flow: flow, ledger: ledger, paused: paused, settings: settings}
}

func TestFlowStartAndStopFinalize(t *testing.T) {
	fx := newFlowFixture()
	ctx := context.Background()
	started := time.Now()

	result, apiErr := fx.flow.Start(ctx, "u1", StartRequest{Item: "Complexa", Type: model.TypeConferencia}, started)
	if apiErr != nil {
		t.Fatalf("start: %s", apiErr.Message)
	}
	if result.Timer == nil || result.Timer.Key != "Complexa-conferencia" {
		t.Fatalf("expected a running timer, got %+v", result)
	}
	if !fx.flow.Running(ctx, "u1") {
		t.Fatal("expected Running to report true")
	}

	stop, apiErr := fx.flow.Stop(ctx, "u1", true, started.Add(2200*time.Second))
	if apiErr != nil {
		t.Fatalf("stop: %s", apiErr.Message)
	}
	if stop.Finalized == nil || stop.Finalized.TimeSpent != 2200 {
		t.Fatalf("expected a finalized 2200s transaction, got %+v", stop.Finalized)
	}
	if stop.Finalized.Source != model.SourceFlow {
		t.Fatalf("flow output must carry the flow source, got %q", stop.Finalized.Source)
	}
	if got := fx.ledger.Balance(ctx, "u1"); got != 68 {
		t.Fatalf("expected balance 2200-2132 = 68, got %d", got)
	}
	if fx.flow.Running(ctx, "u1") {
		t.Fatal("timer must be cleared after stop")
	}
}

func TestFlowStartRejectsUnknownActionAndDisabledMode(t *testing.T) {
	fx := newFlowFixture()
	ctx := context.Background()

	if _, apiErr := fx.flow.Start(ctx, "u1", StartRequest{Item: "Inexistente", Type: model.TypeConferencia}, time.Now()); apiErr == nil || apiErr.Code != "unknown_action" {
		t.Fatalf("expected unknown_action, got %+v", apiErr)
	}

	fx.settings.SetFlowEnabled(ctx, "u1", false)
	if _, apiErr := fx.flow.Start(ctx, "u1", StartRequest{Item: "Simples", Type: model.TypeConferencia}, time.Now()); apiErr == nil || apiErr.Code != "flow_disabled" {
		t.Fatalf("expected flow_disabled, got %+v", apiErr)
	}
}

func TestFlowSwitchDecision(t *testing.T) {
	fx := newFlowFixture()
	ctx := context.Background()
	started := time.Now()

	fx.flow.Start(ctx, "u1", StartRequest{Item: "Simples", Type: model.TypeConferencia}, started)

	// Starting a different key with no resolution surfaces the decision and
	// leaves the first timer untouched.
	result, apiErr := fx.flow.Start(ctx, "u1", StartRequest{Item: "Complexa", Type: model.TypeConferencia}, started.Add(time.Minute))
	if apiErr != nil {
		t.Fatalf("start: %s", apiErr.Message)
	}
	if result.Decision == nil || result.Decision.Kind != DecisionSwitchTimer {
		t.Fatalf("expected a switch decision, got %+v", result)
	}
	if active := fx.flow.Active(ctx, "u1"); active == nil || active.Key != "Simples-conferencia" {
		t.Fatal("a pending decision must not change the running timer")
	}

	result, apiErr = fx.flow.Start(ctx, "u1", StartRequest{
		Item: "Complexa", Type: model.TypeConferencia, Resolution: ResolutionFinalizeAndStart,
	}, started.Add(10*time.Minute))
	if apiErr != nil {
		t.Fatalf("resolve: %s", apiErr.Message)
	}
	if result.Finalized == nil || result.Finalized.Item != "Simples" {
		t.Fatalf("expected the old timer finalized, got %+v", result.Finalized)
	}
	if result.Timer == nil || result.Timer.Key != "Complexa-conferencia" {
		t.Fatalf("expected the new timer running, got %+v", result.Timer)
	}

	transactions := fx.ledger.Transactions(ctx, "u1")
	if len(transactions) != 1 {
		t.Fatalf("finalize-and-start must record exactly one transaction, got %d", len(transactions))
	}
	if transactions[0].TimeSpent != 600 {
		t.Fatalf("expected 10 minutes on the old key, got %d", transactions[0].TimeSpent)
	}
}

func TestFlowSwitchParalyzeAndCancel(t *testing.T) {
	fx := newFlowFixture()
	ctx := context.Background()
	started := time.Now()

	fx.flow.Start(ctx, "u1", StartRequest{Item: "Simples", Type: model.TypeConferencia}, started)

	result, _ := fx.flow.Start(ctx, "u1", StartRequest{
		Item: "Complexa", Type: model.TypeConferencia, Resolution: ResolutionCancel,
	}, started.Add(time.Minute))
	if !result.Cancelled {
		t.Fatal("cancel must abort the switch")
	}
	if active := fx.flow.Active(ctx, "u1"); active == nil || active.Key != "Simples-conferencia" {
		t.Fatal("cancel must leave the first timer running")
	}

	result, apiErr := fx.flow.Start(ctx, "u1", StartRequest{
		Item: "Complexa", Type: model.TypeConferencia, Resolution: ResolutionParalyzeAndStart,
	}, started.Add(5*time.Minute))
	if apiErr != nil {
		t.Fatalf("paralyze: %s", apiErr.Message)
	}
	if result.Paused == nil || result.Paused.AccumulatedSeconds != 300 {
		t.Fatalf("expected 300s paralyzed, got %+v", result.Paused)
	}
	if entries := fx.paused.Entries(ctx, "u1", "Simples-conferencia"); len(entries) != 1 {
		t.Fatalf("expected the paused entry stored, got %d", len(entries))
	}
	if got := len(fx.ledger.Transactions(ctx, "u1")); got != 0 {
		t.Fatalf("paralyze must not record a transaction, got %d", got)
	}
}

func TestFlowSameKeyDecision(t *testing.T) {
	fx := newFlowFixture()
	ctx := context.Background()
	started := time.Now()

	fx.flow.Start(ctx, "u1", StartRequest{Item: "Simples", Type: model.TypeConferencia}, started)

	result, _ := fx.flow.Start(ctx, "u1", StartRequest{Item: "Simples", Type: model.TypeConferencia}, started.Add(time.Minute))
	if result.Decision == nil || result.Decision.Kind != DecisionSameKey {
		t.Fatalf("expected a same-key decision, got %+v", result)
	}

	result, _ = fx.flow.Start(ctx, "u1", StartRequest{
		Item: "Simples", Type: model.TypeConferencia, Resolution: ResolutionContinue,
	}, started.Add(time.Minute))
	if result.Timer == nil || result.Timer.StartMs != started.UnixMilli() {
		t.Fatal("continue must keep the original timer running")
	}

	result, apiErr := fx.flow.Start(ctx, "u1", StartRequest{
		Item: "Simples", Type: model.TypeConferencia, Resolution: ResolutionFinalize,
	}, started.Add(15*time.Minute))
	if apiErr != nil {
		t.Fatalf("finalize: %s", apiErr.Message)
	}
	if result.Finalized == nil || result.Timer != nil {
		t.Fatalf("same-key finalize must stop without restarting, got %+v", result)
	}
}

func TestFlowResumePausedUsesBaseSeconds(t *testing.T) {
	fx := newFlowFixture()
	ctx := context.Background()
	started := time.Now()
	key := model.FlowKey("Complexa", model.TypeConferencia)

	fx.paused.Push(ctx, "u1", key, model.PausedWorkEntry{
		Item: "Complexa", Type: model.TypeConferencia, TMASeconds: 2132, AccumulatedSeconds: 1800,
	}, started)

	result, _ := fx.flow.Start(ctx, "u1", StartRequest{Item: "Complexa", Type: model.TypeConferencia}, started)
	if result.Decision == nil || result.Decision.Kind != DecisionResumePaused {
		t.Fatalf("expected a resume-paused decision, got %+v", result)
	}

	result, apiErr := fx.flow.Start(ctx, "u1", StartRequest{
		Item: "Complexa", Type: model.TypeConferencia, PausedChoice: PausedChoiceResume,
	}, started)
	if apiErr != nil {
		t.Fatalf("resume: %s", apiErr.Message)
	}
	if result.Timer == nil || result.Timer.BaseSeconds != 1800 {
		t.Fatalf("resume must seed the accumulated time, got %+v", result.Timer)
	}
	if entries := fx.paused.Entries(ctx, "u1", key); len(entries) != 0 {
		t.Fatalf("the resumed entry must leave the paused store, got %d", len(entries))
	}

	stop, _ := fx.flow.Stop(ctx, "u1", true, started.Add(400*time.Second))
	if stop.Finalized.TimeSpent != 2200 {
		t.Fatalf("expected 1800 base + 400 elapsed = 2200, got %d", stop.Finalized.TimeSpent)
	}
}

func TestFlowFreshKeepsPausedWork(t *testing.T) {
	fx := newFlowFixture()
	ctx := context.Background()
	started := time.Now()
	key := model.FlowKey("Complexa", model.TypeConferencia)

	fx.paused.Push(ctx, "u1", key, model.PausedWorkEntry{
		Item: "Complexa", Type: model.TypeConferencia, TMASeconds: 2132, AccumulatedSeconds: 1800,
	}, started)

	result, _ := fx.flow.Start(ctx, "u1", StartRequest{
		Item: "Complexa", Type: model.TypeConferencia, PausedChoice: PausedChoiceFresh,
	}, started)
	if result.Timer == nil || result.Timer.BaseSeconds != 0 {
		t.Fatalf("fresh must start from zero, got %+v", result.Timer)
	}
	if entries := fx.paused.Entries(ctx, "u1", key); len(entries) != 1 {
		t.Fatalf("fresh must leave the paused entry alone, got %d", len(entries))
	}
}

func TestFlowStopParalyzeDropsEmptyTimers(t *testing.T) {
	fx := newFlowFixture()
	ctx := context.Background()
	started := time.Now()

	fx.flow.Start(ctx, "u1", StartRequest{Item: "Simples", Type: model.TypeConferencia}, started)
	stop, apiErr := fx.flow.Stop(ctx, "u1", false, started)
	if apiErr != nil {
		t.Fatalf("stop: %s", apiErr.Message)
	}
	if stop.Paused != nil {
		t.Fatal("zero accumulated seconds must not produce a paused entry")
	}
	if entries := fx.paused.All(ctx, "u1"); len(entries) != 0 {
		t.Fatalf("nothing should have been stored, got %d keys", len(entries))
	}
}

func TestFlowAutoStopIsIdempotent(t *testing.T) {
	fx := newFlowFixture()
	ctx := context.Background()
	started := time.Now()

	result, apiErr := fx.flow.Start(ctx, "u1", StartRequest{Item: "Pausa", Type: model.TypeTimeTracker}, started)
	if apiErr != nil {
		t.Fatalf("start: %s", apiErr.Message)
	}
	if result.Timer.AutoStopAtMs != started.UnixMilli()+15*60*1000 {
		t.Fatalf("expected auto-stop at the 15 minute cap, got %d", result.Timer.AutoStopAtMs)
	}

	fx.flow.Tick(ctx, started.Add(10*time.Minute))
	if !fx.flow.Running(ctx, "u1") {
		t.Fatal("tick before the cap must not stop the timer")
	}

	fx.flow.Tick(ctx, started.Add(16*time.Minute))
	if fx.flow.Running(ctx, "u1") {
		t.Fatal("tick past the cap must auto-stop the timer")
	}
	fx.flow.Tick(ctx, started.Add(17*time.Minute))

	transactions := fx.ledger.Transactions(ctx, "u1")
	if len(transactions) != 1 {
		t.Fatalf("repeated ticks must not duplicate the auto-stop, got %d", len(transactions))
	}
	if transactions[0].TimeSpent != 16*60 {
		t.Fatalf("expected the elapsed time at the firing tick, got %d", transactions[0].TimeSpent)
	}
	if transactions[0].Difference != 0 {
		t.Fatalf("a tracker auto-stop must not move the balance, got %d", transactions[0].Difference)
	}
}

func TestFlowIdleTimerOpensAndYieldsSilently(t *testing.T) {
	fx := newFlowFixture()
	ctx := context.Background()
	started := time.Now()

	// Some ledger activity establishes the last-activity stamp, then silence.
	fx.ledger.Add(ctx, "u1", "Simples", model.TypeConferencia, 780, 700, model.SourceModal, started)
	fx.flow.Start(ctx, "u1", StartRequest{Item: "Simples", Type: model.TypeConferencia}, started)
	fx.flow.Stop(ctx, "u1", true, started.Add(time.Minute))

	fx.flow.Tick(ctx, started.Add(12*time.Minute))
	active := fx.flow.Active(ctx, "u1")
	if active == nil || active.Item != "Ociosidade involuntária" {
		t.Fatalf("expected the idle timer after the threshold, got %+v", active)
	}

	// A real start takes over without a decision; the idle time is finalized.
	result, apiErr := fx.flow.Start(ctx, "u1", StartRequest{Item: "Complexa", Type: model.TypeConferencia}, started.Add(20*time.Minute))
	if apiErr != nil {
		t.Fatalf("start over idle: %s", apiErr.Message)
	}
	if result.Decision != nil {
		t.Fatal("the idle timer must yield without a decision")
	}
	if result.Finalized == nil || result.Finalized.Item != "Ociosidade involuntária" {
		t.Fatalf("expected the idle stretch recorded, got %+v", result.Finalized)
	}
	if result.Timer == nil || result.Timer.Item != "Complexa" {
		t.Fatalf("expected the requested timer running, got %+v", result.Timer)
	}
}

func TestFlowDisableWhileRunningRejected(t *testing.T) {
	fx := newFlowFixture()
	ctx := context.Background()

	fx.flow.Start(ctx, "u1", StartRequest{Item: "Simples", Type: model.TypeConferencia}, time.Now())
	if _, apiErr := fx.flow.SetEnabled(ctx, "u1", false, time.Now()); apiErr == nil || apiErr.Code != "flow_timer_running" {
		t.Fatalf("expected flow_timer_running, got %+v", apiErr)
	}

	fx.flow.Stop(ctx, "u1", true, time.Now().Add(time.Minute))
	if _, apiErr := fx.flow.SetEnabled(ctx, "u1", false, time.Now()); apiErr != nil {
		t.Fatalf("disable after stop: %s", apiErr.Message)
	}
}

func TestFlowActiveTimerSurvivesRestart(t *testing.T) {
	kv := store.NewMemory()
	cat := catalog.Default()
	ledger := NewLedgerService(kv, cat)
	paused := NewPausedService(kv)
	settings := NewSettingsService(kv)
	started := time.Now()
	ctx := context.Background()

	first := NewFlowService(kv, cat, paused, settings, ledgerRecorder{ledger}, ledger)
	first.Start(ctx, "u1", StartRequest{Item: "Complexa", Type: model.TypeConferencia}, started)

	second := NewFlowService(kv, cat, paused, settings, ledgerRecorder{ledger}, ledger)
	active := second.Active(ctx, "u1")
	if active == nil || active.Key != "Complexa-conferencia" {
		t.Fatalf("a fresh service must rehydrate the persisted timer, got %+v", active)
	}
	if active.StartMs != started.UnixMilli() {
		t.Fatalf("the rehydrated timer must keep its start instant, got %d", active.StartMs)
	}
}
