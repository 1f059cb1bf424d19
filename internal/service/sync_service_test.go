package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"tempo/backend/internal/catalog"
	"tempo/backend/internal/model"
	"tempo/backend/internal/store"
)

// fakeMirror records every call and signals on calls so tests can wait for
// the fire-and-forget goroutines.
type fakeMirror struct {
	mu        sync.Mutex
	inserts   []model.Transaction
	deletes   []model.Transaction
	settings  []model.Settings
	confirmID string
	calls     chan string
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{calls: make(chan string, 16)}
}

func (m *fakeMirror) InsertTransaction(ctx context.Context, userID string, tx model.Transaction) (*model.Transaction, error) {
	m.mu.Lock()
	m.inserts = append(m.inserts, tx)
	confirmID := m.confirmID
	m.mu.Unlock()
	defer func() { m.calls <- "insert" }()

	if confirmID == "" {
		return nil, nil
	}
	confirmed := tx
	confirmed.ID = confirmID
	return &confirmed, nil
}

func (m *fakeMirror) DeleteTransaction(ctx context.Context, userID string, tx model.Transaction) error {
	m.mu.Lock()
	m.deletes = append(m.deletes, tx)
	m.mu.Unlock()
	m.calls <- "delete"
	return nil
}

func (m *fakeMirror) UpsertSettings(ctx context.Context, userID string, settings model.Settings) error {
	m.mu.Lock()
	m.settings = append(m.settings, settings)
	m.mu.Unlock()
	m.calls <- "settings"
	return nil
}

func (m *fakeMirror) wait(t *testing.T, call string) {
	t.Helper()
	select {
	case got := <-m.calls:
		if got != call {
			t.Fatalf("expected a %s call, got %s", call, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a %s call", call)
	}
}

func (m *fakeMirror) insertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inserts)
}

type syncFixture struct {
	reconciler *SyncReconciler
	ledger     *LedgerService
	settings   *SettingsService
	guidance   *GuidanceEngine
	mirror     *fakeMirror
}

func newSyncFixture() syncFixture {
	kv := store.NewMemory()
	cat := catalog.Default()
	ledger := NewLedgerService(kv, cat)
	settings := NewSettingsService(kv)
	guidance := NewGuidanceEngine(cat)
	mirror := newFakeMirror()
	return syncFixture{
		reconciler: NewSyncReconciler(ledger, settings, guidance, mirror),
		ledger:     ledger,
		settings:   settings,
		guidance:   guidance,
		mirror:     mirror,
	}
}

func TestRecordUploadsAndConfirmSwapsInPlace(t *testing.T) {
	fx := newSyncFixture()
	fx.mirror.confirmID = "srv-1"
	ctx := context.Background()

	tx, apiErr := fx.reconciler.Record(ctx, "u1", "Complexa", model.TypeConferencia, 2132, 2200, model.SourceModal, time.Now())
	if apiErr != nil {
		t.Fatalf("record: %s", apiErr.Message)
	}
	if !model.IsLocalID(tx.ID) {
		t.Fatalf("the optimistic record must carry a local id, got %q", tx.ID)
	}

	// The write is visible before the mirror answers.
	if got := fx.ledger.Balance(ctx, "u1"); got != 68 {
		t.Fatalf("expected the optimistic balance applied, got %d", got)
	}

	fx.mirror.wait(t, "insert")
	deadline := time.Now().Add(2 * time.Second)
	for {
		transactions := fx.ledger.Transactions(ctx, "u1")
		if len(transactions) == 1 && transactions[0].ID == "srv-1" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("confirmation never swapped the record, have %+v", transactions)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := fx.ledger.Balance(ctx, "u1"); got != 68 {
		t.Fatalf("confirmation must not re-apply the difference, got %d", got)
	}
}

func TestRecordWithoutConfirmationKeepsLocalID(t *testing.T) {
	fx := newSyncFixture()
	ctx := context.Background()

	tx, _ := fx.reconciler.Record(ctx, "u1", "Simples", model.TypeConferencia, 780, 800, model.SourceModal, time.Now())
	fx.mirror.wait(t, "insert")

	transactions := fx.ledger.Transactions(ctx, "u1")
	if transactions[0].ID != tx.ID {
		t.Fatalf("a nil confirmation must leave the local id, got %q", transactions[0].ID)
	}
}

func TestDeleteFiresRemoteDelete(t *testing.T) {
	fx := newSyncFixture()
	ctx := context.Background()

	fx.reconciler.Record(ctx, "u1", "Simples", model.TypeConferencia, 780, 800, model.SourceModal, time.Now())
	fx.mirror.wait(t, "insert")

	removed, apiErr := fx.reconciler.Delete(ctx, "u1", 0)
	if apiErr != nil {
		t.Fatalf("delete: %s", apiErr.Message)
	}
	fx.mirror.wait(t, "delete")

	fx.mirror.mu.Lock()
	defer fx.mirror.mu.Unlock()
	if len(fx.mirror.deletes) != 1 || fx.mirror.deletes[0].ID != removed.ID {
		t.Fatalf("expected the removed row mirrored, got %+v", fx.mirror.deletes)
	}
}

func TestUpdateSettingsMirrorsUpward(t *testing.T) {
	fx := newSyncFixture()
	ctx := context.Background()

	settings := model.DefaultSettings()
	settings.DailyQuota = 25
	if _, apiErr := fx.reconciler.UpdateSettings(ctx, "u1", settings); apiErr != nil {
		t.Fatalf("update settings: %s", apiErr.Message)
	}
	fx.mirror.wait(t, "settings")

	fx.mirror.mu.Lock()
	defer fx.mirror.mu.Unlock()
	if len(fx.mirror.settings) != 1 || fx.mirror.settings[0].DailyQuota != 25 {
		t.Fatalf("expected the bundle mirrored, got %+v", fx.mirror.settings)
	}
}

func TestUpdateSettingsRejectsInvalidWithoutMirroring(t *testing.T) {
	fx := newSyncFixture()

	bad := model.DefaultSettings()
	bad.DailyQuota = 0
	if _, apiErr := fx.reconciler.UpdateSettings(context.Background(), "u1", bad); apiErr == nil {
		t.Fatal("expected validation to reject a zero quota")
	}
	select {
	case call := <-fx.mirror.calls:
		t.Fatalf("a rejected update must not reach the mirror, got %s", call)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestApplyRemoteEventNeverEchoes(t *testing.T) {
	fx := newSyncFixture()
	ctx := context.Background()

	remote := model.Transaction{
		ID: "srv-9", Item: "Simples", Type: model.TypeConferencia, TMASeconds: 780, TimeSpent: 840,
	}
	if apiErr := fx.reconciler.ApplyRemoteEvent(ctx, "u1", RemoteEvent{
		Kind: EventInsert, Entity: EntityTransaction, Transaction: &remote,
	}); apiErr != nil {
		t.Fatalf("apply insert: %s", apiErr.Message)
	}
	if got := fx.ledger.Balance(ctx, "u1"); got != 60 {
		t.Fatalf("expected balance 60 after the remote insert, got %d", got)
	}

	updated := remote
	updated.TimeSpent = 900
	fx.reconciler.ApplyRemoteEvent(ctx, "u1", RemoteEvent{
		Kind: EventUpdate, Entity: EntityTransaction, Transaction: &updated,
	})
	if got := fx.ledger.Balance(ctx, "u1"); got != 120 {
		t.Fatalf("expected balance 120 after the remote update, got %d", got)
	}

	fx.reconciler.ApplyRemoteEvent(ctx, "u1", RemoteEvent{
		Kind: EventDelete, Entity: EntityTransaction, Transaction: &model.Transaction{ID: "srv-9"},
	})
	if got := len(fx.ledger.Transactions(ctx, "u1")); got != 0 {
		t.Fatalf("expected the row gone, got %d", got)
	}

	remoteSettings := model.DefaultSettings()
	remoteSettings.DailyQuota = 40
	fx.reconciler.ApplyRemoteEvent(ctx, "u1", RemoteEvent{
		Kind: EventUpdate, Entity: EntitySettings, Settings: &remoteSettings,
	})
	if got := fx.settings.Get(ctx, "u1").DailyQuota; got != 40 {
		t.Fatalf("expected the remote settings applied, got %d", got)
	}

	select {
	case call := <-fx.mirror.calls:
		t.Fatalf("remote-originated mutations must not echo back, got a %s call", call)
	case <-time.After(50 * time.Millisecond):
	}
	if fx.mirror.insertCount() != 0 {
		t.Fatal("no insert should have been uploaded")
	}
}

func TestApplyRemoteEventValidation(t *testing.T) {
	fx := newSyncFixture()
	ctx := context.Background()

	cases := []RemoteEvent{
		{Kind: EventInsert, Entity: EntityTransaction},
		{Kind: EventDelete, Entity: EntityTransaction},
		{Kind: "replace", Entity: EntityTransaction, Transaction: &model.Transaction{ID: "x"}},
		{Kind: EventUpdate, Entity: EntitySettings},
		{Kind: EventInsert, Entity: "unknown"},
	}
	for i, event := range cases {
		if apiErr := fx.reconciler.ApplyRemoteEvent(ctx, "u1", event); apiErr == nil {
			t.Fatalf("case %d: expected rejection", i)
		}
	}
}
