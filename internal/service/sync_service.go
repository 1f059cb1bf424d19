package service

import (
	"context"
	"log"
	"time"

	apperrors "tempo/backend/internal/errors"
	"tempo/backend/internal/model"
)

// Mirror is the narrow contract of the external cloud collaborator.
// Transport, auth and schema are its problem; the core only sees this.
type Mirror interface {
	InsertTransaction(ctx context.Context, userID string, tx model.Transaction) (*model.Transaction, error)
	DeleteTransaction(ctx context.Context, userID string, tx model.Transaction) error
	UpsertSettings(ctx context.Context, userID string, settings model.Settings) error
}

// Remote event kinds pushed by the mirror.
const (
	EventInsert = "insert"
	EventUpdate = "update"
	EventDelete = "delete"

	EntityTransaction = "transaction"
	EntitySettings    = "settings"
)

// RemoteEvent is one push-stream item from the mirror.
type RemoteEvent struct {
	Kind        string             `json:"kind"`
	Entity      string             `json:"entity"`
	Transaction *model.Transaction `json:"transaction,omitempty"`
	Settings    *model.Settings    `json:"settings,omitempty"`
}

// SyncReconciler wraps the ledger with optimistic cloud mirroring. Local
// writes apply immediately under a temporary local id; when the mirror
// confirms, the optimistic record is swapped in place for the canonical one.
// Every remote-originated mutation flows through the applyingRemote flag so
// applying an echo never re-uploads it.
type SyncReconciler struct {
	ledger   *LedgerService
	settings *SettingsService
	guidance *GuidanceEngine
	mirror   Mirror
}

func NewSyncReconciler(ledger *LedgerService, settings *SettingsService, guidance *GuidanceEngine, mirror Mirror) *SyncReconciler {
	return &SyncReconciler{
		ledger:   ledger,
		settings: settings,
		guidance: guidance,
		mirror:   mirror,
	}
}

// Record satisfies TransactionRecorder for caller-originated writes.
func (r *SyncReconciler) Record(ctx context.Context, userID, item, entryType string, tmaSeconds, timeSpent int, source string, now time.Time) (model.Transaction, *apperrors.APIError) {
	return r.record(ctx, userID, item, entryType, tmaSeconds, timeSpent, source, now, false)
}

func (r *SyncReconciler) record(ctx context.Context, userID, item, entryType string, tmaSeconds, timeSpent int, source string, now time.Time, applyingRemote bool) (model.Transaction, *apperrors.APIError) {
	tx, apiErr := r.ledger.Add(ctx, userID, item, entryType, tmaSeconds, timeSpent, source, now)
	if apiErr != nil {
		return model.Transaction{}, apiErr
	}
	if r.guidance != nil {
		r.guidance.NoteRecorded(userID, tx, now)
	}
	if !applyingRemote {
		r.uploadInsert(userID, tx)
	}
	return tx, nil
}

// Delete removes a transaction locally and fires a best-effort remote delete.
func (r *SyncReconciler) Delete(ctx context.Context, userID string, index int) (model.Transaction, *apperrors.APIError) {
	removed, apiErr := r.ledger.DeleteAt(ctx, userID, index)
	if apiErr != nil {
		return model.Transaction{}, apiErr
	}
	if r.mirror != nil {
		go func() {
			if err := r.mirror.DeleteTransaction(context.Background(), userID, removed); err != nil {
				log.Printf("sync: remote delete: %v", err)
			}
		}()
	}
	return removed, nil
}

// UpdateSettings persists the bundle locally and mirrors it upward.
func (r *SyncReconciler) UpdateSettings(ctx context.Context, userID string, settings model.Settings) (model.Settings, *apperrors.APIError) {
	updated, apiErr := r.settings.Update(ctx, userID, settings)
	if apiErr != nil {
		return model.Settings{}, apiErr
	}
	if r.mirror != nil {
		go func() {
			if err := r.mirror.UpsertSettings(context.Background(), userID, updated); err != nil {
				log.Printf("sync: upsert settings: %v", err)
			}
		}()
	}
	return updated, nil
}

// ApplyRemoteEvent applies one push-stream item. Everything in here runs with
// applyingRemote set, so nothing is echoed back to the mirror.
func (r *SyncReconciler) ApplyRemoteEvent(ctx context.Context, userID string, event RemoteEvent) *apperrors.APIError {
	switch event.Entity {
	case EntityTransaction:
		if event.Transaction == nil && event.Kind != EventDelete {
			return apperrors.BadRequest("invalid_event", "transaction event without a row")
		}
		switch event.Kind {
		case EventInsert:
			r.ledger.ApplyRemoteInsert(ctx, userID, *event.Transaction)
		case EventUpdate:
			r.ledger.ApplyRemoteUpdate(ctx, userID, *event.Transaction)
		case EventDelete:
			if event.Transaction == nil || event.Transaction.ID == "" {
				return apperrors.BadRequest("invalid_event", "delete event without an id")
			}
			r.ledger.ApplyRemoteDelete(ctx, userID, event.Transaction.ID)
		default:
			return apperrors.BadRequest("invalid_event", "unknown event kind")
		}
		return nil
	case EntitySettings:
		if event.Settings == nil {
			return apperrors.BadRequest("invalid_event", "settings event without a payload")
		}
		if err := r.settings.ApplyRemote(ctx, userID, *event.Settings); err != nil {
			log.Printf("sync: apply remote settings: %v", err)
		}
		return nil
	default:
		return apperrors.BadRequest("invalid_event", "unknown event entity")
	}
}

func (r *SyncReconciler) uploadInsert(userID string, tx model.Transaction) {
	if r.mirror == nil {
		return
	}
	localID := tx.ID
	go func() {
		confirmed, err := r.mirror.InsertTransaction(context.Background(), userID, tx)
		if err != nil {
			log.Printf("sync: remote insert: %v", err)
			return
		}
		if confirmed == nil {
			return
		}
		if !r.ledger.Confirm(context.Background(), userID, localID, *confirmed) {
			log.Printf("sync: optimistic record %s already gone", localID)
		}
	}()
}
