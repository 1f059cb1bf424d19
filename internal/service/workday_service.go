package service

import (
	"context"
	"time"

	"tempo/backend/internal/catalog"
	apperrors "tempo/backend/internal/errors"
	"tempo/backend/internal/model"
	"tempo/backend/internal/timemodel"
)

// ExportSchemaVersion stamps exported snapshots so downstream consumers can
// detect format changes.
const ExportSchemaVersion = 1

// WorkdayService composes the core stores into the operations the API
// exposes: manual entries, the state view, settings and export.
type WorkdayService struct {
	cat      catalog.Catalog
	ledger   *LedgerService
	paused   *PausedService
	settings *SettingsService
	flow     *FlowService
	guidance *GuidanceEngine
	recon    *SyncReconciler
}

func NewWorkdayService(
	cat catalog.Catalog,
	ledger *LedgerService,
	paused *PausedService,
	settings *SettingsService,
	flow *FlowService,
	guidance *GuidanceEngine,
	recon *SyncReconciler,
) *WorkdayService {
	return &WorkdayService{
		cat:      cat,
		ledger:   ledger,
		paused:   paused,
		settings: settings,
		flow:     flow,
		guidance: guidance,
		recon:    recon,
	}
}

type ManualEntryInput struct {
	Item          string
	Type          string
	Duration      string
	ResumeEntryID string
}

// AddManual records a hand-entered transaction. When the entry finalizes a
// resumed paused entry, the entered time may not undercut what was already
// accumulated; paused time cannot be lost.
func (s *WorkdayService) AddManual(ctx context.Context, userID string, input ManualEntryInput, now time.Time) (model.Transaction, *apperrors.APIError) {
	timeSpent, err := model.ParseDurationSeconds(input.Duration)
	if err != nil {
		return model.Transaction{}, apperrors.BadRequest("invalid_duration", err.Error())
	}

	tma, known := s.cat.TMASeconds(input.Item, input.Type)
	if !known {
		return model.Transaction{}, apperrors.BadRequest("unknown_action", "that item and type are not in the catalog")
	}

	if input.ResumeEntryID != "" {
		key := model.FlowKey(input.Item, input.Type)
		var resumed *model.PausedWorkEntry
		for _, entry := range s.paused.Entries(ctx, userID, key) {
			if entry.ID == input.ResumeEntryID {
				found := entry
				resumed = &found
				break
			}
		}
		if resumed == nil {
			return model.Transaction{}, apperrors.NotFound("paused_not_found", "no paused entry with that id")
		}
		if timeSpent < resumed.AccumulatedSeconds {
			return model.Transaction{}, apperrors.BadRequest(
				"time_below_accumulated",
				"entered time is smaller than the time already accumulated for that paused work",
			)
		}
		if _, apiErr := s.paused.Pop(ctx, userID, key, input.ResumeEntryID); apiErr != nil {
			return model.Transaction{}, apiErr
		}
	}

	return s.recon.Record(ctx, userID, input.Item, input.Type, tma, timeSpent, model.SourceModal, now)
}

// ActiveTimerView is the running timer plus its live accumulated total.
type ActiveTimerView struct {
	model.ActiveFlowTimer
	TotalSeconds int `json:"totalSeconds"`
}

// StateView is the full derived picture of the workday at one instant.
type StateView struct {
	BalanceSeconds      int                `json:"balanceSeconds"`
	QuotaUnitsDone      int                `json:"quotaUnitsDone"`
	QuotaUnitsRemaining int                `json:"quotaUnitsRemaining"`
	WithinMargin        bool               `json:"withinMargin"`
	Time                timemodel.Snapshot `json:"time"`
	ActiveTimer         *ActiveTimerView   `json:"activeTimer,omitempty"`
	Settings            model.Settings     `json:"settings"`
	PausedKeys          int                `json:"pausedKeys"`
	TransactionCount    int                `json:"transactionCount"`
}

// State assembles the state view for one user at now.
func (s *WorkdayService) State(ctx context.Context, userID string, now time.Time) StateView {
	settings := s.settings.Get(ctx, userID)
	balance := s.ledger.Balance(ctx, userID)
	done := s.ledger.QuotaUnitsDone(ctx, userID)
	remaining := settings.DailyQuota - done
	if remaining < 0 {
		remaining = 0
	}

	var lunch *timemodel.Window
	if settings.LunchStartSeconds != nil && settings.LunchEndSeconds != nil {
		lunch = &timemodel.Window{Start: *settings.LunchStartSeconds, End: *settings.LunchEndSeconds}
	}
	nowSeconds := now.Hour()*3600 + now.Minute()*60 + now.Second()

	view := StateView{
		BalanceSeconds:      balance,
		QuotaUnitsDone:      done,
		QuotaUnitsRemaining: remaining,
		WithinMargin:        abs(balance) <= settings.BalanceMarginSeconds,
		Time:                timemodel.Compute(nowSeconds, settings.ShiftStartSeconds, settings.ShiftEndSeconds(), lunch),
		Settings:            settings,
		PausedKeys:          len(s.paused.All(ctx, userID)),
		TransactionCount:    len(s.ledger.Transactions(ctx, userID)),
	}

	if timer := s.flow.Active(ctx, userID); timer != nil {
		view.ActiveTimer = &ActiveTimerView{
			ActiveFlowTimer: *timer,
			TotalSeconds:    timer.TotalSeconds(now.UnixMilli()),
		}
	}
	return view
}

// UpdateSettings persists a new bundle. Turning flow mode off while a timer
// runs is rejected; the timer must be stopped first.
func (s *WorkdayService) UpdateSettings(ctx context.Context, userID string, settings model.Settings) (model.Settings, *apperrors.APIError) {
	if !settings.FlowEnabled && s.flow.Running(ctx, userID) {
		return model.Settings{}, apperrors.Conflict("flow_timer_running", "stop the running timer before disabling flow mode", nil)
	}
	return s.recon.UpdateSettings(ctx, userID, settings)
}

// Recommendation scores the catalog for the user's current balance and marks
// the top pick as shown for followed-tracking.
func (s *WorkdayService) Recommendation(ctx context.Context, userID, modeName string, now time.Time) Recommendation {
	mode := GuidanceModeByName(modeName)
	settings := s.settings.Get(ctx, userID)
	transactions := s.ledger.Transactions(ctx, userID)
	balance := s.ledger.Balance(ctx, userID)
	remaining := settings.DailyQuota - s.ledger.QuotaUnitsDone(ctx, userID)
	if remaining < 0 {
		remaining = 0
	}

	rec := s.guidance.Recommend(transactions, balance, remaining, mode)
	s.guidance.MarkShown(userID, rec, now)
	return rec
}

// FollowedCount reports how many shown recommendations the user acted on.
func (s *WorkdayService) FollowedCount(userID string) int {
	return s.guidance.FollowedCount(userID)
}

// Guide simulates the multi-step path for the user's remaining quota.
func (s *WorkdayService) Guide(ctx context.Context, userID, modeName string) GuidePath {
	mode := GuidanceModeByName(modeName)
	settings := s.settings.Get(ctx, userID)
	transactions := s.ledger.Transactions(ctx, userID)
	balance := s.ledger.Balance(ctx, userID)
	remaining := settings.DailyQuota - s.ledger.QuotaUnitsDone(ctx, userID)
	if remaining < 0 {
		remaining = 0
	}
	return s.guidance.Path(transactions, balance, remaining, mode)
}

// ExportSnapshot is the read-only JSON snapshot handed to downstream tools.
type ExportSnapshot struct {
	ExportSchemaVersion int                 `json:"exportSchemaVersion"`
	Settings            model.Settings      `json:"settings"`
	BalanceSeconds      int                 `json:"balanceSeconds"`
	Transactions        []model.Transaction `json:"transactions"`
}

func (s *WorkdayService) Export(ctx context.Context, userID string) ExportSnapshot {
	return ExportSnapshot{
		ExportSchemaVersion: ExportSchemaVersion,
		Settings:            s.settings.Get(ctx, userID),
		BalanceSeconds:      s.ledger.Balance(ctx, userID),
		Transactions:        s.ledger.Transactions(ctx, userID),
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
