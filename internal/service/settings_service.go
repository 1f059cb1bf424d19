package service

import (
	"context"
	"fmt"
	"sync"

	apperrors "tempo/backend/internal/errors"
	"tempo/backend/internal/model"
	"tempo/backend/internal/store"
)

// SettingsService stores the per-user configuration bundle. Reads fall back
// to defaults when nothing is stored yet.
type SettingsService struct {
	kv store.KV
	mu sync.Mutex
}

func NewSettingsService(kv store.KV) *SettingsService {
	return &SettingsService{kv: kv}
}

func (s *SettingsService) Get(ctx context.Context, userID string) model.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx, userID)
}

// Update validates and persists a full settings bundle.
func (s *SettingsService) Update(ctx context.Context, userID string, settings model.Settings) (model.Settings, *apperrors.APIError) {
	if apiErr := validateSettings(settings); apiErr != nil {
		return model.Settings{}, apiErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := store.SaveJSON(ctx, s.kv, userID, store.KeySettings, settings); err != nil {
		return model.Settings{}, apperrors.Internal("failed to store settings")
	}
	return settings, nil
}

// SetFlowEnabled flips only the flow-mode flag.
func (s *SettingsService) SetFlowEnabled(ctx context.Context, userID string, enabled bool) (model.Settings, *apperrors.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := s.load(ctx, userID)
	settings.FlowEnabled = enabled
	if err := store.SaveJSON(ctx, s.kv, userID, store.KeySettings, settings); err != nil {
		return model.Settings{}, apperrors.Internal("failed to store settings")
	}
	return settings, nil
}

// ApplyRemote overwrites the bundle with a mirror-originated version without
// re-validating business limits; the mirror is trusted for its own rows.
func (s *SettingsService) ApplyRemote(ctx context.Context, userID string, settings model.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return store.SaveJSON(ctx, s.kv, userID, store.KeySettings, settings)
}

func (s *SettingsService) load(ctx context.Context, userID string) model.Settings {
	settings := model.DefaultSettings()
	store.LoadJSON(ctx, s.kv, userID, store.KeySettings, &settings)
	if settings.DailyQuota <= 0 {
		settings.DailyQuota = model.DefaultDailyQuota
	}
	if settings.GuidanceMode == "" {
		settings.GuidanceMode = model.DefaultSettings().GuidanceMode
	}
	return settings
}

func validateSettings(settings model.Settings) *apperrors.APIError {
	if settings.ShiftStartSeconds < 0 || settings.ShiftStartSeconds > model.LatestShiftStartSeconds {
		return apperrors.BadRequest(
			"invalid_shift_start",
			fmt.Sprintf("shift start must be at or before %s so the shift ends by midnight",
				model.FormatDurationSeconds(model.LatestShiftStartSeconds)),
		)
	}
	if (settings.LunchStartSeconds == nil) != (settings.LunchEndSeconds == nil) {
		return apperrors.BadRequest("invalid_lunch_window", "lunch start and end must be set together")
	}
	if settings.LunchStartSeconds != nil && *settings.LunchEndSeconds <= *settings.LunchStartSeconds {
		return apperrors.BadRequest("invalid_lunch_window", "lunch must end after it starts")
	}
	if settings.DailyQuota <= 0 {
		return apperrors.BadRequest("invalid_quota", "daily quota must be positive")
	}
	if settings.BalanceMarginSeconds < 0 {
		return apperrors.BadRequest("invalid_margin", "balance margin cannot be negative")
	}
	if settings.GuidanceMode != "conservative" && settings.GuidanceMode != "aggressive" {
		return apperrors.BadRequest("invalid_guidance_mode", "guidance mode must be conservative or aggressive")
	}
	return nil
}
