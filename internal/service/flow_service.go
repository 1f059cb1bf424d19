package service

import (
	"context"
	"log"
	"sync"
	"time"

	"tempo/backend/internal/catalog"
	apperrors "tempo/backend/internal/errors"
	"tempo/backend/internal/model"
	"tempo/backend/internal/store"
)

// Decision kinds surfaced when a start call cannot proceed on its own.
const (
	DecisionSwitchTimer  = "switch_timer"
	DecisionSameKey      = "same_key"
	DecisionResumePaused = "resume_paused"
)

// Resolutions the caller sends back to resolve a decision.
const (
	ResolutionFinalizeAndStart = "finalize_and_start"
	ResolutionParalyzeAndStart = "paralyze_and_start"
	ResolutionCancel           = "cancel"
	ResolutionFinalize         = "finalize"
	ResolutionParalyze         = "paralyze"
	ResolutionContinue         = "continue"

	PausedChoiceResume = "resume"
	PausedChoiceFresh  = "fresh"
	PausedChoiceCancel = "cancel"
)

// FlowDecision is a pending choice the caller must resolve before the
// machine transitions. The machine itself stays synchronous; the UI resolves
// the decision by re-issuing the start with a resolution.
type FlowDecision struct {
	Kind    string   `json:"kind"`
	Options []string `json:"options"`
}

// TransactionRecorder finalizes timer output into the ledger. The sync
// reconciler implements it so flow-recorded work is mirrored like any other.
type TransactionRecorder interface {
	Record(ctx context.Context, userID, item, entryType string, tmaSeconds, timeSpent int, source string, now time.Time) (model.Transaction, *apperrors.APIError)
}

// ActivityTracker reports when the user last produced ledger activity.
type ActivityTracker interface {
	LastActivity(ctx context.Context, userID string) (time.Time, bool)
	TouchActivity(ctx context.Context, userID string, now time.Time)
}

type StartRequest struct {
	Item          string
	Type          string
	Resolution    string
	PausedChoice  string
	ResumeEntryID string
}

type StartResult struct {
	Timer     *model.ActiveFlowTimer `json:"timer,omitempty"`
	Decision  *FlowDecision          `json:"decision,omitempty"`
	Finalized *model.Transaction     `json:"finalized,omitempty"`
	Paused    *model.PausedWorkEntry `json:"paused,omitempty"`
	Cancelled bool                   `json:"cancelled,omitempty"`
}

type StopResult struct {
	Finalized *model.Transaction     `json:"finalized,omitempty"`
	Paused    *model.PausedWorkEntry `json:"paused,omitempty"`
}

// FlowService is the single-active-timer state machine: Idle or Running(key).
// The invariant is enforced by a state check under one mutex, not a lock per
// timer; every transition happens through Start, Stop or the tick.
type FlowService struct {
	kv       store.KV
	cat      catalog.Catalog
	paused   *PausedService
	settings *SettingsService
	recorder TransactionRecorder
	activity ActivityTracker

	mu     sync.Mutex
	active map[string]*model.ActiveFlowTimer
	loaded map[string]bool
}

func NewFlowService(
	kv store.KV,
	cat catalog.Catalog,
	paused *PausedService,
	settings *SettingsService,
	recorder TransactionRecorder,
	activity ActivityTracker,
) *FlowService {
	return &FlowService{
		kv:       kv,
		cat:      cat,
		paused:   paused,
		settings: settings,
		recorder: recorder,
		activity: activity,
		active:   make(map[string]*model.ActiveFlowTimer),
		loaded:   make(map[string]bool),
	}
}

// Active returns the running timer, or nil when idle.
func (s *FlowService) Active(ctx context.Context, userID string) *model.ActiveFlowTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer := s.loadActive(ctx, userID)
	if timer == nil {
		return nil
	}
	copied := *timer
	return &copied
}

// Start attempts the Idle -> Running(key) transition. When another timer is
// running or paused work exists for the key, it returns a decision instead of
// transitioning; the caller resolves it by calling Start again with the
// resolution filled in.
func (s *FlowService) Start(ctx context.Context, userID string, req StartRequest, now time.Time) (StartResult, *apperrors.APIError) {
	tma, known := s.cat.TMASeconds(req.Item, req.Type)
	if !known {
		return StartResult{}, apperrors.BadRequest("unknown_action", "that item and type are not in the catalog")
	}

	settings := s.settings.Get(ctx, userID)
	if !settings.FlowEnabled {
		return StartResult{}, apperrors.BadRequest("flow_disabled", "flow mode is disabled")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := model.FlowKey(req.Item, req.Type)
	result := StartResult{}

	if running := s.loadActive(ctx, userID); running != nil {
		if running.Key == key {
			switch req.Resolution {
			case ResolutionContinue:
				copied := *running
				result.Timer = &copied
				return result, nil
			case ResolutionFinalize:
				stop, apiErr := s.stopLocked(ctx, userID, true, now)
				if apiErr != nil {
					return StartResult{}, apiErr
				}
				result.Finalized = stop.Finalized
				return result, nil
			case ResolutionParalyze:
				stop, apiErr := s.stopLocked(ctx, userID, false, now)
				if apiErr != nil {
					return StartResult{}, apiErr
				}
				result.Paused = stop.Paused
				return result, nil
			default:
				result.Decision = &FlowDecision{
					Kind:    DecisionSameKey,
					Options: []string{ResolutionFinalize, ResolutionParalyze, ResolutionContinue},
				}
				return result, nil
			}
		}

		if s.isIdleTimer(running) {
			stop, apiErr := s.stopLocked(ctx, userID, true, now)
			if apiErr != nil {
				return StartResult{}, apiErr
			}
			result.Finalized = stop.Finalized
		} else {
			switch req.Resolution {
			case ResolutionFinalizeAndStart:
				stop, apiErr := s.stopLocked(ctx, userID, true, now)
				if apiErr != nil {
					return StartResult{}, apiErr
				}
				result.Finalized = stop.Finalized
			case ResolutionParalyzeAndStart:
				stop, apiErr := s.stopLocked(ctx, userID, false, now)
				if apiErr != nil {
					return StartResult{}, apiErr
				}
				result.Paused = stop.Paused
			case ResolutionCancel:
				result.Cancelled = true
				return result, nil
			default:
				result.Decision = &FlowDecision{
					Kind:    DecisionSwitchTimer,
					Options: []string{ResolutionFinalizeAndStart, ResolutionParalyzeAndStart, ResolutionCancel},
				}
				return result, nil
			}
		}
	}

	baseSeconds := 0
	if entries := s.paused.Entries(ctx, userID, key); len(entries) > 0 {
		switch req.PausedChoice {
		case PausedChoiceFresh:
			// leave the paused entries alone
		case PausedChoiceResume:
			entry, apiErr := s.paused.Pop(ctx, userID, key, req.ResumeEntryID)
			if apiErr != nil {
				return StartResult{}, apiErr
			}
			baseSeconds = entry.AccumulatedSeconds
		case PausedChoiceCancel:
			result.Cancelled = true
			return result, nil
		default:
			result.Decision = &FlowDecision{
				Kind:    DecisionResumePaused,
				Options: []string{PausedChoiceResume, PausedChoiceFresh, PausedChoiceCancel},
			}
			return result, nil
		}
	}

	timer := &model.ActiveFlowTimer{
		Key:         key,
		Item:        req.Item,
		Type:        req.Type,
		TMASeconds:  tma,
		StartMs:     now.UnixMilli(),
		BaseSeconds: baseSeconds,
	}
	if capSeconds := s.cat.CapSeconds(req.Item); capSeconds > 0 && req.Type == model.TypeTimeTracker {
		remaining := capSeconds - baseSeconds
		if remaining < 0 {
			remaining = 0
		}
		timer.AutoStopAtMs = now.UnixMilli() + int64(remaining)*1000
	}

	s.setActive(ctx, userID, timer)
	s.activity.TouchActivity(ctx, userID, now)
	copied := *timer
	result.Timer = &copied
	return result, nil
}

// Stop ends the running timer: finalize records a transaction, otherwise the
// accumulated time is paralyzed into the paused store.
func (s *FlowService) Stop(ctx context.Context, userID string, finalize bool, now time.Time) (StopResult, *apperrors.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(ctx, userID, finalize, now)
}

// SetEnabled flips flow mode. Disabling while a timer runs is rejected; the
// caller has to stop the timer first.
func (s *FlowService) SetEnabled(ctx context.Context, userID string, enabled bool, now time.Time) (model.Settings, *apperrors.APIError) {
	s.mu.Lock()
	running := s.loadActive(ctx, userID)
	s.mu.Unlock()

	if !enabled && running != nil {
		return model.Settings{}, apperrors.Conflict("flow_timer_running", "stop the running timer before disabling flow mode", nil)
	}
	return s.settings.SetFlowEnabled(ctx, userID, enabled)
}

// Running reports whether a timer is active for the user.
func (s *FlowService) Running(ctx context.Context, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadActive(ctx, userID) != nil
}

// Tick is the periodic check driven by the wall-clock loop. It fires pending
// auto-stops and opens the involuntary-idle timer when the user has gone
// quiet. Both checks are idempotent: once handled, re-evaluating is a no-op.
func (s *FlowService) Tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	users := make([]string, 0, len(s.loaded))
	for userID := range s.loaded {
		users = append(users, userID)
	}
	s.mu.Unlock()

	for _, userID := range users {
		s.tickUser(ctx, userID, now)
	}
}

func (s *FlowService) tickUser(ctx context.Context, userID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := s.loadActive(ctx, userID)
	if timer != nil {
		if timer.AutoStopAtMs > 0 && now.UnixMilli() >= timer.AutoStopAtMs {
			if _, apiErr := s.stopLocked(ctx, userID, true, now); apiErr != nil {
				log.Printf("flow: auto-stop for %s: %s", userID, apiErr.Message)
			}
		}
		return
	}

	settings := s.settings.Get(ctx, userID)
	idleItem := s.cat.IdleItem()
	if !settings.FlowEnabled || settings.IdleThresholdSeconds <= 0 || idleItem == "" {
		return
	}
	lastActivity, known := s.activity.LastActivity(ctx, userID)
	if !known || now.Sub(lastActivity) < time.Duration(settings.IdleThresholdSeconds)*time.Second {
		return
	}

	idle := &model.ActiveFlowTimer{
		Key:     model.FlowKey(idleItem, model.TypeTimeTracker),
		Item:    idleItem,
		Type:    model.TypeTimeTracker,
		StartMs: now.UnixMilli(),
	}
	s.setActive(ctx, userID, idle)
}

func (s *FlowService) stopLocked(ctx context.Context, userID string, finalize bool, now time.Time) (StopResult, *apperrors.APIError) {
	timer := s.loadActive(ctx, userID)
	if timer == nil {
		return StopResult{}, apperrors.NotFound("no_active_timer", "no timer is running")
	}

	total := timer.TotalSeconds(now.UnixMilli())
	s.setActive(ctx, userID, nil)

	if finalize {
		tx, apiErr := s.recorder.Record(ctx, userID, timer.Item, timer.Type, timer.TMASeconds, total, model.SourceFlow, now)
		if apiErr != nil {
			return StopResult{}, apiErr
		}
		return StopResult{Finalized: &tx}, nil
	}

	entry := model.PausedWorkEntry{
		Item:               timer.Item,
		Type:               timer.Type,
		TMASeconds:         timer.TMASeconds,
		AccumulatedSeconds: total,
	}
	if !entry.Valid() {
		// nothing accumulated yet, nothing worth keeping
		return StopResult{}, nil
	}
	stored, apiErr := s.paused.Push(ctx, userID, timer.Key, entry, now)
	if apiErr != nil {
		return StopResult{}, apiErr
	}
	return StopResult{Paused: &stored}, nil
}

func (s *FlowService) isIdleTimer(timer *model.ActiveFlowTimer) bool {
	idleItem := s.cat.IdleItem()
	return idleItem != "" && timer.Item == idleItem && timer.Type == model.TypeTimeTracker
}

func (s *FlowService) loadActive(ctx context.Context, userID string) *model.ActiveFlowTimer {
	if !s.loaded[userID] {
		var timer model.ActiveFlowTimer
		if store.LoadJSON(ctx, s.kv, userID, store.KeyActiveTimer, &timer) && timer.Key != "" {
			s.active[userID] = &timer
		}
		s.loaded[userID] = true
	}
	return s.active[userID]
}

func (s *FlowService) setActive(ctx context.Context, userID string, timer *model.ActiveFlowTimer) {
	s.loaded[userID] = true
	if timer == nil {
		delete(s.active, userID)
		if err := s.kv.Delete(ctx, userID, store.KeyActiveTimer); err != nil {
			log.Printf("flow: clear active timer: %v", err)
		}
		return
	}
	s.active[userID] = timer
	if err := store.SaveJSON(ctx, s.kv, userID, store.KeyActiveTimer, timer); err != nil {
		log.Printf("flow: persist active timer: %v", err)
	}
}
