package model

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

const (
	TypeConferencia = "conferencia"
	TypeRetorno     = "retorno"
	TypeTimeTracker = "time_tracker"

	SourceModal = "modal"
	SourceFlow  = "flow"
)

const (
	SecondsPerDay     = 24 * 3600
	ShiftTotalSeconds = 8 * 3600

	// LatestShiftStartSeconds is the last start-of-shift that still fits a
	// full shift before midnight.
	LatestShiftStartSeconds = SecondsPerDay - ShiftTotalSeconds

	DefaultDailyQuota           = 30
	DefaultBalanceMarginSeconds = 300
	DefaultShiftStartSeconds    = 8 * 3600
	DefaultIdleThresholdSeconds = 10 * 60
)

// HeavyweightItem is the account type that counts as two quota units.
const HeavyweightItem = "Complexa"

// TimestampLayout is the display format recorded on transactions.
const TimestampLayout = "02/01/2006 15:04:05"

// Transaction is one completed unit of work or one time-tracker event.
// Difference and CreditedMinutes are derived from (TimeSpent, TMA, Type) and
// are never set independently.
type Transaction struct {
	ID              string `json:"id,omitempty"`
	Item            string `json:"item"`
	Type            string `json:"type"`
	TMASeconds      int    `json:"tma"`
	TimeSpent       int    `json:"timeSpent"`
	Difference      int    `json:"difference"`
	CreditedMinutes int    `json:"creditedMinutes"`
	Source          string `json:"source"`
	Timestamp       string `json:"timestamp"`
}

// Derive returns the difference and credited minutes for a transaction.
// Time-tracker entries never move the balance, so their difference is zero.
func Derive(timeSpent, tmaSeconds int, entryType string) (difference, creditedMinutes int) {
	if entryType == TypeTimeTracker {
		return 0, 0
	}
	difference = timeSpent - tmaSeconds
	creditedMinutes = int(math.Round(math.Abs(float64(difference)) / 60))
	return difference, creditedMinutes
}

// NewTransaction builds a transaction with derived fields filled in and a
// temporary local id.
func NewTransaction(item, entryType string, tmaSeconds, timeSpent int, source string, now time.Time) Transaction {
	diff, credited := Derive(timeSpent, tmaSeconds, entryType)
	return Transaction{
		ID:              NewLocalID(now),
		Item:            item,
		Type:            entryType,
		TMASeconds:      tmaSeconds,
		TimeSpent:       timeSpent,
		Difference:      diff,
		CreditedMinutes: credited,
		Source:          source,
		Timestamp:       now.Format(TimestampLayout),
	}
}

func IsValidType(entryType string) bool {
	return entryType == TypeConferencia || entryType == TypeRetorno || entryType == TypeTimeTracker
}

// NewLocalID returns a temporary id carried until the cloud mirror confirms
// the record and assigns a durable one.
func NewLocalID(now time.Time) string {
	return fmt.Sprintf("local-%d-%04d", now.UnixMilli(), rand.Intn(10000))
}

func IsLocalID(id string) bool {
	return strings.HasPrefix(id, "local-")
}

// PausedWorkEntry is suspended, not-yet-finalized work on one action key.
type PausedWorkEntry struct {
	ID                 string `json:"id"`
	Item               string `json:"item"`
	Type               string `json:"type"`
	TMASeconds         int    `json:"tma"`
	AccumulatedSeconds int    `json:"accumulatedSeconds"`
	UpdatedAt          string `json:"updatedAt"`
}

func (e PausedWorkEntry) Valid() bool {
	return e.Item != "" && e.Type != "" && e.AccumulatedSeconds > 0
}

// ActiveFlowTimer is the single live timer. At most one exists per user.
type ActiveFlowTimer struct {
	Key          string `json:"key"`
	Item         string `json:"item"`
	Type         string `json:"type"`
	TMASeconds   int    `json:"tma"`
	StartMs      int64  `json:"start"`
	BaseSeconds  int    `json:"baseSeconds"`
	AutoStopAtMs int64  `json:"autoStopAtMs,omitempty"`
}

// FlowKey identifies an action for timers and paused work.
func FlowKey(item, entryType string) string {
	return item + "-" + entryType
}

// TotalSeconds is the accumulated time at nowMs, including any resumed base.
func (t ActiveFlowTimer) TotalSeconds(nowMs int64) int {
	elapsed := (nowMs - t.StartMs) / 1000
	if elapsed < 0 {
		elapsed = 0
	}
	return t.BaseSeconds + int(elapsed)
}

// Settings is the per-user configuration bundle.
type Settings struct {
	ShiftStartSeconds    int    `json:"shiftStartSeconds"`
	LunchStartSeconds    *int   `json:"lunchStartSeconds,omitempty"`
	LunchEndSeconds      *int   `json:"lunchEndSeconds,omitempty"`
	DailyQuota           int    `json:"dailyQuota"`
	BalanceMarginSeconds int    `json:"balanceMarginSeconds"`
	GuidanceMode         string `json:"guidanceMode"`
	FlowEnabled          bool   `json:"flowEnabled"`
	IdleThresholdSeconds int    `json:"idleThresholdSeconds"`
}

func DefaultSettings() Settings {
	return Settings{
		ShiftStartSeconds:    DefaultShiftStartSeconds,
		DailyQuota:           DefaultDailyQuota,
		BalanceMarginSeconds: DefaultBalanceMarginSeconds,
		GuidanceMode:         "conservative",
		FlowEnabled:          true,
		IdleThresholdSeconds: DefaultIdleThresholdSeconds,
	}
}

func (s Settings) ShiftEndSeconds() int {
	return s.ShiftStartSeconds + ShiftTotalSeconds
}
