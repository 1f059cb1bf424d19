package service

import (
	"math"
	"sort"
	"sync"
	"time"

	"tempo/backend/internal/catalog"
	"tempo/backend/internal/model"
)

// GuidanceMode tunes how willing the engine is to recommend actions it has
// no history for. The constants are tuned heuristics; changing them changes
// what gets recommended, not just how it is presented.
type GuidanceMode struct {
	Name            string  `json:"name"`
	UnknownPenalty  float64 `json:"unknownPenalty"`
	MinHistoryCount int     `json:"minHistoryCount"`
	MaxSteps        int     `json:"maxSteps"`
}

var (
	ModeConservative = GuidanceMode{Name: "conservative", UnknownPenalty: 600, MinHistoryCount: 1, MaxSteps: 3}
	ModeAggressive   = GuidanceMode{Name: "aggressive", UnknownPenalty: 60, MinHistoryCount: 0, MaxSteps: 6}
)

// confidenceBonusSeconds is the weight of historical confidence in the score.
const confidenceBonusSeconds = 90

// followedWindow is how long a shown recommendation stays eligible to be
// counted as followed.
const followedWindow = 30 * time.Minute

func GuidanceModeByName(name string) GuidanceMode {
	if name == ModeAggressive.Name {
		return ModeAggressive
	}
	return ModeConservative
}

// TypeStats aggregates history for one (item, type) pair. Only
// non-time-tracker transactions participate.
type TypeStats struct {
	Item       string  `json:"item"`
	Type       string  `json:"type"`
	Count      int     `json:"count"`
	AvgDiff    float64 `json:"avgDiff"`
	AvgAbsDiff float64 `json:"avgAbsDiff"`
}

// ScoredAction is one catalog action with its score for the current balance
// situation. Lower scores are better.
type ScoredAction struct {
	Item                string  `json:"item"`
	Type                string  `json:"type"`
	TMASeconds          int     `json:"tma"`
	Weight              int     `json:"weight"`
	HasHistory          bool    `json:"hasHistory"`
	HistoryCount        int     `json:"historyCount"`
	ExpectedDiffPerUnit float64 `json:"expectedDiffPerUnit"`
	Confidence          float64 `json:"confidence"`
	Score               float64 `json:"score"`
}

type Recommendation struct {
	AvgDiffTarget float64        `json:"avgDiffTarget"`
	Best          *ScoredAction  `json:"best,omitempty"`
	Alternatives  []ScoredAction `json:"alternatives"`
}

// GuideStep is one simulated pick in the multi-step path.
type GuideStep struct {
	Item             string  `json:"item"`
	Type             string  `json:"type"`
	Weight           int     `json:"weight"`
	TargetPerUnit    float64 `json:"targetPerUnit"`
	ExpectedDiff     float64 `json:"expectedDiff"`
	ProjectedBalance float64 `json:"projectedBalance"`
}

type GuidePath struct {
	Steps        []GuideStep `json:"steps"`
	FinalBalance float64     `json:"finalBalance"`
}

type shownRecommendation struct {
	item    string
	typ     string
	shownAt time.Time
}

// GuidanceEngine scores catalog actions against the per-unit correction
// needed to land the balance at zero by the end of the remaining quota.
type GuidanceEngine struct {
	cat catalog.Catalog

	mu       sync.Mutex
	shown    map[string]shownRecommendation
	followed map[string]int
}

func NewGuidanceEngine(cat catalog.Catalog) *GuidanceEngine {
	return &GuidanceEngine{
		cat:      cat,
		shown:    make(map[string]shownRecommendation),
		followed: make(map[string]int),
	}
}

// Stats computes per-(item, type) history over the full transaction list.
func (g *GuidanceEngine) Stats(transactions []model.Transaction) map[string]TypeStats {
	sums := make(map[string]*TypeStats)
	absSums := make(map[string]float64)
	for _, tx := range transactions {
		if tx.Type == model.TypeTimeTracker {
			continue
		}
		key := model.FlowKey(tx.Item, tx.Type)
		stats, ok := sums[key]
		if !ok {
			stats = &TypeStats{Item: tx.Item, Type: tx.Type}
			sums[key] = stats
		}
		stats.Count++
		stats.AvgDiff += float64(tx.Difference)
		absSums[key] += math.Abs(float64(tx.Difference))
	}

	out := make(map[string]TypeStats, len(sums))
	for key, stats := range sums {
		stats.AvgDiff /= float64(stats.Count)
		stats.AvgAbsDiff = absSums[key] / float64(stats.Count)
		out[key] = *stats
	}
	return out
}

// Recommend scores every quota-bearing catalog action and returns the best
// pick plus up to three alternatives. It returns no pick when the quota is
// already met.
func (g *GuidanceEngine) Recommend(transactions []model.Transaction, balanceSeconds, remainingUnits int, mode GuidanceMode) Recommendation {
	if remainingUnits <= 0 {
		return Recommendation{Alternatives: []ScoredAction{}}
	}

	target := -float64(balanceSeconds) / float64(remainingUnits)
	stats := g.Stats(transactions)
	scored := g.scoreActions(g.cat.AccountActions(), stats, target, mode)
	scored = filterByHistory(scored, mode.MinHistoryCount)

	rec := Recommendation{AvgDiffTarget: target, Alternatives: []ScoredAction{}}
	if len(scored) == 0 {
		return rec
	}
	rec.Best = &scored[0]
	for i := 1; i < len(scored) && i <= 3; i++ {
		rec.Alternatives = append(rec.Alternatives, scored[i])
	}
	return rec
}

// Path simulates up to the mode's step budget of future picks, re-aiming at
// zero balance before each one. The summed weights never exceed
// remainingUnits, and the output is advisory only.
func (g *GuidanceEngine) Path(transactions []model.Transaction, balanceSeconds, remainingUnits int, mode GuidanceMode) GuidePath {
	stats := g.Stats(transactions)
	simulated := float64(balanceSeconds)
	remaining := remainingUnits

	path := GuidePath{Steps: []GuideStep{}}
	for step := 0; step < mode.MaxSteps && remaining > 0; step++ {
		target := -simulated / float64(remaining)

		candidates := make([]catalog.Action, 0)
		for _, action := range g.cat.AccountActions() {
			if g.cat.QuotaWeight(action.Item) > remaining {
				continue
			}
			if mode.MinHistoryCount > 0 {
				key := model.FlowKey(action.Item, action.Type)
				if stats[key].Count < mode.MinHistoryCount {
					continue
				}
			}
			candidates = append(candidates, action)
		}
		if len(candidates) == 0 {
			break
		}

		scored := g.scoreActions(candidates, stats, target, mode)
		best := scored[0]
		expectedTotal := best.ExpectedDiffPerUnit * float64(best.Weight)
		simulated += expectedTotal
		remaining -= best.Weight

		path.Steps = append(path.Steps, GuideStep{
			Item:             best.Item,
			Type:             best.Type,
			Weight:           best.Weight,
			TargetPerUnit:    target,
			ExpectedDiff:     expectedTotal,
			ProjectedBalance: simulated,
		})
	}

	path.FinalBalance = simulated
	return path
}

// MarkShown remembers the top recommendation last presented to the user.
func (g *GuidanceEngine) MarkShown(userID string, rec Recommendation, now time.Time) {
	if rec.Best == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.shown[userID] = shownRecommendation{item: rec.Best.Item, typ: rec.Best.Type, shownAt: now}
}

// NoteRecorded observes a freshly recorded transaction and counts it as a
// followed recommendation when it matches what was shown within the window.
// Purely observational: it never touches the ledger or the scoring.
func (g *GuidanceEngine) NoteRecorded(userID string, tx model.Transaction, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	shown, ok := g.shown[userID]
	if !ok {
		return
	}
	if shown.item != tx.Item || shown.typ != tx.Type {
		return
	}
	if now.Sub(shown.shownAt) > followedWindow {
		return
	}
	g.followed[userID]++
	delete(g.shown, userID)
}

// FollowedCount reports how many recommendations the user has followed in
// this process lifetime.
func (g *GuidanceEngine) FollowedCount(userID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.followed[userID]
}

func (g *GuidanceEngine) scoreActions(actions []catalog.Action, stats map[string]TypeStats, target float64, mode GuidanceMode) []ScoredAction {
	scored := make([]ScoredAction, 0, len(actions))
	for _, action := range actions {
		weight := g.cat.QuotaWeight(action.Item)
		if weight <= 0 {
			continue
		}

		key := model.FlowKey(action.Item, action.Type)
		history, hasHistory := stats[key]

		expectedPerUnit := 0.0
		confidence := 0.0
		if hasHistory {
			expectedPerUnit = history.AvgDiff / float64(weight)
			confidence = math.Min(1, math.Log10(1+float64(history.Count)))
		}

		score := math.Abs(expectedPerUnit - target) - confidence*confidenceBonusSeconds
		if !hasHistory {
			score += mode.UnknownPenalty
		}

		scored = append(scored, ScoredAction{
			Item:                action.Item,
			Type:                action.Type,
			TMASeconds:          action.TMASeconds,
			Weight:              weight,
			HasHistory:          hasHistory,
			HistoryCount:        history.Count,
			ExpectedDiffPerUnit: expectedPerUnit,
			Confidence:          confidence,
			Score:               score,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score < scored[j].Score
		}
		return scored[i].Item < scored[j].Item
	})
	return scored
}

// filterByHistory drops actions below the minimum sample count, unless the
// filter would leave nothing to recommend.
func filterByHistory(scored []ScoredAction, minCount int) []ScoredAction {
	if minCount <= 0 {
		return scored
	}
	filtered := make([]ScoredAction, 0, len(scored))
	for _, action := range scored {
		if action.HistoryCount >= minCount {
			filtered = append(filtered, action)
		}
	}
	if len(filtered) == 0 {
		return scored
	}
	return filtered
}
