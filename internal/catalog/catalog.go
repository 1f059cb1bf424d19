// Package catalog holds the set of account types and time-tracker categories
// a worker can record, with their target durations and quota weights.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"tempo/backend/internal/model"
)

// AccountType is a billable account category with a target duration per
// operation type.
type AccountType struct {
	Name               string `yaml:"name" json:"name"`
	TMAConferencia     int    `yaml:"tmaConferencia" json:"tmaConferencia"`
	TMARetorno         int    `yaml:"tmaRetorno" json:"tmaRetorno"`
	Weight             int    `yaml:"weight,omitempty" json:"weight"`
	RetornoUnavailable bool   `yaml:"retornoUnavailable,omitempty" json:"retornoUnavailable,omitempty"`
}

// TrackerCategory is a non-productive activity. It never carries a TMA and
// never moves balance or quota.
type TrackerCategory struct {
	Name         string `yaml:"name" json:"name"`
	CapMinutes   int    `yaml:"capMinutes,omitempty" json:"capMinutes,omitempty"`
	ReservedIdle bool   `yaml:"reservedIdle,omitempty" json:"reservedIdle,omitempty"`
}

type Catalog struct {
	Accounts []AccountType     `yaml:"accounts" json:"accounts"`
	Trackers []TrackerCategory `yaml:"trackers" json:"trackers"`
}

// Action is one startable (item, type) pair derived from the catalog.
type Action struct {
	Item       string `json:"item"`
	Type       string `json:"type"`
	TMASeconds int    `json:"tma"`
}

// Default returns the compiled-in catalog used when no file is configured.
func Default() Catalog {
	return Catalog{
		Accounts: []AccountType{
			{Name: "Simples", TMAConferencia: 780, TMARetorno: 600, Weight: 1},
			{Name: "Intermediária", TMAConferencia: 1500, TMARetorno: 900, Weight: 1},
			{Name: model.HeavyweightItem, TMAConferencia: 2132, TMARetorno: 1320, Weight: 2},
		},
		Trackers: []TrackerCategory{
			{Name: "Pausa", CapMinutes: 15},
			{Name: "Almoço", CapMinutes: 60},
			{Name: "Reunião"},
			{Name: "Sistema indisponível"},
			{Name: "Ociosidade involuntária", ReservedIdle: true},
		},
	}
}

// Load reads a catalog file from disk. A missing path falls back to the
// default catalog so startup does not depend on local files.
func Load(path string) (Catalog, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(trimmed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return Catalog{}, fmt.Errorf("catalog: read %s: %w", trimmed, err)
	}
	return Parse(data)
}

// Parse decodes and validates a catalog payload.
func Parse(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("catalog: decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c.Normalized(), nil
}

func (c Catalog) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("catalog: no account types defined")
	}
	seen := make(map[string]struct{})
	for _, account := range c.Accounts {
		name := strings.TrimSpace(account.Name)
		if name == "" {
			return fmt.Errorf("catalog: account type with empty name")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("catalog: duplicate entry %q", name)
		}
		seen[name] = struct{}{}
		if account.TMAConferencia <= 0 {
			return fmt.Errorf("catalog: account %q has no conferencia target", name)
		}
	}
	idle := 0
	for _, tracker := range c.Trackers {
		name := strings.TrimSpace(tracker.Name)
		if name == "" {
			return fmt.Errorf("catalog: tracker category with empty name")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("catalog: duplicate entry %q", name)
		}
		seen[name] = struct{}{}
		if tracker.ReservedIdle {
			idle++
		}
	}
	if idle > 1 {
		return fmt.Errorf("catalog: more than one reserved idle category")
	}
	return nil
}

// Normalized trims names and fills in default weights.
func (c Catalog) Normalized() Catalog {
	out := Catalog{
		Accounts: make([]AccountType, len(c.Accounts)),
		Trackers: make([]TrackerCategory, len(c.Trackers)),
	}
	for i, account := range c.Accounts {
		account.Name = strings.TrimSpace(account.Name)
		if account.Weight <= 0 {
			account.Weight = 1
			if account.Name == model.HeavyweightItem {
				account.Weight = 2
			}
		}
		out.Accounts[i] = account
	}
	for i, tracker := range c.Trackers {
		tracker.Name = strings.TrimSpace(tracker.Name)
		out.Trackers[i] = tracker
	}
	return out
}

// QuotaWeight maps an item to its quota-unit weight: tracker categories count
// zero, the heavyweight account type counts double, everything else one.
func (c Catalog) QuotaWeight(item string) int {
	for _, tracker := range c.Trackers {
		if tracker.Name == item {
			return 0
		}
	}
	for _, account := range c.Accounts {
		if account.Name == item {
			return account.Weight
		}
	}
	if item == model.HeavyweightItem {
		return 2
	}
	return 1
}

func (c Catalog) IsTracker(item string) bool {
	for _, tracker := range c.Trackers {
		if tracker.Name == item {
			return true
		}
	}
	return false
}

// CapSeconds returns the hard cap for a tracker category, or 0 when the
// category has none.
func (c Catalog) CapSeconds(item string) int {
	for _, tracker := range c.Trackers {
		if tracker.Name == item {
			return tracker.CapMinutes * 60
		}
	}
	return 0
}

// IdleItem returns the reserved involuntary-idle category name, or "" when
// the catalog defines none.
func (c Catalog) IdleItem() string {
	for _, tracker := range c.Trackers {
		if tracker.ReservedIdle {
			return tracker.Name
		}
	}
	return ""
}

// TMASeconds resolves the target duration for an (item, type) pair.
// Tracker categories always have a zero target.
func (c Catalog) TMASeconds(item, entryType string) (int, bool) {
	if entryType == model.TypeTimeTracker {
		if c.IsTracker(item) {
			return 0, true
		}
		return 0, false
	}
	for _, account := range c.Accounts {
		if account.Name != item {
			continue
		}
		if entryType == model.TypeRetorno {
			if account.RetornoUnavailable {
				return 0, false
			}
			if account.TMARetorno > 0 {
				return account.TMARetorno, true
			}
		}
		return account.TMAConferencia, true
	}
	return 0, false
}

// Actions lists every startable (item, type) pair, account work first.
func (c Catalog) Actions() []Action {
	actions := make([]Action, 0, len(c.Accounts)*2+len(c.Trackers))
	for _, account := range c.Accounts {
		actions = append(actions, Action{Item: account.Name, Type: model.TypeConferencia, TMASeconds: account.TMAConferencia})
		if !account.RetornoUnavailable && account.TMARetorno > 0 {
			actions = append(actions, Action{Item: account.Name, Type: model.TypeRetorno, TMASeconds: account.TMARetorno})
		}
	}
	for _, tracker := range c.Trackers {
		actions = append(actions, Action{Item: tracker.Name, Type: model.TypeTimeTracker})
	}
	return actions
}

// AccountActions lists only the quota-bearing pairs, the candidate set the
// guidance engine scores.
func (c Catalog) AccountActions() []Action {
	actions := make([]Action, 0, len(c.Accounts)*2)
	for _, action := range c.Actions() {
		if action.Type != model.TypeTimeTracker {
			actions = append(actions, action)
		}
	}
	return actions
}
