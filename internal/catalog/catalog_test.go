package catalog

import (
	"testing"

	"tempo/backend/internal/model"
)

func TestQuotaWeight(t *testing.T) {
	cat := Default()

	if got := cat.QuotaWeight("Complexa"); got != 2 {
		t.Fatalf("heavyweight type must weigh 2, got %d", got)
	}
	for _, tracker := range cat.Trackers {
		if got := cat.QuotaWeight(tracker.Name); got != 0 {
			t.Fatalf("tracker %q must weigh 0, got %d", tracker.Name, got)
		}
	}
	if got := cat.QuotaWeight("Simples"); got != 1 {
		t.Fatalf("regular type must weigh 1, got %d", got)
	}
	if got := cat.QuotaWeight("Nunca vista"); got != 1 {
		t.Fatalf("unknown items default to weight 1, got %d", got)
	}
}

func TestTrackerCapsAndIdle(t *testing.T) {
	cat := Default()

	if got := cat.CapSeconds("Pausa"); got != 15*60 {
		t.Fatalf("expected 15 minute cap on Pausa, got %d", got)
	}
	if got := cat.CapSeconds("Almoço"); got != 60*60 {
		t.Fatalf("expected 60 minute cap on Almoço, got %d", got)
	}
	if got := cat.CapSeconds("Reunião"); got != 0 {
		t.Fatalf("expected no cap on Reunião, got %d", got)
	}
	if got := cat.IdleItem(); got != "Ociosidade involuntária" {
		t.Fatalf("unexpected idle item %q", got)
	}
}

func TestTMALookup(t *testing.T) {
	cat := Default()

	tma, ok := cat.TMASeconds("Complexa", model.TypeConferencia)
	if !ok || tma != 2132 {
		t.Fatalf("expected Complexa conferencia TMA 2132, got %d ok=%v", tma, ok)
	}
	tma, ok = cat.TMASeconds("Pausa", model.TypeTimeTracker)
	if !ok || tma != 0 {
		t.Fatalf("tracker categories carry a zero TMA, got %d ok=%v", tma, ok)
	}
	if _, ok := cat.TMASeconds("Pausa", model.TypeConferencia); ok {
		t.Fatal("a tracker category must not resolve as account work")
	}
	if _, ok := cat.TMASeconds("Inexistente", model.TypeConferencia); ok {
		t.Fatal("unknown items must not resolve")
	}
}

func TestParseAndNormalize(t *testing.T) {
	payload := []byte(`
accounts:
  - name: "  Simples "
    tmaConferencia: 780
    tmaRetorno: 600
  - name: Complexa
    tmaConferencia: 2132
trackers:
  - name: Pausa
    capMinutes: 15
  - name: Ociosidade involuntária
    reservedIdle: true
`)
	cat, err := Parse(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cat.Accounts[0].Name != "Simples" {
		t.Fatalf("expected trimmed name, got %q", cat.Accounts[0].Name)
	}
	if cat.Accounts[0].Weight != 1 {
		t.Fatalf("expected default weight 1, got %d", cat.Accounts[0].Weight)
	}
	if cat.Accounts[1].Weight != 2 {
		t.Fatalf("expected heavyweight default of 2, got %d", cat.Accounts[1].Weight)
	}
}

func TestParseRejectsBadCatalogs(t *testing.T) {
	bad := [][]byte{
		[]byte(`accounts: []`),
		[]byte(`accounts: [{name: "", tmaConferencia: 10}]`),
		[]byte(`accounts: [{name: A, tmaConferencia: 0}]`),
		[]byte("accounts:\n  - name: A\n    tmaConferencia: 10\n  - name: A\n    tmaConferencia: 20\n"),
	}
	for i, payload := range bad {
		if _, err := Parse(payload); err == nil {
			t.Fatalf("case %d: expected rejection", i)
		}
	}
}

func TestActionsExcludeUnavailableRetorno(t *testing.T) {
	cat := Catalog{
		Accounts: []AccountType{{Name: "A", TMAConferencia: 100, RetornoUnavailable: true}},
		Trackers: []TrackerCategory{{Name: "Pausa"}},
	}.Normalized()

	for _, action := range cat.Actions() {
		if action.Item == "A" && action.Type == model.TypeRetorno {
			t.Fatal("retorno-unavailable account must not produce a retorno action")
		}
	}
	if len(cat.AccountActions()) != 1 {
		t.Fatalf("expected a single account action, got %d", len(cat.AccountActions()))
	}
}
