package service

import (
	"context"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"tempo/backend/internal/catalog"
	apperrors "tempo/backend/internal/errors"
	"tempo/backend/internal/model"
	"tempo/backend/internal/store"
)

// LedgerService owns the transaction list and the running time balance.
// The list is kept newest-first; only non-time-tracker entries move the
// balance. All mutation goes through one mutex, matching the single logical
// thread the accounting rules assume.
type LedgerService struct {
	kv  store.KV
	cat catalog.Catalog
	mu  sync.Mutex
}

func NewLedgerService(kv store.KV, cat catalog.Catalog) *LedgerService {
	return &LedgerService{kv: kv, cat: cat}
}

// Transactions returns the stored list, newest first. Absent or corrupt
// storage yields an empty list, never an error.
func (s *LedgerService) Transactions(ctx context.Context, userID string) []model.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadTransactions(ctx, userID)
}

// Balance returns the current balance in seconds. When the stored value does
// not parse it is re-derived from the transaction list.
func (s *LedgerService) Balance(ctx context.Context, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadBalance(ctx, userID)
}

// Add appends a transaction at the head of the list, derives its difference
// and credited minutes, and applies the difference to the balance.
func (s *LedgerService) Add(ctx context.Context, userID, item, entryType string, tmaSeconds, timeSpent int, source string, now time.Time) (model.Transaction, *apperrors.APIError) {
	if !model.IsValidType(entryType) {
		return model.Transaction{}, apperrors.BadRequest("invalid_type", "type must be conferencia, retorno or time_tracker")
	}
	if item == "" {
		return model.Transaction{}, apperrors.BadRequest("invalid_item", "item is required")
	}
	if timeSpent < 0 || tmaSeconds < 0 {
		return model.Transaction{}, apperrors.BadRequest("invalid_duration", "durations must be zero or positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := model.NewTransaction(item, entryType, tmaSeconds, timeSpent, source, now)
	transactions := append([]model.Transaction{tx}, s.loadTransactions(ctx, userID)...)
	balance := s.loadBalance(ctx, userID) + tx.Difference

	if err := s.persist(ctx, userID, transactions, balance); err != nil {
		return model.Transaction{}, apperrors.Internal("failed to record transaction")
	}
	s.touchLastActivity(ctx, userID, now)
	return tx, nil
}

// DeleteAt removes the transaction at index and subtracts its difference
// from the balance, the exact inverse of Add.
func (s *LedgerService) DeleteAt(ctx context.Context, userID string, index int) (model.Transaction, *apperrors.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	transactions := s.loadTransactions(ctx, userID)
	if index < 0 || index >= len(transactions) {
		return model.Transaction{}, apperrors.NotFound("transaction_not_found", "no transaction at that position")
	}

	removed := transactions[index]
	transactions = append(transactions[:index:index], transactions[index+1:]...)
	balance := s.loadBalance(ctx, userID) - removed.Difference

	if err := s.persist(ctx, userID, transactions, balance); err != nil {
		return model.Transaction{}, apperrors.Internal("failed to delete transaction")
	}
	return removed, nil
}

// RecomputeBalance re-derives the balance from the full transaction list and
// persists it. It is order-independent and idempotent, and must run after any
// bulk replace from an external source.
func (s *LedgerService) RecomputeBalance(ctx context.Context, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recomputeLocked(ctx, userID)
}

// QuotaUnitsDone sums the quota weight of every recorded transaction.
func (s *LedgerService) QuotaUnitsDone(ctx context.Context, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	done := 0
	for _, tx := range s.loadTransactions(ctx, userID) {
		done += s.weight(tx)
	}
	return done
}

// Confirm swaps the optimistic record carrying localID for the canonical one
// returned by the mirror. The list order is preserved and the balance is not
// touched; the difference was applied when the record was created.
func (s *LedgerService) Confirm(ctx context.Context, userID, localID string, confirmed model.Transaction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	transactions := s.loadTransactions(ctx, userID)
	for i := range transactions {
		if transactions[i].ID != localID {
			continue
		}
		confirmed.Difference, confirmed.CreditedMinutes = model.Derive(confirmed.TimeSpent, confirmed.TMASeconds, confirmed.Type)
		transactions[i] = confirmed
		if err := store.SaveJSON(ctx, s.kv, userID, store.KeyTransactions, transactions); err != nil {
			log.Printf("ledger: persist confirmed transaction: %v", err)
			return false
		}
		return true
	}
	return false
}

// ApplyRemoteInsert adds a record that originated on another device. Records
// whose id is already present are skipped so replayed events stay idempotent.
func (s *LedgerService) ApplyRemoteInsert(ctx context.Context, userID string, tx model.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	transactions := s.loadTransactions(ctx, userID)
	for _, existing := range transactions {
		if existing.ID != "" && existing.ID == tx.ID {
			return
		}
	}
	tx.Difference, tx.CreditedMinutes = model.Derive(tx.TimeSpent, tx.TMASeconds, tx.Type)
	transactions = append([]model.Transaction{tx}, transactions...)
	s.replaceLocked(ctx, userID, transactions)
}

// ApplyRemoteUpdate replaces the record matching the event's durable id.
func (s *LedgerService) ApplyRemoteUpdate(ctx context.Context, userID string, tx model.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	transactions := s.loadTransactions(ctx, userID)
	for i := range transactions {
		if transactions[i].ID != tx.ID {
			continue
		}
		tx.Difference, tx.CreditedMinutes = model.Derive(tx.TimeSpent, tx.TMASeconds, tx.Type)
		transactions[i] = tx
		s.replaceLocked(ctx, userID, transactions)
		return
	}
}

// ApplyRemoteDelete removes the record matching the durable id, if present.
func (s *LedgerService) ApplyRemoteDelete(ctx context.Context, userID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	transactions := s.loadTransactions(ctx, userID)
	for i := range transactions {
		if transactions[i].ID != id {
			continue
		}
		transactions = append(transactions[:i:i], transactions[i+1:]...)
		s.replaceLocked(ctx, userID, transactions)
		return
	}
}

// LastActivity reports when the ledger was last touched. The tick loop uses
// it to open the involuntary-idle timer.
func (s *LedgerService) LastActivity(ctx context.Context, userID string) (time.Time, bool) {
	raw, err := s.kv.Get(ctx, userID, store.KeyLastActivity)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("ledger: read last activity: %v", err)
		}
		return time.Time{}, false
	}
	at, parseErr := time.Parse(time.RFC3339Nano, raw)
	if parseErr != nil {
		return time.Time{}, false
	}
	return at, true
}

// TouchActivity stamps the last-activity marker.
func (s *LedgerService) TouchActivity(ctx context.Context, userID string, now time.Time) {
	s.touchLastActivity(ctx, userID, now)
}

func (s *LedgerService) loadTransactions(ctx context.Context, userID string) []model.Transaction {
	var transactions []model.Transaction
	if !store.LoadJSON(ctx, s.kv, userID, store.KeyTransactions, &transactions) {
		return []model.Transaction{}
	}
	if transactions == nil {
		transactions = []model.Transaction{}
	}
	return transactions
}

func (s *LedgerService) loadBalance(ctx context.Context, userID string) int {
	raw, err := s.kv.Get(ctx, userID, store.KeyBalance)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("ledger: read balance: %v", err)
		}
		return s.sumDifferences(s.loadTransactions(ctx, userID))
	}
	balance, parseErr := strconv.Atoi(raw)
	if parseErr != nil {
		return s.sumDifferences(s.loadTransactions(ctx, userID))
	}
	return balance
}

func (s *LedgerService) recomputeLocked(ctx context.Context, userID string) int {
	transactions := s.loadTransactions(ctx, userID)
	balance := s.sumDifferences(transactions)
	if err := s.kv.Set(ctx, userID, store.KeyBalance, strconv.Itoa(balance)); err != nil {
		log.Printf("ledger: persist balance: %v", err)
	}
	return balance
}

func (s *LedgerService) replaceLocked(ctx context.Context, userID string, transactions []model.Transaction) {
	if err := store.SaveJSON(ctx, s.kv, userID, store.KeyTransactions, transactions); err != nil {
		log.Printf("ledger: persist transactions: %v", err)
		return
	}
	s.recomputeLocked(ctx, userID)
}

func (s *LedgerService) sumDifferences(transactions []model.Transaction) int {
	total := 0
	for _, tx := range transactions {
		if tx.Type != model.TypeTimeTracker {
			total += tx.Difference
		}
	}
	return total
}

func (s *LedgerService) persist(ctx context.Context, userID string, transactions []model.Transaction, balance int) error {
	if err := store.SaveJSON(ctx, s.kv, userID, store.KeyTransactions, transactions); err != nil {
		return err
	}
	return s.kv.Set(ctx, userID, store.KeyBalance, strconv.Itoa(balance))
}

func (s *LedgerService) touchLastActivity(ctx context.Context, userID string, now time.Time) {
	if err := s.kv.Set(ctx, userID, store.KeyLastActivity, now.UTC().Format(time.RFC3339Nano)); err != nil {
		log.Printf("ledger: touch last activity: %v", err)
	}
}

func (s *LedgerService) weight(tx model.Transaction) int {
	if tx.Type == model.TypeTimeTracker {
		return 0
	}
	return s.cat.QuotaWeight(tx.Item)
}
