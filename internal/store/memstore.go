package store

import (
	"context"
	"fmt"
	"sync"
)

// MemStore is an in-memory Store guarded by a single mutex. It stands in
// for the "transactional key/row store" the source treats as an external
// collaborator: every exported method takes the lock for its whole
// duration, giving callers repeatable-read semantics without a real
// database.
type MemStore struct {
	mu sync.Mutex

	connections map[string]ConnectionRecord
	accounts    map[string]AccountRecord
	payments    map[string]PaymentRecord
	rawMessages map[string]RawMessageRecord // key: connectionID + "/" + bankMessageID
	transactions map[string]TransactionRecord // key: accountID + "/" + bankEntryReference
	scalars     map[string]string             // key: connectionID + "/" + name
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		connections:  make(map[string]ConnectionRecord),
		accounts:     make(map[string]AccountRecord),
		payments:     make(map[string]PaymentRecord),
		rawMessages:  make(map[string]RawMessageRecord),
		transactions: make(map[string]TransactionRecord),
		scalars:      make(map[string]string),
	}
}

func rawMessageKey(connID, bankMsgID string) string {
	return connID + "/" + bankMsgID
}

func txKey(accountID, bankEntryRef string) string {
	return accountID + "/" + bankEntryRef
}

func scalarKey(connID, name string) string {
	return connID + "/" + name
}

func (s *MemStore) CreateConnection(_ context.Context, rec ConnectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.connections[rec.ID]; exists {
		return fmt.Errorf("connection %q already exists", rec.ID)
	}
	s.connections[rec.ID] = rec
	return nil
}

func (s *MemStore) GetConnection(_ context.Context, id string) (ConnectionRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.connections[id]
	return rec, ok, nil
}

func (s *MemStore) ListConnections(_ context.Context) ([]ConnectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConnectionRecord, 0, len(s.connections))
	for _, rec := range s.connections {
		out = append(out, rec)
	}
	return out, nil
}

func (s *MemStore) UpdateConnection(_ context.Context, rec ConnectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.connections[rec.ID]; !exists {
		return fmt.Errorf("connection %q not found", rec.ID)
	}
	s.connections[rec.ID] = rec
	return nil
}

func (s *MemStore) DeleteConnection(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connections, id)
	return nil
}

func (s *MemStore) CreateAccount(_ context.Context, rec AccountRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[rec.ID]; exists {
		return fmt.Errorf("account %q already exists", rec.ID)
	}
	s.accounts[rec.ID] = rec
	return nil
}

func (s *MemStore) GetAccount(_ context.Context, id string) (AccountRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.accounts[id]
	return rec, ok, nil
}

func (s *MemStore) ListAccountsByConnection(_ context.Context, connID string) ([]AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AccountRecord
	for _, rec := range s.accounts {
		if rec.ConnectionID == connID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemStore) UpdateAccount(_ context.Context, rec AccountRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[rec.ID]; !exists {
		return fmt.Errorf("account %q not found", rec.ID)
	}
	s.accounts[rec.ID] = rec
	return nil
}

func (s *MemStore) CreatePayment(_ context.Context, rec PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.payments[rec.ID]; exists {
		return fmt.Errorf("payment %q already exists", rec.ID)
	}
	s.payments[rec.ID] = rec
	return nil
}

func (s *MemStore) GetPayment(_ context.Context, id string) (PaymentRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.payments[id]
	return rec, ok, nil
}

// ListSubmittablePayments returns payments with submitted=false AND
// invalid=false for accountID, the selection rule the scheduler's
// submission tick uses.
func (s *MemStore) ListSubmittablePayments(_ context.Context, accountID string) ([]PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PaymentRecord
	for _, rec := range s.payments {
		if rec.AccountID == accountID && !rec.Submitted && !rec.Invalid {
			out = append(out, rec)
		}
	}
	return out, nil
}

// FindPaymentByEndToEndID returns the payment for accountID whose EndToEndID
// matches, used by ingestion to reconcile a settled transaction against the
// payment that produced it.
func (s *MemStore) FindPaymentByEndToEndID(_ context.Context, accountID, endToEndID string) (PaymentRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.payments {
		if rec.AccountID == accountID && rec.EndToEndID == endToEndID {
			return rec, true, nil
		}
	}
	return PaymentRecord{}, false, nil
}

func (s *MemStore) UpdatePayment(_ context.Context, rec PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, exists := s.payments[rec.ID]
	if !exists {
		return fmt.Errorf("payment %q not found", rec.ID)
	}
	// Invariant: once submitted=true, the frozen tuple never changes.
	if existing.Submitted {
		rec.CreditorIBAN = existing.CreditorIBAN
		rec.Amount = existing.Amount
		rec.Currency = existing.Currency
		rec.RemittanceSubject = existing.RemittanceSubject
		rec.PreparedAtUnixMs = existing.PreparedAtUnixMs
	}
	s.payments[rec.ID] = rec
	return nil
}

func (s *MemStore) PutRawMessage(_ context.Context, rec RawMessageRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rawMessageKey(rec.ConnectionID, rec.BankMessageID)
	if _, exists := s.rawMessages[key]; exists {
		return true, nil
	}
	s.rawMessages[key] = rec
	return false, nil
}

func (s *MemStore) UpsertTransaction(_ context.Context, rec TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[txKey(rec.AccountID, rec.BankEntryReference)] = rec
	return nil
}

func (s *MemStore) ListTransactionsByAccount(_ context.Context, accountID string) ([]TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TransactionRecord
	for _, rec := range s.transactions {
		if rec.AccountID == accountID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemStore) FindTransactionByEndToEndID(_ context.Context, accountID, endToEndID string) (TransactionRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.transactions {
		if rec.AccountID == accountID && rec.EndToEndID == endToEndID {
			return rec, true, nil
		}
	}
	return TransactionRecord{}, false, nil
}

func (s *MemStore) GetScalar(_ context.Context, connID, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.scalars[scalarKey(connID, key)]
	return v, ok, nil
}

func (s *MemStore) SetScalar(_ context.Context, connID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scalars[scalarKey(connID, key)] = value
	return nil
}

// Snapshot captures the entire store as a Snapshot for SaveSnapshot.
func (s *MemStore) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Scalars: make(map[string]string, len(s.scalars))}
	for _, rec := range s.connections {
		snap.Connections = append(snap.Connections, rec)
	}
	for _, rec := range s.accounts {
		snap.Accounts = append(snap.Accounts, rec)
	}
	for _, rec := range s.payments {
		snap.Payments = append(snap.Payments, rec)
	}
	for _, rec := range s.rawMessages {
		snap.RawMessages = append(snap.RawMessages, rec)
	}
	for _, rec := range s.transactions {
		snap.Transactions = append(snap.Transactions, rec)
	}
	for k, v := range s.scalars {
		snap.Scalars[k] = v
	}
	return snap
}

// Restore replaces the store's contents with snap, used at process startup
// to reload the last saved snapshot.
func (s *MemStore) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connections = make(map[string]ConnectionRecord, len(snap.Connections))
	for _, rec := range snap.Connections {
		s.connections[rec.ID] = rec
	}
	s.accounts = make(map[string]AccountRecord, len(snap.Accounts))
	for _, rec := range snap.Accounts {
		s.accounts[rec.ID] = rec
	}
	s.payments = make(map[string]PaymentRecord, len(snap.Payments))
	for _, rec := range snap.Payments {
		s.payments[rec.ID] = rec
	}
	s.rawMessages = make(map[string]RawMessageRecord, len(snap.RawMessages))
	for _, rec := range snap.RawMessages {
		s.rawMessages[rawMessageKey(rec.ConnectionID, rec.BankMessageID)] = rec
	}
	s.transactions = make(map[string]TransactionRecord, len(snap.Transactions))
	for _, rec := range snap.Transactions {
		s.transactions[txKey(rec.AccountID, rec.BankEntryReference)] = rec
	}
	s.scalars = make(map[string]string, len(snap.Scalars))
	for k, v := range snap.Scalars {
		s.scalars[k] = v
	}
}

var _ Store = (*MemStore)(nil)
