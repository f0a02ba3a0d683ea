package store

import "context"

// Store is the narrow persistence interface the core depends on. The
// in-memory MemStore implements it for tests and the reference deployment;
// a real SQL backend can implement it without touching callers.
//
// MemStore runs every method under one store-wide mutex held for the whole
// call: readers observe a consistent view taken at call start, and writers
// serialize against each other.
type Store interface {
	CreateConnection(ctx context.Context, rec ConnectionRecord) error
	GetConnection(ctx context.Context, id string) (ConnectionRecord, bool, error)
	ListConnections(ctx context.Context) ([]ConnectionRecord, error)
	UpdateConnection(ctx context.Context, rec ConnectionRecord) error
	DeleteConnection(ctx context.Context, id string) error

	CreateAccount(ctx context.Context, rec AccountRecord) error
	GetAccount(ctx context.Context, id string) (AccountRecord, bool, error)
	ListAccountsByConnection(ctx context.Context, connID string) ([]AccountRecord, error)
	UpdateAccount(ctx context.Context, rec AccountRecord) error

	CreatePayment(ctx context.Context, rec PaymentRecord) error
	GetPayment(ctx context.Context, id string) (PaymentRecord, bool, error)
	ListSubmittablePayments(ctx context.Context, accountID string) ([]PaymentRecord, error)
	FindPaymentByEndToEndID(ctx context.Context, accountID, endToEndID string) (PaymentRecord, bool, error)
	UpdatePayment(ctx context.Context, rec PaymentRecord) error

	// PutRawMessage stores a raw bank message and reports whether it was
	// already present (the bank's message id within a connection is the
	// deduplication key). A duplicate PutRawMessage is a no-op.
	PutRawMessage(ctx context.Context, rec RawMessageRecord) (alreadyPresent bool, err error)

	// UpsertTransaction inserts or replaces a normalized transaction keyed
	// by (account id, bank_entry_reference), making ingestion idempotent.
	UpsertTransaction(ctx context.Context, rec TransactionRecord) error
	ListTransactionsByAccount(ctx context.Context, accountID string) ([]TransactionRecord, error)
	FindTransactionByEndToEndID(ctx context.Context, accountID, endToEndID string) (TransactionRecord, bool, error)

	GetScalar(ctx context.Context, connID, key string) (string, bool, error)
	SetScalar(ctx context.Context, connID, key, value string) error
}
