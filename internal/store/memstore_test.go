package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutRawMessageDeduplicatesByBankMessageID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()

	rec := RawMessageRecord{ConnectionID: "c1", BankMessageID: "MSG-1", XML: []byte("<x/>")}
	dup1, err := s.PutRawMessage(ctx, rec)
	require.NoError(t, err)
	require.False(t, dup1)

	dup2, err := s.PutRawMessage(ctx, rec)
	require.NoError(t, err)
	require.True(t, dup2)
}

func TestUpdatePaymentFreezesTupleOnceSubmitted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()

	p := PaymentRecord{ID: "p1", AccountID: "a1", CreditorIBAN: "DE1", Amount: "10.00", Currency: "EUR"}
	require.NoError(t, s.CreatePayment(ctx, p))

	p.Submitted = true
	require.NoError(t, s.UpdatePayment(ctx, p))

	tampered := p
	tampered.CreditorIBAN = "DE2"
	tampered.Amount = "999.00"
	require.NoError(t, s.UpdatePayment(ctx, tampered))

	got, ok, err := s.GetPayment(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "DE1", got.CreditorIBAN)
	require.Equal(t, "10.00", got.Amount)
}

func TestListSubmittablePaymentsExcludesSubmittedAndInvalid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()

	require.NoError(t, s.CreatePayment(ctx, PaymentRecord{ID: "p1", AccountID: "a1"}))
	require.NoError(t, s.CreatePayment(ctx, PaymentRecord{ID: "p2", AccountID: "a1", Submitted: true}))
	require.NoError(t, s.CreatePayment(ctx, PaymentRecord{ID: "p3", AccountID: "a1", Invalid: true}))

	out, err := s.ListSubmittablePayments(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "p1", out[0].ID)
}

func TestUpsertTransactionIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()

	tx := TransactionRecord{AccountID: "a1", BankEntryReference: "ref-1", Amount: "1.00"}
	require.NoError(t, s.UpsertTransaction(ctx, tx))
	require.NoError(t, s.UpsertTransaction(ctx, tx))

	out, err := s.ListTransactionsByAccount(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.CreateConnection(ctx, ConnectionRecord{ID: "c1", Name: "test"}))
	require.NoError(t, s.SetScalar(ctx, "c1", "next_order_id", "42"))

	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.json")
	require.NoError(t, SaveSnapshot(path, s.Snapshot()))

	loaded, err := LoadSnapshot(path)
	require.NoError(t, err)

	s2 := NewMemStore()
	s2.Restore(loaded)

	rec, ok, err := s2.GetConnection(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "test", rec.Name)

	v, ok, err := s2.GetScalar(ctx, "c1", "next_order_id")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "42", v)

	_, err = os.Stat(path)
	require.NoError(t, err)
}
