package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nexusbank/gateway/internal/connection"
	"github.com/nexusbank/gateway/internal/ebics"
	"github.com/nexusbank/gateway/internal/gwerrors"
	"github.com/nexusbank/gateway/internal/iso20022"
	"github.com/nexusbank/gateway/internal/store"
)

// IngestTick downloads the camt.053 statement for acc over the given date
// range, stores the raw message (deduplicated by the bank-assigned MsgId,
// not the document's bytes), upserts every entry as a normalized
// transaction, and reconciles each booked debit entry against a previously
// submitted payment sharing its end-to-end id.
//
// EBICS_NO_DOWNLOAD_DATA_AVAILABLE is not an error from the caller's
// perspective: it means there is nothing new this tick.
func IngestTick(ctx context.Context, s store.Store, tr ebics.Transport, conn *connection.Connection, acc store.AccountRecord, from, to time.Time) (ingested int, err error) {
	if conn.Protocol != connection.ProtocolEBICS || conn.EBICS == nil {
		return 0, gwerrors.New(gwerrors.KindState, "connection has no EBICS configuration")
	}
	if !conn.Ready() {
		return 0, gwerrors.New(gwerrors.KindState, "connection has not completed key exchange")
	}

	conn.Lock()
	res, downloadErr := ebics.Download(ctx, tr, conn.EBICS, ebics.OrderC53, from, to)
	conn.Unlock()
	if downloadErr != nil {
		if ge, ok := downloadErr.(*gwerrors.GatewayError); ok && ge.BusinessCode == gwerrors.CodeNoDownloadData {
			return 0, nil
		}
		return 0, downloadErr
	}

	bankMessageID, err := iso20022.ParseCamtMsgID(res.OrderData)
	if err != nil {
		quarantineID := messageDigest(res.OrderData) + "-quarantine"
		_, _ = s.PutRawMessage(ctx, store.RawMessageRecord{
			ConnectionID: conn.ID, BankMessageID: quarantineID, AccountID: acc.ID,
			XML: res.OrderData, Quarantined: true,
			QuarantineReason: fmt.Sprintf("no usable MsgId: %s", err),
		})
		return 0, gwerrors.Wrap(gwerrors.KindParse, "parse camt message id", err)
	}

	dup, err := s.PutRawMessage(ctx, store.RawMessageRecord{
		ConnectionID:  conn.ID,
		BankMessageID: bankMessageID,
		AccountID:     acc.ID,
		XML:           res.OrderData,
	})
	if err != nil {
		return 0, gwerrors.Wrap(gwerrors.KindInternal, "store raw message", err)
	}
	if dup {
		return 0, nil
	}

	txs, err := iso20022.ParseCamt(res.OrderData)
	if err != nil {
		_, _ = s.PutRawMessage(ctx, store.RawMessageRecord{
			ConnectionID: conn.ID, BankMessageID: bankMessageID + "-quarantine", AccountID: acc.ID,
			XML: res.OrderData, Quarantined: true, QuarantineReason: err.Error(),
		})
		return 0, gwerrors.Wrap(gwerrors.KindParse, "parse camt.053", err)
	}

	for _, tx := range txs {
		rec := store.TransactionRecord{
			ID:                    uuid.NewString(),
			AccountID:             acc.ID,
			BookingAccountIBAN:    tx.BookingAccountIBAN,
			CounterpartIBAN:       tx.CounterpartIBAN,
			CounterpartBIC:        tx.CounterpartBIC,
			CounterpartName:       tx.CounterpartName,
			Amount:                tx.Amount,
			Currency:              tx.Currency,
			BookingDateUnixMs:     tx.BookingDateUnixMs,
			ValueDateUnixMs:       tx.ValueDateUnixMs,
			UnstructuredRemit:     tx.UnstructuredRemit,
			Direction:             string(tx.Direction),
			Status:                string(tx.Status),
			IsBatch:               tx.IsBatch,
			BankTxCodeProprietary: tx.BankTransactionCode.Proprietary,
			EndToEndID:            tx.EndToEndID,
			BankEntryReference:    tx.BankEntryReference,
		}
		if tx.BankTransactionCode.HasISO() {
			rec.BankTxCodeISO = tx.BankTransactionCode.Domain + "." + tx.BankTransactionCode.Family + "." + tx.BankTransactionCode.Subfamily
		}
		if rec.EndToEndID != "" {
			if existing, found, err := s.FindTransactionByEndToEndID(ctx, acc.ID, rec.EndToEndID); err == nil && found {
				rec.ID = existing.ID
			}
		}
		if err := s.UpsertTransaction(ctx, rec); err != nil {
			return ingested, gwerrors.Wrap(gwerrors.KindInternal, "upsert transaction", err)
		}
		ingested++

		if rec.EndToEndID != "" && tx.Direction == iso20022.DirectionDebit && tx.Status == iso20022.StatusBooked {
			reconcile(ctx, s, acc.ID, rec.EndToEndID, rec.ID)
		}
	}

	return ingested, nil
}

// reconcile links a submitted payment to the transaction that settled it,
// by end-to-end id, the "exactly once" matching rule the ledger relies on.
func reconcile(ctx context.Context, s store.Store, accountID, endToEndID, txID string) {
	rec, found, err := s.FindPaymentByEndToEndID(ctx, accountID, endToEndID)
	if err != nil || !found || !rec.Submitted || rec.ReconciledTxID != "" {
		return
	}
	rec.ReconciledTxID = txID
	_ = s.UpdatePayment(ctx, rec)
}

func messageDigest(xml []byte) string {
	sum := sha256.Sum256(xml)
	return hex.EncodeToString(sum[:])
}
