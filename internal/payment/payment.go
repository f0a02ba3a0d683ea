// Package payment implements the prepared-payment lifecycle: preparation,
// submission over an EBICS connection via CCT, and reconciliation against
// ingested camt.053 transactions by end-to-end id.
package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nexusbank/gateway/internal/clock"
	"github.com/nexusbank/gateway/internal/gwerrors"
	"github.com/nexusbank/gateway/internal/iso20022"
	"github.com/nexusbank/gateway/internal/store"
)

// PrepareRequest is the caller-supplied content of a new payment, before
// the gateway assigns identifiers and freezes the tuple.
type PrepareRequest struct {
	AccountID         string
	CreditorName      string
	CreditorIBAN      string
	CreditorBIC       string
	Amount            string
	Currency          string
	RemittanceSubject string
}

// Prepare validates req and stores a new, unsubmitted payment record.
// Validation failures mark the record invalid=true immediately rather than
// rejecting creation outright, so a caller can inspect why a payment will
// never be submitted.
func Prepare(ctx context.Context, s store.Store, now clock.Clock, req PrepareRequest) (store.PaymentRecord, error) {
	rec := store.PaymentRecord{
		ID:                uuid.NewString(),
		AccountID:         req.AccountID,
		CreditorIBAN:      req.CreditorIBAN,
		CreditorBIC:       req.CreditorBIC,
		CreditorName:      req.CreditorName,
		Amount:            req.Amount,
		Currency:          req.Currency,
		RemittanceSubject: req.RemittanceSubject,
		PreparedAtUnixMs:  now.Now().UnixMilli(),
		EndToEndID:        uuid.NewString(),
		PaymentInfoID:     uuid.NewString(),
		MessageID:         uuid.NewString(),
	}

	if err := iso20022.ValidateIBAN(req.CreditorIBAN); err != nil {
		rec.Invalid = true
		rec.InvalidReason = fmt.Sprintf("invalid creditor IBAN: %v", err)
	} else if req.CreditorBIC != "" {
		if err := iso20022.ValidateBIC(req.CreditorBIC); err != nil {
			rec.Invalid = true
			rec.InvalidReason = fmt.Sprintf("invalid creditor BIC: %v", err)
		}
	}

	if err := s.CreatePayment(ctx, rec); err != nil {
		return store.PaymentRecord{}, gwerrors.Wrap(gwerrors.KindInternal, "create payment record", err)
	}
	return rec, nil
}

func toPaymentRequest(acc store.AccountRecord, rec store.PaymentRecord) iso20022.PaymentRequest {
	return iso20022.PaymentRequest{
		MsgID:             rec.MessageID,
		PaymentInfoID:     rec.PaymentInfoID,
		EndToEndID:        rec.EndToEndID,
		DebtorIBAN:        acc.IBAN,
		DebtorBIC:         acc.BIC,
		DebtorName:        acc.Holder,
		CreditorName:      rec.CreditorName,
		CreditorIBAN:      rec.CreditorIBAN,
		CreditorBIC:       rec.CreditorBIC,
		Amount:            rec.Amount,
		Currency:          rec.Currency,
		RemittanceSubject: rec.RemittanceSubject,
	}
}
