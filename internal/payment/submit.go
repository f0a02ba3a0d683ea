package payment

import (
	"context"
	"time"

	"github.com/nexusbank/gateway/internal/clock"
	"github.com/nexusbank/gateway/internal/connection"
	"github.com/nexusbank/gateway/internal/ebics"
	"github.com/nexusbank/gateway/internal/gwerrors"
	"github.com/nexusbank/gateway/internal/iso20022"
	"github.com/nexusbank/gateway/internal/store"
)

// SubmitTick selects every submittable payment (submitted=false,
// invalid=false) for account, serializes each into its own pain.001
// document, and uploads it over conn via CCT. A payment that fails with a
// gwerrors.Fatal error, or whose pain.001 cannot be emitted, is marked
// invalid and never retried; only the Fatal case counts in invalidated.
// Any other failure leaves it submittable for the next tick.
//
// Each payment uploads as its own single-transaction pain.001 message
// rather than batching, so one payment's rejection never blocks another's.
func SubmitTick(ctx context.Context, s store.Store, tr ebics.Transport, conn *connection.Connection, now clock.Clock, acc store.AccountRecord) (submitted, invalidated int, err error) {
	if conn.Protocol != connection.ProtocolEBICS || conn.EBICS == nil {
		return 0, 0, gwerrors.New(gwerrors.KindState, "connection has no EBICS configuration")
	}
	if !conn.Ready() {
		return 0, 0, gwerrors.New(gwerrors.KindState, "connection has not completed key exchange")
	}

	payments, err := s.ListSubmittablePayments(ctx, acc.ID)
	if err != nil {
		return 0, 0, gwerrors.Wrap(gwerrors.KindInternal, "list submittable payments", err)
	}

	for _, rec := range payments {
		if submitErr := submitOne(ctx, s, tr, conn, now, acc, rec); submitErr != nil {
			if gwerrors.Fatal(submitErr) {
				invalidated++
			}
			continue
		}
		submitted++
	}
	return submitted, invalidated, nil
}

func submitOne(ctx context.Context, s store.Store, tr ebics.Transport, conn *connection.Connection, now clock.Clock, acc store.AccountRecord, rec store.PaymentRecord) error {
	conn.Lock()
	defer conn.Unlock()

	req := toPaymentRequest(acc, rec)
	req.CreationDateTime = now.Now().UTC().Format(time.RFC3339)
	req.RequestedExecDate = now.Now().UTC().Format("2006-01-02")

	orderData, err := iso20022.EmitPain001(req)
	if err != nil {
		rec.Invalid = true
		rec.InvalidReason = err.Error()
		_ = s.UpdatePayment(ctx, rec)
		return gwerrors.Wrap(gwerrors.KindBadRequest, "emit pain.001", err)
	}

	_, uploadErr := ebics.Upload(ctx, tr, conn.EBICS, orderData)
	if uploadErr != nil {
		if gwerrors.Fatal(uploadErr) {
			rec.Invalid = true
			rec.InvalidReason = uploadErr.Error()
		}
		_ = s.UpdatePayment(ctx, rec)
		return uploadErr
	}

	rec.Submitted = true
	rec.SubmissionAtUnixMs = now.Now().UnixMilli()
	if err := s.UpdatePayment(ctx, rec); err != nil {
		return gwerrors.Wrap(gwerrors.KindInternal, "persist submitted payment", err)
	}
	return nil
}
