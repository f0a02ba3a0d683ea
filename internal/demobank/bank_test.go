package demobank

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexusbank/gateway/internal/connection"
	"github.com/nexusbank/gateway/internal/ebics"
	"github.com/nexusbank/gateway/internal/ebicscrypto"
	"github.com/nexusbank/gateway/internal/gwerrors"
	"github.com/nexusbank/gateway/internal/iso20022"
)

// bankTransport adapts a Bank to the ebics.Transport interface, letting
// tests exercise the real client state machines against it with no network
// involved, the same role FakeTransport plays in internal/ebics's own tests.
type bankTransport struct {
	bank *Bank
}

func (t *bankTransport) Post(ctx context.Context, _ string, _ string, body []byte) (int, string, []byte, error) {
	status, ct, resp := t.bank.Handle(ctx, body)
	return status, ct, resp, nil
}

func newTestBank(t *testing.T) (*Bank, *connection.EBICSConfig) {
	t.Helper()
	bankAuthKey, err := ebicscrypto.GenerateRSA(2048)
	require.NoError(t, err)
	bankEncKey, err := ebicscrypto.GenerateRSA(2048)
	require.NoError(t, err)

	bank := NewBank("HOST1", bankAuthKey, bankEncKey)
	require.NoError(t, bank.SeedAccount("PARTNER1", "DE89370400440532013000", "DEUTDEFF", "Example GmbH", "1000.00"))

	sigKey, err := ebicscrypto.GenerateRSA(2048)
	require.NoError(t, err)
	authKey, err := ebicscrypto.GenerateRSA(2048)
	require.NoError(t, err)
	encKey, err := ebicscrypto.GenerateRSA(2048)
	require.NoError(t, err)

	cfg := &connection.EBICSConfig{
		HostID: "HOST1", PartnerID: "PARTNER1", UserID: "USER1", BaseURL: "https://bank.local/ebics",
		SigKey: sigKey, AuthKey: authKey, EncKey: encKey,
	}
	return bank, cfg
}

func completeHandshake(t *testing.T, tr ebics.Transport, cfg *connection.EBICSConfig) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, ebics.SendINI(ctx, tr, cfg))
	require.NoError(t, ebics.SendHIA(ctx, tr, cfg))
	require.NoError(t, ebics.FetchHPB(ctx, tr, cfg))
	require.NotNil(t, cfg.BankAuthPub)
	require.NotNil(t, cfg.BankEncPub)
}

func TestHandshakeThenCCTThenStatementRoundTrips(t *testing.T) {
	t.Parallel()
	bank, cfg := newTestBank(t)
	tr := &bankTransport{bank: bank}
	ctx := context.Background()

	completeHandshake(t, tr, cfg)

	paymentReq := iso20022.PaymentRequest{
		MsgID: "MSG-1", PaymentInfoID: "PMT-1", EndToEndID: "E2E-1",
		CreationDateTime: "2026-08-06T10:00:00Z", RequestedExecDate: "2026-08-06",
		DebtorName: "Example GmbH", DebtorIBAN: "DE89370400440532013000", DebtorBIC: "DEUTDEFF",
		CreditorName: "Supplier AG", CreditorIBAN: "DE02120300000000202051", CreditorBIC: "BYLADEM1001",
		Amount: "150.00", Currency: "EUR", RemittanceSubject: "invoice 42",
	}
	orderData, err := iso20022.EmitPain001(paymentReq)
	require.NoError(t, err)

	uploadRes, err := ebics.Upload(ctx, tr, cfg, orderData)
	require.NoError(t, err)
	require.NotEmpty(t, uploadRes.OrderID)

	acct := bank.accounts["DE89370400440532013000"]
	require.Len(t, acct.pending, 1)
	require.Equal(t, "150.00", acct.pending[0].Amount)
	require.Equal(t, int64(85000), acct.balanceCents)

	dlRes, err := ebics.Download(ctx, tr, cfg, ebics.OrderC53, time.Time{}, time.Time{})
	require.NoError(t, err)

	txs, err := iso20022.ParseCamt(dlRes.OrderData)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, "E2E-1", txs[0].EndToEndID)
	require.Equal(t, "Supplier AG", txs[0].CounterpartName)

	require.Empty(t, acct.pending)
	require.Len(t, acct.delivered, 1)
}

func TestCCTRejectedWhenCurrencyDoesNotMatchAccount(t *testing.T) {
	t.Parallel()
	bankAuthKey, err := ebicscrypto.GenerateRSA(2048)
	require.NoError(t, err)
	bankEncKey, err := ebicscrypto.GenerateRSA(2048)
	require.NoError(t, err)

	bank := NewBank("HOST1", bankAuthKey, bankEncKey)
	require.NoError(t, bank.SeedAccountWithCurrency("PARTNER1", "CH9300762011623852957", "UBSWCHZH80A", "Example GmbH", "1000.00", "CHF"))

	sigKey, err := ebicscrypto.GenerateRSA(2048)
	require.NoError(t, err)
	authKey, err := ebicscrypto.GenerateRSA(2048)
	require.NoError(t, err)
	encKey, err := ebicscrypto.GenerateRSA(2048)
	require.NoError(t, err)
	cfg := &connection.EBICSConfig{
		HostID: "HOST1", PartnerID: "PARTNER1", UserID: "USER1", BaseURL: "https://bank.local/ebics",
		SigKey: sigKey, AuthKey: authKey, EncKey: encKey,
	}
	tr := &bankTransport{bank: bank}
	ctx := context.Background()
	completeHandshake(t, tr, cfg)

	paymentReq := iso20022.PaymentRequest{
		MsgID: "MSG-1", PaymentInfoID: "PMT-1", EndToEndID: "E2E-1",
		CreationDateTime: "2026-08-06T10:00:00Z", RequestedExecDate: "2026-08-06",
		DebtorName: "Example GmbH", DebtorIBAN: "CH9300762011623852957", DebtorBIC: "UBSWCHZH80A",
		CreditorName: "Supplier AG", CreditorIBAN: "DE02120300000000202051", CreditorBIC: "BYLADEM1001",
		Amount: "150.00", Currency: "EUR", RemittanceSubject: "invoice 42",
	}
	orderData, err := iso20022.EmitPain001(paymentReq)
	require.NoError(t, err)

	_, err = ebics.Upload(ctx, tr, cfg, orderData)
	require.Error(t, err)
	gerr, ok := err.(*gwerrors.GatewayError)
	require.True(t, ok)
	require.Equal(t, gwerrors.CodeProcessingError, gerr.BusinessCode)
	require.True(t, gwerrors.Fatal(gerr))

	acct := bank.accounts["CH9300762011623852957"]
	require.Empty(t, acct.pending, "a currency-mismatched payment must never post a debit")
	require.Equal(t, int64(100000), acct.balanceCents)
}

func TestCCTRejectedWhenDebtorIBANNotAuthorized(t *testing.T) {
	t.Parallel()
	bank, cfg := newTestBank(t)
	tr := &bankTransport{bank: bank}
	ctx := context.Background()
	completeHandshake(t, tr, cfg)

	paymentReq := iso20022.PaymentRequest{
		MsgID: "MSG-1", PaymentInfoID: "PMT-1", EndToEndID: "E2E-1",
		CreationDateTime: "2026-08-06T10:00:00Z", RequestedExecDate: "2026-08-06",
		DebtorName: "Someone Else", DebtorIBAN: "DE02500105170137075030", DebtorBIC: "INGDDEFFXXX",
		CreditorName: "Supplier AG", CreditorIBAN: "DE02120300000000202051", CreditorBIC: "BYLADEM1001",
		Amount: "150.00", Currency: "EUR", RemittanceSubject: "invoice 42",
	}
	orderData, err := iso20022.EmitPain001(paymentReq)
	require.NoError(t, err)

	_, err = ebics.Upload(ctx, tr, cfg, orderData)
	require.Error(t, err)
	gerr, ok := err.(*gwerrors.GatewayError)
	require.True(t, ok)
	require.Equal(t, gwerrors.CodeAccountAuthorisationFailed, gerr.BusinessCode,
		"a forbidden debtor IBAN must be reported as an authorisation failure, not a generic processing error")
	require.True(t, gwerrors.Fatal(gerr))

	acct := bank.accounts["DE89370400440532013000"]
	require.Empty(t, acct.pending, "a payment against an unauthorized debtor must never post a debit")
	require.Equal(t, int64(100000), acct.balanceCents)
}

func TestDownloadNoDataAvailableWhenLedgerEmpty(t *testing.T) {
	t.Parallel()
	bank, cfg := newTestBank(t)
	tr := &bankTransport{bank: bank}
	ctx := context.Background()

	completeHandshake(t, tr, cfg)

	_, err := ebics.Download(ctx, tr, cfg, ebics.OrderC53, time.Time{}, time.Time{})
	require.Error(t, err)
	gerr, ok := err.(*gwerrors.GatewayError)
	require.True(t, ok)
	require.Equal(t, gwerrors.CodeNoDownloadData, gerr.BusinessCode)
}

func TestHTDReturnsSeededAccount(t *testing.T) {
	t.Parallel()
	bank, cfg := newTestBank(t)
	tr := &bankTransport{bank: bank}
	ctx := context.Background()

	completeHandshake(t, tr, cfg)

	res, err := ebics.Download(ctx, tr, cfg, ebics.OrderHTD, time.Time{}, time.Time{})
	require.NoError(t, err)

	accounts, err := iso20022.ParseHTD(res.OrderData)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, "DE89370400440532013000", accounts[0].IBAN)
	require.Equal(t, "DEUTDEFF", accounts[0].BIC)
}

func TestDownloadSplitsAcrossSmallSegments(t *testing.T) {
	t.Parallel()
	bank, cfg := newTestBank(t)
	bank.SegmentSize = 64 // force a multi-segment transfer over a tiny statement
	tr := &bankTransport{bank: bank}
	ctx := context.Background()

	completeHandshake(t, tr, cfg)

	for i := 0; i < 5; i++ {
		paymentReq := iso20022.PaymentRequest{
			MsgID: "MSG-BULK", PaymentInfoID: "PMT-BULK", EndToEndID: "E2E-BULK",
			CreationDateTime: "2026-08-06T10:00:00Z", RequestedExecDate: "2026-08-06",
			DebtorName: "Example GmbH", DebtorIBAN: "DE89370400440532013000", DebtorBIC: "DEUTDEFF",
			CreditorName: "Supplier AG", CreditorIBAN: "DE02120300000000202051", CreditorBIC: "BYLADEM1001",
			Amount: "10.00", Currency: "EUR", RemittanceSubject: "bulk invoice",
		}
		orderData, err := iso20022.EmitPain001(paymentReq)
		require.NoError(t, err)
		_, err = ebics.Upload(ctx, tr, cfg, orderData)
		require.NoError(t, err)
	}

	dlRes, err := ebics.Download(ctx, tr, cfg, ebics.OrderC53, time.Time{}, time.Time{})
	require.NoError(t, err)

	txs, err := iso20022.ParseCamt(dlRes.OrderData)
	require.NoError(t, err)
	require.Len(t, txs, 5)
}

func TestUnknownTransactionIDIsRejected(t *testing.T) {
	t.Parallel()
	bank, cfg := newTestBank(t)
	tr := &bankTransport{bank: bank}
	ctx := context.Background()

	completeHandshake(t, tr, cfg)

	_, _, resp, err := tr.Post(ctx, cfg.BaseURL, "text/xml", buildBogusTransferRequest(cfg))
	require.NoError(t, err)
	codes, err := ebics.ParseKeyManagementResponse(resp)
	require.NoError(t, err)
	require.Equal(t, gwerrors.CodeProcessingError, codes.Business)
}

func buildBogusTransferRequest(cfg *connection.EBICSConfig) []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?><ebicsRequest Version="H004" Revision="1">` +
		`<header authenticate="true"><static><HostID>` + cfg.HostID + `</HostID><TransactionID>does-not-exist</TransactionID></static>` +
		`<mutable><TransactionPhase>transfer</TransactionPhase><SegmentNumber lastSegment="true">2</SegmentNumber></mutable></header>` +
		`<AuthSignature><SignedInfo authenticate="true"/><SignatureValue></SignatureValue></AuthSignature>` +
		`<body/></ebicsRequest>`)
}
