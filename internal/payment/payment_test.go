package payment

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexusbank/gateway/internal/clock"
	"github.com/nexusbank/gateway/internal/connection"
	"github.com/nexusbank/gateway/internal/ebicscrypto"
	"github.com/nexusbank/gateway/internal/gwerrors"
	"github.com/nexusbank/gateway/internal/store"
)

type fakeTransport struct {
	handler func(body []byte) (int, string, []byte, error)
}

func (f *fakeTransport) Post(_ context.Context, _ string, _ string, body []byte) (int, string, []byte, error) {
	return f.handler(body)
}

func testConnection(t *testing.T) *connection.Connection {
	t.Helper()
	authKey, err := ebicscrypto.GenerateRSA(2048)
	require.NoError(t, err)
	encKey, err := ebicscrypto.GenerateRSA(2048)
	require.NoError(t, err)
	sigKey, err := ebicscrypto.GenerateRSA(2048)
	require.NoError(t, err)

	return &connection.Connection{
		ID:       "conn-1",
		Protocol: connection.ProtocolEBICS,
		EBICS: &connection.EBICSConfig{
			BaseURL: "https://bank.example/ebics", HostID: "HOST1", PartnerID: "PARTNER1", UserID: "USER1",
			AuthKey: authKey, EncKey: encKey, SigKey: sigKey,
			BankAuthPub: &authKey.PublicKey, BankEncPub: &encKey.PublicKey,
		},
	}
}

func TestPrepareMarksInvalidIBANUnsubmittable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemStore()

	rec, err := Prepare(ctx, s, clock.System{}, PrepareRequest{
		AccountID: "acc-1", CreditorName: "Bad Corp", CreditorIBAN: "NOTANIBAN", Amount: "10.00", Currency: "EUR",
	})
	require.NoError(t, err)
	require.True(t, rec.Invalid)
	require.NotEmpty(t, rec.InvalidReason)

	submittable, err := s.ListSubmittablePayments(ctx, "acc-1")
	require.NoError(t, err)
	require.Empty(t, submittable)
}

func TestSubmitTickUploadsEachPreparedPaymentOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemStore()
	conn := testConnection(t)
	acc := store.AccountRecord{ID: "acc-1", ConnectionID: conn.ID, IBAN: "DE89370400440532013000", BIC: "DEUTDEFF", Holder: "Example GmbH"}

	rec, err := Prepare(ctx, s, clock.System{}, PrepareRequest{
		AccountID: acc.ID, CreditorName: "Vendor AG", CreditorIBAN: "DE02500105170137075030", CreditorBIC: "INGDDEFFXXX",
		Amount: "123.45", Currency: "EUR", RemittanceSubject: "invoice 42",
	})
	require.NoError(t, err)
	require.False(t, rec.Invalid)

	calls := 0
	tr := &fakeTransport{handler: func(body []byte) (int, string, []byte, error) {
		calls++
		require.True(t, strings.Contains(string(body), "<TransactionPhase>initialisation</TransactionPhase>"))
		return 200, "text/xml", upload200Response("TX-1"), nil
	}}

	submitted, invalidated, err := SubmitTick(ctx, s, tr, conn, clock.System{}, acc)
	require.NoError(t, err)
	require.Equal(t, 1, submitted)
	require.Equal(t, 0, invalidated)
	require.Equal(t, 1, calls)

	submittable, err := s.ListSubmittablePayments(ctx, acc.ID)
	require.NoError(t, err)
	require.Empty(t, submittable)

	got, ok, err := s.GetPayment(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Submitted)
}

func TestSubmitTickMarksInvalidOnFatalRejection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemStore()
	conn := testConnection(t)
	acc := store.AccountRecord{ID: "acc-1", ConnectionID: conn.ID, IBAN: "DE89370400440532013000", BIC: "DEUTDEFF", Holder: "Example GmbH"}

	rec, err := Prepare(ctx, s, clock.System{}, PrepareRequest{
		AccountID: acc.ID, CreditorName: "Vendor AG", CreditorIBAN: "DE02500105170137075030",
		Amount: "50.00", Currency: "EUR",
	})
	require.NoError(t, err)

	tr := &fakeTransport{handler: func(_ []byte) (int, string, []byte, error) {
		return 200, "text/xml", upload200ResponseRejected(gwerrors.CodeAccountAuthorisationFailed), nil
	}}

	submitted, invalidated, err := SubmitTick(ctx, s, tr, conn, clock.System{}, acc)
	require.NoError(t, err)
	require.Equal(t, 0, submitted)
	require.Equal(t, 1, invalidated)

	got, ok, err := s.GetPayment(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Invalid)
	require.False(t, got.Submitted)
}

func TestSubmitTickMarksInvalidOnCurrencyMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemStore()
	conn := testConnection(t)
	acc := store.AccountRecord{ID: "acc-1", ConnectionID: conn.ID, IBAN: "DE89370400440532013000", BIC: "DEUTDEFF", Holder: "Example GmbH"}

	rec, err := Prepare(ctx, s, clock.System{}, PrepareRequest{
		AccountID: acc.ID, CreditorName: "Vendor AG", CreditorIBAN: "DE02500105170137075030",
		Amount: "50.00", Currency: "EUR",
	})
	require.NoError(t, err)

	// The bank only books this account in CHF; an EUR instruction is a
	// business-level rejection, EBICS_PROCESSING_ERROR, not a transport
	// failure.
	tr := &fakeTransport{handler: func(_ []byte) (int, string, []byte, error) {
		return 200, "text/xml", upload200ResponseRejected(gwerrors.CodeProcessingError), nil
	}}

	submitted, invalidated, err := SubmitTick(ctx, s, tr, conn, clock.System{}, acc)
	require.NoError(t, err)
	require.Equal(t, 0, submitted)
	require.Equal(t, 1, invalidated)

	got, ok, err := s.GetPayment(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Invalid)
	require.False(t, got.Submitted)
}

func TestIngestTickReconcilesSubmittedPaymentByEndToEndID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemStore()
	conn := testConnection(t)
	acc := store.AccountRecord{ID: "acc-1", ConnectionID: conn.ID, IBAN: "DE89370400440532013000", BIC: "DEUTDEFF", Holder: "Example GmbH"}

	rec, err := Prepare(ctx, s, clock.System{}, PrepareRequest{
		AccountID: acc.ID, CreditorName: "Vendor AG", CreditorIBAN: "DE02500105170137075030",
		Amount: "75.00", Currency: "EUR",
	})
	require.NoError(t, err)
	rec.Submitted = true
	require.NoError(t, s.UpdatePayment(ctx, rec))

	camtDoc := buildCamtWithEndToEndID(rec.EndToEndID)
	key, wrappedKey, err := ebicscrypto.WrapE002Key(&conn.EBICS.EncKey.PublicKey)
	require.NoError(t, err)
	compressed := mustDeflateBytes(t, camtDoc)
	ciphertext, err := ebicscrypto.EncryptAESCBCZeroIV(compressed, key)
	require.NoError(t, err)

	tr := &fakeTransport{handler: func(_ []byte) (int, string, []byte, error) {
		return 200, "text/xml", downloadSegmentResponse("TX-DL-1", wrappedKey, ciphertext), nil
	}}

	ingested, err := IngestTick(ctx, s, tr, conn, acc, time.Now().AddDate(0, 0, -1), time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, ingested)

	got, ok, err := s.GetPayment(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, got.ReconciledTxID)

	txs, err := s.ListTransactionsByAccount(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, txs[0].ID, got.ReconciledTxID)
}

func TestIngestTickDedupesByMsgIDNotContent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemStore()
	conn := testConnection(t)
	acc := store.AccountRecord{ID: "acc-1", ConnectionID: conn.ID, IBAN: "DE89370400440532013000", BIC: "DEUTDEFF", Holder: "Example GmbH"}

	ingestDoc := func(t *testing.T, doc []byte) int {
		t.Helper()
		key, wrappedKey, err := ebicscrypto.WrapE002Key(&conn.EBICS.EncKey.PublicKey)
		require.NoError(t, err)
		compressed := mustDeflateBytes(t, doc)
		ciphertext, err := ebicscrypto.EncryptAESCBCZeroIV(compressed, key)
		require.NoError(t, err)
		tr := &fakeTransport{handler: func(_ []byte) (int, string, []byte, error) {
			return 200, "text/xml", downloadSegmentResponse("TX-DL", wrappedKey, ciphertext), nil
		}}
		ingested, err := IngestTick(ctx, s, tr, conn, acc, time.Now().AddDate(0, 0, -1), time.Now())
		require.NoError(t, err)
		return ingested
	}

	// Two distinct no-movement statements that differ only in their
	// bank-assigned MsgIds must not collide: each is a genuinely separate
	// bank message.
	ingestDoc(t, buildEmptyCamtStatement("STMT-DAY-1"))
	ingestDoc(t, buildEmptyCamtStatement("STMT-DAY-2"))

	require.Len(t, s.Snapshot().RawMessages, 2)

	// The same MsgId redelivered, even with a trivially different body (a
	// re-signed identical statement), is the same bank message and must be
	// deduplicated.
	before := len(s.Snapshot().RawMessages)
	ingestDoc(t, buildCamtWithMsgIDAndEndToEndID("STMT-DAY-2", "E2E-REDELIVERED"))
	require.Len(t, s.Snapshot().RawMessages, before, "redelivery of an existing MsgId must be deduplicated, not stored again")

	txs, err := s.ListTransactionsByAccount(ctx, acc.ID)
	require.NoError(t, err)
	require.Empty(t, txs, "the deduplicated redelivery must not produce a transaction")
}

// --- fake bank-side helpers ---

func upload200Response(transactionID string) []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?><ebicsResponse Version="H004" Revision="1">` +
		`<header><static><TransactionID>` + transactionID + `</TransactionID></static>` +
		`<mutable><TransactionPhase>initialisation</TransactionPhase><ReturnCode>000000</ReturnCode></mutable></header>` +
		`<body><ReturnCode>000000</ReturnCode></body></ebicsResponse>`)
}

func upload200ResponseRejected(businessCode string) []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?><ebicsResponse Version="H004" Revision="1">` +
		`<header><static/><mutable><TransactionPhase>initialisation</TransactionPhase><ReturnCode>000000</ReturnCode></mutable></header>` +
		`<body><ReturnCode>` + businessCode + `</ReturnCode></body></ebicsResponse>`)
}

func downloadSegmentResponse(transactionID string, wrappedKey, ciphertext []byte) []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?><ebicsResponse Version="H004" Revision="1">` +
		`<header><static><TransactionID>` + transactionID + `</TransactionID><NumSegments>1</NumSegments></static>` +
		`<mutable><ReturnCode>000000</ReturnCode></mutable></header>` +
		`<body><ReturnCode>000000</ReturnCode><DataTransfer>` +
		`<DataEncryptionInfo><TransactionKey>` + b64(wrappedKey) + `</TransactionKey></DataEncryptionInfo>` +
		`<OrderData>` + b64(ciphertext) + `</OrderData>` +
		`</DataTransfer></body></ebicsResponse>`)
}

func buildCamtWithEndToEndID(endToEndID string) []byte {
	return buildCamtWithMsgIDAndEndToEndID("STMT-MSG-1", endToEndID)
}

func buildCamtWithMsgIDAndEndToEndID(msgID, endToEndID string) []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.053.001.02"><BkToCstmrStmt>` +
		`<GrpHdr><MsgId>` + msgID + `</MsgId><CreDtTm>2026-08-06T10:00:00Z</CreDtTm></GrpHdr>` +
		`<Stmt>` +
		`<Acct><Id><IBAN>DE89370400440532013000</IBAN></Id></Acct>` +
		`<Ntry><Amt Ccy="EUR">75.00</Amt><CdtDbtInd>DBIT</CdtDbtInd><Sts>BOOK</Sts>` +
		`<NtryDtls><TxDtls><Refs><EndToEndId>` + endToEndID + `</EndToEndId></Refs>` +
		`<RltdPties><Cdtr><Nm>Vendor AG</Nm></Cdtr></RltdPties></TxDtls></NtryDtls>` +
		`</Ntry></Stmt></BkToCstmrStmt></Document>`)
}

func buildEmptyCamtStatement(msgID string) []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.053.001.02"><BkToCstmrStmt>` +
		`<GrpHdr><MsgId>` + msgID + `</MsgId><CreDtTm>2026-08-06T10:00:00Z</CreDtTm></GrpHdr>` +
		`<Stmt><Acct><Id><IBAN>DE89370400440532013000</IBAN></Id></Acct></Stmt>` +
		`</BkToCstmrStmt></Document>`)
}

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func mustDeflateBytes(t *testing.T, plaintext []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(plaintext)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}
