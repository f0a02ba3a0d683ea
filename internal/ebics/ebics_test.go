package ebics

import (
	"bytes"
	"compress/zlib"
	"context"
	"crypto/rsa"
	"encoding/base64"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexusbank/gateway/internal/connection"
	"github.com/nexusbank/gateway/internal/ebicscrypto"
	"github.com/nexusbank/gateway/internal/gwerrors"
)

// FakeTransport lets tests stand in for the bank host without a network, by
// routing each Post call to a handler closure.
type FakeTransport struct {
	Handler func(ctx context.Context, url, contentType string, body []byte) (int, string, []byte, error)
}

func (f *FakeTransport) Post(ctx context.Context, url, contentType string, body []byte) (int, string, []byte, error) {
	return f.Handler(ctx, url, contentType, body)
}

func testKeyPair(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := ebicscrypto.GenerateRSA(2048)
	require.NoError(t, err)
	return key
}

func TestSendINIAdvancesStateOnSuccess(t *testing.T) {
	t.Parallel()
	cfg := &connection.EBICSConfig{HostID: "HOST1", PartnerID: "PARTNER1", UserID: "USER1", BaseURL: "https://bank.example/ebics", SigKey: testKeyPair(t)}

	tr := &FakeTransport{Handler: func(_ context.Context, _ string, _ string, body []byte) (int, string, []byte, error) {
		require.True(t, strings.Contains(string(body), "<OrderType>INI</OrderType>"))
		return 200, "text/xml", BuildKeyManagementResponse(gwerrors.CodeOK, gwerrors.CodeOK), nil
	}}

	err := SendINI(context.Background(), tr, cfg)
	require.NoError(t, err)
	require.Equal(t, connection.KeyStateSent, cfg.INIState)
	require.Empty(t, cfg.LastError)
}

func TestSendINIRejectedRecordsLastError(t *testing.T) {
	t.Parallel()
	cfg := &connection.EBICSConfig{
		HostID: "HOST1", PartnerID: "PARTNER1", UserID: "USER1", BaseURL: "https://bank.example/ebics",
		SigKey: testKeyPair(t), INIState: connection.KeyStateNotSent,
	}

	tr := &FakeTransport{Handler: func(_ context.Context, _ string, _ string, _ []byte) (int, string, []byte, error) {
		return 200, "text/xml", BuildKeyManagementResponse(gwerrors.CodeOK, gwerrors.CodeAccountAuthorisationFailed), nil
	}}

	err := SendINI(context.Background(), tr, cfg)
	require.Error(t, err)
	require.Equal(t, connection.KeyStateNotSent, cfg.INIState, "a rejected INI must not advance key state")
	require.NotEmpty(t, cfg.LastError)

	gerr, ok := err.(*gwerrors.GatewayError)
	require.True(t, ok)
	require.True(t, gwerrors.Fatal(gerr))
}

func TestFetchHPBParsesBankKeys(t *testing.T) {
	t.Parallel()
	bankAuthKey := testKeyPair(t)
	bankEncKey := testKeyPair(t)
	cfg := &connection.EBICSConfig{HostID: "HOST1", PartnerID: "PARTNER1", UserID: "USER1", BaseURL: "https://bank.example/ebics"}

	tr := &FakeTransport{Handler: func(_ context.Context, _ string, _ string, body []byte) (int, string, []byte, error) {
		require.True(t, strings.Contains(string(body), "<OrderType>HPB</OrderType>"))
		return 200, "text/xml", BuildHPBResponse(gwerrors.CodeOK, gwerrors.CodeOK, &bankAuthKey.PublicKey, &bankEncKey.PublicKey), nil
	}}

	err := FetchHPB(context.Background(), tr, cfg)
	require.NoError(t, err)
	require.NotNil(t, cfg.BankAuthPub)
	require.NotNil(t, cfg.BankEncPub)
	require.Equal(t, bankAuthKey.PublicKey.N, cfg.BankAuthPub.N)
	require.Equal(t, bankEncKey.PublicKey.N, cfg.BankEncPub.N)
}

func TestUploadCCTRoundTripsThroughFakeBank(t *testing.T) {
	t.Parallel()
	cfg := &connection.EBICSConfig{
		HostID: "HOST1", PartnerID: "PARTNER1", UserID: "USER1", BaseURL: "https://bank.example/ebics",
		AuthKey: testKeyPair(t), SigKey: testKeyPair(t), EncKey: testKeyPair(t),
	}
	cfg.BankEncPub = &cfg.EncKey.PublicKey // bank reuses the test's own key pair as a stand-in recipient
	cfg.BankAuthPub = &cfg.AuthKey.PublicKey

	orderData := []byte(`<Document><CstmrCdtTrfInitn><GrpHdr><MsgId>MSG-1</MsgId></GrpHdr></CstmrCdtTrfInitn></Document>`)

	var gotPlaintext []byte
	callCount := 0
	tr := &FakeTransport{Handler: func(_ context.Context, _ string, _ string, body []byte) (int, string, []byte, error) {
		callCount++
		require.True(t, strings.Contains(string(body), "<TransactionPhase>initialisation</TransactionPhase>"))

		wrappedKey, plaintext := extractUploadPayload(t, body, cfg.EncKey)
		require.NotEmpty(t, wrappedKey)
		gotPlaintext = plaintext
		return 200, "text/xml", buildUploadAcceptedResponse("TX-CCT-1"), nil
	}}

	res, err := Upload(context.Background(), tr, cfg, orderData)
	require.NoError(t, err)
	require.Equal(t, "TX-CCT-1", res.OrderID)
	require.Equal(t, 1, callCount)
	require.Equal(t, orderData, gotPlaintext)
}

func TestDownloadNoDataAvailableSurfacesAsProtocolError(t *testing.T) {
	t.Parallel()
	cfg := &connection.EBICSConfig{
		HostID: "HOST1", PartnerID: "PARTNER1", UserID: "USER1", BaseURL: "https://bank.example/ebics",
		AuthKey: testKeyPair(t), EncKey: testKeyPair(t),
	}

	tr := &FakeTransport{Handler: func(_ context.Context, _ string, _ string, _ []byte) (int, string, []byte, error) {
		return 200, "text/xml", buildDownloadResponseNoData(), nil
	}}

	_, err := Download(context.Background(), tr, cfg, OrderC53, time.Time{}, time.Time{})
	require.Error(t, err)
	gerr, ok := err.(*gwerrors.GatewayError)
	require.True(t, ok)
	require.Equal(t, gwerrors.CodeNoDownloadData, gerr.BusinessCode)
}

func TestDownloadAssemblesTwoSegmentsAndDecrypts(t *testing.T) {
	t.Parallel()
	cfg := &connection.EBICSConfig{
		HostID: "HOST1", PartnerID: "PARTNER1", UserID: "USER1", BaseURL: "https://bank.example/ebics",
		AuthKey: testKeyPair(t), EncKey: testKeyPair(t),
	}

	plaintext := []byte(strings.Repeat(`<Document><BkToCstmrStmt/></Document>`, 10))
	compressed := mustDeflate(t, plaintext)
	key, wrappedKey, err := ebicscrypto.WrapE002Key(&cfg.EncKey.PublicKey)
	require.NoError(t, err)
	ciphertext, err := ebicscrypto.EncryptAESCBCZeroIV(compressed, key)
	require.NoError(t, err)

	mid := len(ciphertext) / 2
	seg1, seg2 := ciphertext[:mid], ciphertext[mid:]

	phase := 0
	tr := &FakeTransport{Handler: func(_ context.Context, _ string, _ string, body []byte) (int, string, []byte, error) {
		phase++
		switch phase {
		case 1:
			require.True(t, strings.Contains(string(body), "<TransactionPhase>initialisation</TransactionPhase>"))
			return 200, "text/xml", buildDownloadResponseSegment("TX-DL-1", 2, wrappedKey, seg1), nil
		case 2:
			require.True(t, strings.Contains(string(body), "<TransactionPhase>transfer</TransactionPhase>"))
			return 200, "text/xml", buildDownloadResponseSegment("TX-DL-1", 2, nil, seg2), nil
		default:
			return 200, "text/xml", BuildKeyManagementResponse(gwerrors.CodeOK, gwerrors.CodeOK), nil
		}
	}}

	res, err := Download(context.Background(), tr, cfg, OrderC53, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Equal(t, plaintext, res.OrderData)
	require.Equal(t, 3, phase)
}

// --- test-only helpers that play the role of the bank host ---

func extractUploadPayload(t *testing.T, reqXML []byte, ownEncPriv *rsa.PrivateKey) (wrappedKey, plaintext []byte) {
	t.Helper()
	body := string(reqXML)
	wrappedKey = extractBase64Between(t, body, "<TransactionKey>", "</TransactionKey>")
	ciphertextB64 := extractBase64Raw(t, body, "<OrderData ")
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	require.NoError(t, err)

	key, err := ebicscrypto.UnwrapE002Key(wrappedKey, ownEncPriv)
	require.NoError(t, err)
	compressed, err := ebicscrypto.DecryptAESCBCZeroIV(ciphertext, key)
	require.NoError(t, err)
	plaintext, err = inflate(compressed)
	require.NoError(t, err)
	return wrappedKey, plaintext
}

func extractBase64Between(t *testing.T, body, startTag, endTag string) []byte {
	t.Helper()
	start := strings.Index(body, startTag)
	require.GreaterOrEqual(t, start, 0, "missing %s", startTag)
	start += len(startTag)
	end := strings.Index(body[start:], endTag)
	require.GreaterOrEqual(t, end, 0, "missing closing %s", endTag)
	decoded, err := base64.StdEncoding.DecodeString(body[start : start+end])
	require.NoError(t, err)
	return decoded
}

func extractBase64Raw(t *testing.T, body, openTag string) string {
	t.Helper()
	start := strings.Index(body, openTag)
	require.GreaterOrEqual(t, start, 0, "missing %s", openTag)
	gt := strings.Index(body[start:], ">")
	require.GreaterOrEqual(t, gt, 0)
	contentStart := start + gt + 1
	end := strings.Index(body[contentStart:], "</OrderData>")
	require.GreaterOrEqual(t, end, 0)
	return body[contentStart : contentStart+end]
}

func buildUploadAcceptedResponse(transactionID string) []byte {
	return []byte(xmlDecl + `<ebicsResponse Version="H004" Revision="1">` +
		`<header><static><TransactionID>` + transactionID + `</TransactionID></static>` +
		`<mutable><TransactionPhase>initialisation</TransactionPhase><ReturnCode>000000</ReturnCode></mutable></header>` +
		`<body><ReturnCode>000000</ReturnCode></body></ebicsResponse>`)
}

func buildDownloadResponseNoData() []byte {
	return []byte(xmlDecl + `<ebicsResponse Version="H004" Revision="1">` +
		`<header><static/><mutable><ReturnCode>000000</ReturnCode></mutable></header>` +
		`<body><ReturnCode>090005</ReturnCode></body></ebicsResponse>`)
}

func buildDownloadResponseSegment(transactionID string, numSegments int, wrappedKey, segment []byte) []byte {
	var dataEncryption string
	if wrappedKey != nil {
		dataEncryption = `<DataEncryptionInfo><TransactionKey>` + base64.StdEncoding.EncodeToString(wrappedKey) + `</TransactionKey></DataEncryptionInfo>`
	}
	return []byte(xmlDecl + `<ebicsResponse Version="H004" Revision="1">` +
		`<header><static><TransactionID>` + transactionID + `</TransactionID><NumSegments>` + strconv.Itoa(numSegments) + `</NumSegments></static>` +
		`<mutable><ReturnCode>000000</ReturnCode></mutable></header>` +
		`<body><ReturnCode>000000</ReturnCode><DataTransfer>` + dataEncryption +
		`<OrderData>` + base64.StdEncoding.EncodeToString(segment) + `</OrderData>` +
		`</DataTransfer></body></ebicsResponse>`)
}

func mustDeflate(t *testing.T, plaintext []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(plaintext)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}
