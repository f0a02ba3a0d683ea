package demobank

import (
	"bytes"
	"compress/zlib"
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nexusbank/gateway/internal/ebics"
	"github.com/nexusbank/gateway/internal/ebicscrypto"
	"github.com/nexusbank/gateway/internal/gwerrors"
	"github.com/nexusbank/gateway/internal/iso20022"
	"github.com/nexusbank/gateway/internal/xmlutil"
)

// Handle answers one inbound EBICS HTTP POST against the bank's state. It
// dispatches first by root element (HEV probe, unsecured key exchange,
// signed business transaction), then by order type and transaction phase,
// reading exactly the wire shapes internal/ebics's client side writes.
func (b *Bank) Handle(ctx context.Context, body []byte) (status int, contentType string, respBody []byte) {
	root, err := xmlutil.Parse(body)
	if err != nil {
		return 200, "text/xml", ebics.BuildKeyManagementResponse(gwerrors.CodeOK, gwerrors.CodeProcessingError)
	}

	switch root.Local {
	case "ebicsHEVRequest":
		return 200, "text/xml", buildHEVResponse()
	case "ebicsUnsecuredRequest":
		return 200, "text/xml", b.handleUnsecured(body)
	case "ebicsRequest":
		return 200, "text/xml", b.handleSigned(root)
	default:
		return 200, "text/xml", ebics.BuildKeyManagementResponse(gwerrors.CodeOK, gwerrors.CodeProcessingError)
	}
}

func buildHEVResponse() []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<ebicsHEVResponse xmlns="http://www.ebics.org/H000">` +
		`<SystemReturnCode><ReturnCode>000000</ReturnCode><ReportText>[EBICS_OK]</ReportText></SystemReturnCode>` +
		`<VersionNumber ProtocolVersion="H004">02.50</VersionNumber>` +
		`</ebicsHEVResponse>`)
}

// --- unsecured key-exchange path (INI/HIA/HPB) ---

func (b *Bank) handleUnsecured(body []byte) []byte {
	req, err := ebics.ParseUnsecuredRequest(body)
	if err != nil {
		return ebics.BuildKeyManagementResponse(gwerrors.CodeOK, gwerrors.CodeProcessingError)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch req.OrderType {
	case ebics.OrderINI:
		return b.handleINI(req)
	case ebics.OrderHIA:
		return b.handleHIA(req)
	case ebics.OrderHPB:
		return b.handleHPB(req)
	default:
		return ebics.BuildKeyManagementResponse(gwerrors.CodeOK, gwerrors.CodeProcessingError)
	}
}

func (b *Bank) handleINI(req ebics.UnsecuredRequest) []byte {
	rsaInfo, err := xmlutil.Parse(req.OrderData)
	if err != nil {
		return ebics.BuildKeyManagementResponse(gwerrors.CodeOK, gwerrors.CodeProcessingError)
	}
	sigPub, err := ebics.ParseRSAPubKeyInfo(rsaInfo)
	if err != nil {
		return ebics.BuildKeyManagementResponse(gwerrors.CodeOK, gwerrors.CodeProcessingError)
	}
	sub := b.getOrCreateSubscriber(req.PartnerID, req.UserID)
	sub.SigPub = sigPub
	return ebics.BuildKeyManagementResponse(gwerrors.CodeOK, gwerrors.CodeOK)
}

func (b *Bank) handleHIA(req ebics.UnsecuredRequest) []byte {
	root, err := xmlutil.Parse(req.OrderData)
	if err != nil {
		return ebics.BuildKeyManagementResponse(gwerrors.CodeOK, gwerrors.CodeProcessingError)
	}
	if err := xmlutil.RequireRoot(root, "HIARequestOrderData"); err != nil {
		return ebics.BuildKeyManagementResponse(gwerrors.CodeOK, gwerrors.CodeProcessingError)
	}

	var authPub, encPub *rsa.PublicKey
	for _, rsaInfo := range root.Children {
		if rsaInfo.Local != "RSAPubKeyInfo" {
			continue
		}
		pub, err := ebics.ParseRSAPubKeyInfo(rsaInfo)
		if err != nil {
			return ebics.BuildKeyManagementResponse(gwerrors.CodeOK, gwerrors.CodeProcessingError)
		}
		if xmlutil.FindFirst(rsaInfo, "AuthenticationVersion") != nil {
			authPub = pub
		} else {
			encPub = pub
		}
	}
	if authPub == nil || encPub == nil {
		return ebics.BuildKeyManagementResponse(gwerrors.CodeOK, gwerrors.CodeProcessingError)
	}

	sub := b.getOrCreateSubscriber(req.PartnerID, req.UserID)
	sub.AuthPub = authPub
	sub.EncPub = encPub
	return ebics.BuildKeyManagementResponse(gwerrors.CodeOK, gwerrors.CodeOK)
}

func (b *Bank) handleHPB(req ebics.UnsecuredRequest) []byte {
	sub := b.subscriber(req.PartnerID, req.UserID)
	if !sub.ready() {
		return ebics.BuildKeyManagementResponse(gwerrors.CodeOK, gwerrors.CodeAccountAuthorisationFailed)
	}
	return ebics.BuildHPBResponse(gwerrors.CodeOK, gwerrors.CodeOK, &b.AuthKey.PublicKey, &b.EncKey.PublicKey)
}

// --- signed business transaction path (CCT/C52/C53/HTD) ---

// signedRequest is everything Handle needs out of one parsed ebicsRequest,
// whichever phase it carries. PartnerID/UserID/OrderType/NumSegments are
// only populated at the initialisation phase, matching what
// buildDownloadInitRequest/buildUploadInitRequest actually put on the wire.
type signedRequest struct {
	hostID        string
	partnerID     string
	userID        string
	orderType     ebics.OrderType
	transactionID string
	phase         ebics.Phase
	numSegments   int
	segmentNumber int
	lastSegment   bool
	wrappedKey    []byte
	orderSig      []byte
	orderDataSeg  []byte
}

func parseSignedRequest(root *xmlutil.Node) (signedRequest, error) {
	var out signedRequest

	header, err := xmlutil.RequireUniqueChild(root, "header")
	if err != nil {
		return out, err
	}
	static, err := xmlutil.RequireUniqueChild(header, "static")
	if err != nil {
		return out, err
	}
	mutable, err := xmlutil.RequireUniqueChild(header, "mutable")
	if err != nil {
		return out, err
	}

	hostNode, err := xmlutil.RequireUniqueChild(static, "HostID")
	if err != nil {
		return out, err
	}
	out.hostID = hostNode.TrimmedText()

	if n, _ := xmlutil.MaybeUniqueChild(static, "PartnerID"); n != nil {
		out.partnerID = n.TrimmedText()
	}
	if n, _ := xmlutil.MaybeUniqueChild(static, "UserID"); n != nil {
		out.userID = n.TrimmedText()
	}
	if n, _ := xmlutil.MaybeUniqueChild(static, "TransactionID"); n != nil {
		out.transactionID = n.TrimmedText()
	}
	if orderDetails, _ := xmlutil.MaybeUniqueChild(static, "OrderDetails"); orderDetails != nil {
		if n, _ := xmlutil.MaybeUniqueChild(orderDetails, "OrderType"); n != nil {
			out.orderType = ebics.OrderType(n.TrimmedText())
		}
	}
	if n, _ := xmlutil.MaybeUniqueChild(static, "NumSegments"); n != nil {
		fmt.Sscanf(n.TrimmedText(), "%d", &out.numSegments)
	}

	phaseNode, err := xmlutil.RequireUniqueChild(mutable, "TransactionPhase")
	if err != nil {
		return out, err
	}
	out.phase = ebics.Phase(phaseNode.TrimmedText())

	if n, _ := xmlutil.MaybeUniqueChild(mutable, "SegmentNumber"); n != nil {
		fmt.Sscanf(n.TrimmedText(), "%d", &out.segmentNumber)
		out.lastSegment = n.Attr("lastSegment") == "true"
	}

	bodyNode, err := xmlutil.RequireUniqueChild(root, "body")
	if err != nil {
		return out, err
	}
	if dataTransfer, _ := xmlutil.MaybeUniqueChild(bodyNode, "DataTransfer"); dataTransfer != nil {
		if encInfo, _ := xmlutil.MaybeUniqueChild(dataTransfer, "DataEncryptionInfo"); encInfo != nil {
			if n, _ := xmlutil.MaybeUniqueChild(encInfo, "TransactionKey"); n != nil {
				out.wrappedKey, _ = base64.StdEncoding.DecodeString(n.TrimmedText())
			}
		}
		if n, _ := xmlutil.MaybeUniqueChild(dataTransfer, "SignatureData"); n != nil {
			out.orderSig, _ = base64.StdEncoding.DecodeString(n.TrimmedText())
		}
		if n, _ := xmlutil.MaybeUniqueChild(dataTransfer, "OrderData"); n != nil {
			out.orderDataSeg, _ = base64.StdEncoding.DecodeString(n.TrimmedText())
		}
	}
	return out, nil
}

func (b *Bank) handleSigned(root *xmlutil.Node) []byte {
	req, err := parseSignedRequest(root)
	if err != nil {
		return buildErrorResponse(gwerrors.CodeProcessingError)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var sub *Subscriber
	switch req.phase {
	case ebics.PhaseInitialisation:
		sub = b.subscriber(req.partnerID, req.userID)
	default:
		sub = b.subscriberForTransaction(req.transactionID)
		if sub == nil {
			return buildErrorResponse(gwerrors.CodeProcessingError)
		}
	}
	if !sub.ready() {
		return buildErrorResponse(gwerrors.CodeAccountAuthorisationFailed)
	}
	ok, err := xmlutil.VerifyAuthSignature(root, sub.AuthPub)
	if err != nil || !ok {
		return buildErrorResponse(gwerrors.CodeAccountAuthorisationFailed)
	}

	switch req.phase {
	case ebics.PhaseInitialisation:
		return b.handleInit(req, sub)
	case ebics.PhaseTransfer:
		return b.handleTransfer(req)
	case ebics.PhaseReceipt:
		return b.handleReceipt(req)
	default:
		return buildErrorResponse(gwerrors.CodeProcessingError)
	}
}

// subscriberForTransaction resolves the subscriber associated with an
// in-flight transfer or receipt request, which carries no PartnerID/UserID
// of its own.
func (b *Bank) subscriberForTransaction(transactionID string) *Subscriber {
	if up, ok := b.uploads[transactionID]; ok {
		return b.subscriber(up.partnerID, up.userID)
	}
	if dl, ok := b.downloads[transactionID]; ok {
		return b.subscriber(dl.partnerID, dl.userID)
	}
	return nil
}

func (b *Bank) handleInit(req signedRequest, sub *Subscriber) []byte {
	switch req.orderType {
	case ebics.OrderCCT:
		return b.handleUploadInit(req)
	case ebics.OrderC52, ebics.OrderC53:
		return b.handleStatementDownloadInit(req, sub)
	case ebics.OrderHTD:
		return b.handleHTDDownloadInit(req, sub)
	default:
		return buildErrorResponse(gwerrors.CodeProcessingError)
	}
}

func (b *Bank) handleUploadInit(req signedRequest) []byte {
	txID := uuid.NewString()
	up := &inFlightUpload{
		partnerID:   req.partnerID,
		userID:      req.userID,
		wrappedKey:  req.wrappedKey,
		orderSig:    req.orderSig,
		segments:    [][]byte{req.orderDataSeg},
		numSegments: req.numSegments,
	}
	if req.numSegments <= 1 {
		if err := b.finalizeUpload(up); err != nil {
			return buildErrorResponse(finalizeUploadBusinessCode(err))
		}
		return buildUploadResponse(txID)
	}
	b.uploads[txID] = up
	return buildUploadResponse(txID)
}

func (b *Bank) handleTransfer(req signedRequest) []byte {
	if up, ok := b.uploads[req.transactionID]; ok {
		up.segments = append(up.segments, req.orderDataSeg)
		if req.lastSegment {
			delete(b.uploads, req.transactionID)
			if err := b.finalizeUpload(up); err != nil {
				return buildErrorResponse(finalizeUploadBusinessCode(err))
			}
		}
		return buildUploadResponse(req.transactionID)
	}
	if dl, ok := b.downloads[req.transactionID]; ok {
		idx := req.segmentNumber - 1
		if idx < 0 || idx >= len(dl.segments) {
			return buildErrorResponse(gwerrors.CodeProcessingError)
		}
		return buildDownloadSegmentResponse(req.transactionID, len(dl.segments), nil, dl.segments[idx])
	}
	return buildErrorResponse(gwerrors.CodeProcessingError)
}

func (b *Bank) handleReceipt(req signedRequest) []byte {
	if dl, ok := b.downloads[req.transactionID]; ok {
		delete(b.downloads, req.transactionID)
		if account, ok := b.accounts[dl.accountIBAN]; ok {
			account.clearDelivered(dl.delivered)
		}
	}
	return buildReceiptResponse()
}

// finalizeUpload decrypts, decompresses, verifies, and books a completed CCT
// upload's order data. Called either immediately (single-segment uploads
// never see a transfer-phase request) or once the last transfer segment
// arrives.
func (b *Bank) finalizeUpload(up *inFlightUpload) error {
	sub := b.subscriber(up.partnerID, up.userID)
	if !sub.ready() {
		return gwerrors.New(gwerrors.KindState, "subscriber not ready")
	}

	var ciphertext []byte
	for _, seg := range up.segments {
		ciphertext = append(ciphertext, seg...)
	}
	key, err := ebicscrypto.UnwrapE002Key(up.wrappedKey, b.EncKey)
	if err != nil {
		return fmt.Errorf("unwrap transaction key: %w", err)
	}
	compressed, err := ebicscrypto.DecryptAESCBCZeroIV(ciphertext, key)
	if err != nil {
		return fmt.Errorf("decrypt order data: %w", err)
	}
	orderData, err := inflateOrderData(compressed)
	if err != nil {
		return fmt.Errorf("decompress order data: %w", err)
	}

	digest := ebicscrypto.DigestOrderA006(orderData)
	if !ebicscrypto.VerifyA006(up.orderSig, digest[:], sub.SigPub) {
		return fmt.Errorf("a006 signature verification failed")
	}

	paymentReq, err := iso20022.ParsePain001(orderData)
	if err != nil {
		return fmt.Errorf("parse pain.001: %w", err)
	}
	account := b.accountForPartner(up.partnerID)
	if account == nil || paymentReq.DebtorIBAN != account.IBAN {
		return fmt.Errorf("%w: debtor account %q not recognized for partner %q", errDebtorNotAuthorized, paymentReq.DebtorIBAN, up.partnerID)
	}
	if account.Currency != "" && paymentReq.Currency != account.Currency {
		return fmt.Errorf("account %q only accepts %s, got %s", account.IBAN, account.Currency, paymentReq.Currency)
	}
	amountCents, err := parseDecimalCents(paymentReq.Amount)
	if err != nil {
		return fmt.Errorf("parse amount: %w", err)
	}

	tx := iso20022.Transaction{
		BookingAccountIBAN: account.IBAN,
		CounterpartIBAN:    paymentReq.CreditorIBAN,
		CounterpartBIC:     paymentReq.CreditorBIC,
		CounterpartName:    paymentReq.CreditorName,
		Amount:             paymentReq.Amount,
		Currency:           paymentReq.Currency,
		Direction:          iso20022.DirectionDebit,
		Status:             iso20022.StatusBooked,
		BookingDateUnixMs:  time.Now().UTC().UnixMilli(),
		ValueDateUnixMs:    time.Now().UTC().UnixMilli(),
		UnstructuredRemit:  paymentReq.RemittanceSubject,
		EndToEndID:         paymentReq.EndToEndID,
		BankEntryReference: uuid.NewString(),
	}
	account.postDebit(amountCents, tx)
	return nil
}

// errDebtorNotAuthorized is finalizeUpload's sentinel for a debtor IBAN the
// bank doesn't recognize for the uploading partner, the one rejection
// reason that maps to EBICS_ACCOUNT_AUTHORISATION_FAILED rather than the
// generic EBICS_PROCESSING_ERROR every other finalizeUpload failure gets.
var errDebtorNotAuthorized = errors.New("debtor account not authorized")

func finalizeUploadBusinessCode(err error) string {
	if errors.Is(err, errDebtorNotAuthorized) {
		return gwerrors.CodeAccountAuthorisationFailed
	}
	return gwerrors.CodeProcessingError
}

func (b *Bank) handleStatementDownloadInit(req signedRequest, sub *Subscriber) []byte {
	account := b.accountForPartner(req.partnerID)
	if account == nil {
		return buildErrorResponse(gwerrors.CodeAccountAuthorisationFailed)
	}
	if len(account.pending) == 0 {
		return buildErrorResponse(gwerrors.CodeNoDownloadData)
	}

	delivered := append([]iso20022.Transaction{}, account.pending...)
	openingCents := account.balanceCents + sumAmountCents(delivered)
	orderXML, err := iso20022.EmitCamt053(account.IBAN, uuid.NewString(), time.Now().UTC().Format(time.RFC3339),
		formatCents(openingCents), formatCents(account.balanceCents), delivered)
	if err != nil {
		return buildErrorResponse(gwerrors.CodeProcessingError)
	}
	return b.startDownload(req, sub, account, delivered, orderXML)
}

func (b *Bank) handleHTDDownloadInit(req signedRequest, sub *Subscriber) []byte {
	account := b.accountForPartner(req.partnerID)
	if account == nil {
		return buildErrorResponse(gwerrors.CodeAccountAuthorisationFailed)
	}
	orderXML := iso20022.EmitHTD([]iso20022.AccountInfo{{IBAN: account.IBAN, BIC: account.BIC, Name: account.Holder}})
	return b.startDownload(req, sub, account, nil, orderXML)
}

// startDownload compresses, E002-encrypts, and segments orderXML, stashes
// the in-flight state keyed by a fresh TransactionID, and answers the
// initialisation request with the first segment.
func (b *Bank) startDownload(req signedRequest, sub *Subscriber, account *Account, delivered []iso20022.Transaction, orderXML []byte) []byte {
	compressed, err := deflateOrderData(orderXML)
	if err != nil {
		return buildErrorResponse(gwerrors.CodeProcessingError)
	}
	key, wrappedKey, err := ebicscrypto.WrapE002Key(sub.EncPub)
	if err != nil {
		return buildErrorResponse(gwerrors.CodeProcessingError)
	}
	ciphertext, err := ebicscrypto.EncryptAESCBCZeroIV(compressed, key)
	if err != nil {
		return buildErrorResponse(gwerrors.CodeProcessingError)
	}

	segments := chunkBytes(ciphertext, b.SegmentSize)
	txID := uuid.NewString()
	b.downloads[txID] = &inFlightDownload{
		partnerID:   req.partnerID,
		userID:      req.userID,
		accountIBAN: account.IBAN,
		segments:    segments,
		delivered:   delivered,
	}
	return buildDownloadSegmentResponse(txID, len(segments), wrappedKey, segments[0])
}

func sumAmountCents(txs []iso20022.Transaction) int64 {
	var total int64
	for _, tx := range txs {
		if cents, err := parseDecimalCents(tx.Amount); err == nil {
			total += cents
		}
	}
	return total
}

func deflateOrderData(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(plaintext); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflateOrderData(compressed []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func chunkBytes(data []byte, size int) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}
	var out [][]byte
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}

// --- response builders; the server-side mirror of ebics_test.go's
// bank-simulating test helpers ---

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>`

func buildUploadResponse(transactionID string) []byte {
	return []byte(xmlHeader + `<ebicsResponse Version="H004" Revision="1">` +
		`<header><static><TransactionID>` + transactionID + `</TransactionID></static>` +
		`<mutable><TransactionPhase>initialisation</TransactionPhase><ReturnCode>000000</ReturnCode></mutable></header>` +
		`<body><ReturnCode>000000</ReturnCode></body></ebicsResponse>`)
}

func buildDownloadSegmentResponse(transactionID string, numSegments int, wrappedKey, segment []byte) []byte {
	var dataEncryption string
	if wrappedKey != nil {
		dataEncryption = `<DataEncryptionInfo><TransactionKey>` + base64.StdEncoding.EncodeToString(wrappedKey) + `</TransactionKey></DataEncryptionInfo>`
	}
	return []byte(xmlHeader + `<ebicsResponse Version="H004" Revision="1">` +
		`<header><static><TransactionID>` + transactionID + `</TransactionID><NumSegments>` + strconv.Itoa(numSegments) + `</NumSegments></static>` +
		`<mutable><ReturnCode>000000</ReturnCode></mutable></header>` +
		`<body><ReturnCode>000000</ReturnCode><DataTransfer>` + dataEncryption +
		`<OrderData>` + base64.StdEncoding.EncodeToString(segment) + `</OrderData>` +
		`</DataTransfer></body></ebicsResponse>`)
}

func buildReceiptResponse() []byte {
	return []byte(xmlHeader + `<ebicsResponse Version="H004" Revision="1">` +
		`<header><static/><mutable><ReturnCode>000000</ReturnCode></mutable></header>` +
		`<body><ReturnCode>000000</ReturnCode></body></ebicsResponse>`)
}

func buildErrorResponse(businessCode string) []byte {
	return []byte(xmlHeader + `<ebicsResponse Version="H004" Revision="1">` +
		`<header><static/><mutable><ReturnCode>000000</ReturnCode></mutable></header>` +
		`<body><ReturnCode>` + businessCode + `</ReturnCode></body></ebicsResponse>`)
}
