package ebics

import (
	"bytes"
	"compress/zlib"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/nexusbank/gateway/internal/connection"
	"github.com/nexusbank/gateway/internal/ebicscrypto"
	"github.com/nexusbank/gateway/internal/gwerrors"
	"github.com/nexusbank/gateway/internal/logging"
	"github.com/nexusbank/gateway/internal/xmlutil"
)

// segmentSize is the approximate per-segment ciphertext size uploads are
// split at, chosen to keep individual HTTP requests well under typical
// reverse-proxy body limits.
const segmentSize = 1 << 20 // 1 MiB

// UploadResult is the outcome of one completed CCT transaction.
type UploadResult struct {
	OrderID string
}

// Upload runs the initialisation -> transfer state machine for a CCT credit
// transfer: it signs orderData with the connection's signature key (A006),
// zlib-compresses and E002-encrypts it, splits the ciphertext into segments,
// and uploads each in turn.
func Upload(ctx context.Context, tr Transport, cfg *connection.EBICSConfig, orderData []byte) (*UploadResult, error) {
	if cfg.SigKey == nil {
		return nil, gwerrors.New(gwerrors.KindState, "no signature key available to sign order data")
	}
	if cfg.BankEncPub == nil {
		return nil, gwerrors.New(gwerrors.KindState, "no bank encryption key known; complete HPB first")
	}
	if cfg.BankAuthPub == nil {
		return nil, gwerrors.New(gwerrors.KindState, "no bank authentication key known; complete HPB first")
	}

	digest := ebicscrypto.DigestOrderA006(orderData)
	orderSig, err := ebicscrypto.SignA006(digest[:], cfg.SigKey)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindCrypto, "sign order data", err)
	}

	compressed, err := deflate(orderData)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindCrypto, "compress order data", err)
	}

	key, wrappedKey, err := ebicscrypto.WrapE002Key(cfg.BankEncPub)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindCrypto, "wrap transaction key", err)
	}
	ciphertext, err := ebicscrypto.EncryptAESCBCZeroIV(compressed, key)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindCrypto, "encrypt order data", err)
	}

	segments := chunk(ciphertext, segmentSize)

	initBody, err := buildUploadInitRequest(cfg, wrappedKey, orderSig, segments[0], len(segments))
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInternal, "build upload init request", err)
	}
	logging.LogEBICSRequest(connID(cfg), string(OrderCCT), string(PhaseInitialisation), orderData)
	status, contentType, respBody, err := tr.Post(ctx, cfg.BaseURL, "text/xml", initBody)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindTransport, "upload init request failed", err)
	}
	if status != 200 || !AcceptableContentType(contentType) {
		return nil, gwerrors.New(gwerrors.KindTransport, fmt.Sprintf("upload init returned HTTP status %d", status))
	}
	sess, codes, err := parseUploadResponse(respBody)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindParse, "parse upload init response", err)
	}
	logging.LogEBICSResponse(connID(cfg), string(OrderCCT), codes.Technical, codes.Business)
	if !codes.OK() {
		return nil, gwerrors.Protocol(codes.Technical, codes.Business, "CCT order rejected by bank")
	}

	for segNum := 2; segNum <= len(segments); segNum++ {
		lastSegment := segNum == len(segments)
		segReqBody, err := buildUploadTransferRequest(cfg, sess.TransactionID, segNum, lastSegment, segments[segNum-1])
		if err != nil {
			return nil, gwerrors.Wrap(gwerrors.KindInternal, "build upload transfer request", err)
		}
		status, contentType, segRespBody, err := tr.Post(ctx, cfg.BaseURL, "text/xml", segReqBody)
		if err != nil {
			return nil, gwerrors.Wrap(gwerrors.KindTransport, "upload transfer request failed", err)
		}
		if status != 200 || !AcceptableContentType(contentType) {
			return nil, gwerrors.New(gwerrors.KindTransport, fmt.Sprintf("upload transfer returned HTTP status %d", status))
		}
		_, segCodes, err := parseUploadResponse(segRespBody)
		if err != nil {
			return nil, gwerrors.Wrap(gwerrors.KindParse, "parse upload transfer response", err)
		}
		if !segCodes.OK() {
			return nil, gwerrors.Protocol(segCodes.Technical, segCodes.Business, "upload segment rejected by bank")
		}
	}

	return &UploadResult{OrderID: sess.TransactionID}, nil
}

func deflate(plaintext []byte) ([]byte, error) {
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

func chunk(data []byte, size int) [][]byte {
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

func buildUploadInitRequest(cfg *connection.EBICSConfig, wrappedKey, orderSig, firstSegment []byte, numSegments int) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	digest := ebicscrypto.EBICSKeyFingerprint(cfg.BankAuthPub)

	static := xmlutil.Elem("static", nil, "",
		xmlutil.Elem("HostID", nil, cfg.HostID),
		xmlutil.Elem("Nonce", nil, base64.StdEncoding.EncodeToString(nonce)),
		xmlutil.Elem("Timestamp", nil, time.Now().UTC().Format(time.RFC3339)),
		xmlutil.Elem("PartnerID", nil, cfg.PartnerID),
		xmlutil.Elem("UserID", nil, cfg.UserID),
		xmlutil.Elem("Product", map[string]string{"Language": "en"}, "nexusbank-gateway"),
		xmlutil.Elem("OrderDetails", nil, "",
			xmlutil.Elem("OrderType", nil, string(OrderCCT)),
			xmlutil.Elem("OrderAttribute", nil, "OZHNN"),
		),
		xmlutil.Elem("BankPubKeyDigests", nil, "",
			xmlutil.Elem("Authentication", map[string]string{"Version": "X002"}, base64.StdEncoding.EncodeToString(digest[:])),
		),
		xmlutil.Elem("SecurityMedium", nil, "0000"),
		xmlutil.Elem("NumSegments", nil, fmt.Sprintf("%d", numSegments)),
	)
	mutable := xmlutil.Elem("mutable", nil, "",
		xmlutil.Elem("TransactionPhase", nil, string(PhaseInitialisation)),
	)
	body := xmlutil.Elem("body", nil, "",
		xmlutil.Elem("DataTransfer", nil, "",
			xmlutil.Elem("DataEncryptionInfo", nil, "",
				xmlutil.Elem("TransactionKey", nil, base64.StdEncoding.EncodeToString(wrappedKey)),
			),
			xmlutil.Elem("SignatureData", nil, base64.StdEncoding.EncodeToString(orderSig)),
			xmlutil.Elem("OrderData", map[string]string{"numSegments": fmt.Sprintf("%d", numSegments), "segmentNumber": "1"}, base64.StdEncoding.EncodeToString(firstSegment)),
		),
	)
	return buildSignedRequest(cfg, static, mutable, body)
}

func buildUploadTransferRequest(cfg *connection.EBICSConfig, transactionID string, segmentNumber int, lastSegment bool, segmentData []byte) ([]byte, error) {
	static := xmlutil.Elem("static", nil, "",
		xmlutil.Elem("HostID", nil, cfg.HostID),
		xmlutil.Elem("TransactionID", nil, transactionID),
	)
	mutable := xmlutil.Elem("mutable", nil, "",
		xmlutil.Elem("TransactionPhase", nil, string(PhaseTransfer)),
		xmlutil.Elem("SegmentNumber", map[string]string{"lastSegment": fmt.Sprintf("%t", lastSegment)}, fmt.Sprintf("%d", segmentNumber)),
	)
	body := xmlutil.Elem("body", nil, "",
		xmlutil.Elem("DataTransfer", nil, "",
			xmlutil.Elem("OrderData", nil, base64.StdEncoding.EncodeToString(segmentData)),
		),
	)
	return buildSignedRequest(cfg, static, mutable, body)
}

func parseUploadResponse(respBody []byte) (Session, ReturnCodes, error) {
	root, err := xmlutil.Parse(respBody)
	if err != nil {
		return Session{}, ReturnCodes{}, fmt.Errorf("parse response: %w", err)
	}
	header, err := xmlutil.RequireUniqueChild(root, "header")
	if err != nil {
		return Session{}, ReturnCodes{}, err
	}
	staticNode, err := xmlutil.RequireUniqueChild(header, "static")
	if err != nil {
		return Session{}, ReturnCodes{}, err
	}
	mutable, err := xmlutil.RequireUniqueChild(header, "mutable")
	if err != nil {
		return Session{}, ReturnCodes{}, err
	}
	techNode, err := xmlutil.RequireUniqueChild(mutable, "ReturnCode")
	if err != nil {
		return Session{}, ReturnCodes{}, err
	}
	bodyNode, err := xmlutil.RequireUniqueChild(root, "body")
	if err != nil {
		return Session{}, ReturnCodes{}, err
	}
	bizNode, err := xmlutil.RequireUniqueChild(bodyNode, "ReturnCode")
	if err != nil {
		return Session{}, ReturnCodes{}, err
	}
	codes := ReturnCodes{Technical: techNode.TrimmedText(), Business: bizNode.TrimmedText()}

	sess := Session{Phase: PhaseInitialisation}
	if txIDNode, err := xmlutil.MaybeUniqueChild(staticNode, "TransactionID"); err == nil && txIDNode != nil {
		sess.TransactionID = txIDNode.TrimmedText()
	}
	return sess, codes, nil
}
