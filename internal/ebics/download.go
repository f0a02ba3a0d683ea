package ebics

import (
	"bytes"
	"compress/zlib"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/nexusbank/gateway/internal/connection"
	"github.com/nexusbank/gateway/internal/ebicscrypto"
	"github.com/nexusbank/gateway/internal/gwerrors"
	"github.com/nexusbank/gateway/internal/logging"
	"github.com/nexusbank/gateway/internal/xmlutil"
)

// DownloadResult is the outcome of one completed C52/C53/HTD transaction.
type DownloadResult struct {
	OrderData []byte // decrypted, decompressed order data XML
}

// Download runs the full initialisation -> transfer -> receipt state
// machine for a download order type (C52, C53, HTD). It signs each request
// with the connection's authentication key, assembles every segment
// returned by the bank, unwraps and decrypts the transaction key, zlib
// inflates the result, and acknowledges receipt.
//
// EBICS_NO_DOWNLOAD_DATA_AVAILABLE is returned as a plain
// *gwerrors.GatewayError of KindProtocol with BusinessCode
// gwerrors.CodeNoDownloadData, which callers (internal/payment's ingestion
// loop) treat as "nothing to do this tick", not a failure.
func Download(ctx context.Context, tr Transport, cfg *connection.EBICSConfig, orderType OrderType, from, to time.Time) (*DownloadResult, error) {
	reqBody, err := buildDownloadInitRequest(cfg, orderType, from, to)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInternal, "build download init request", err)
	}
	logging.LogEBICSRequest(connID(cfg), string(orderType), string(PhaseInitialisation), reqBody)

	status, contentType, respBody, err := tr.Post(ctx, cfg.BaseURL, "text/xml", reqBody)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindTransport, "download init request failed", err)
	}
	if status != 200 || !AcceptableContentType(contentType) {
		return nil, gwerrors.New(gwerrors.KindTransport, fmt.Sprintf("download init returned HTTP status %d", status))
	}

	sess, codes, wrappedKey, firstSegment, err := parseDownloadResponse(respBody)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindParse, "parse download init response", err)
	}
	logging.LogEBICSResponse(connID(cfg), string(orderType), codes.Technical, codes.Business)
	if !codes.OK() {
		if codes.Business == gwerrors.CodeNoDownloadData {
			return nil, gwerrors.Protocol(codes.Technical, codes.Business, "no download data available")
		}
		return nil, gwerrors.Protocol(codes.Technical, codes.Business, "download order rejected by bank")
	}

	segments := [][]byte{firstSegment}
	for segNum := 2; segNum <= sess.NumSegments; segNum++ {
		segReqBody, err := buildDownloadTransferRequest(cfg, sess.TransactionID, segNum)
		if err != nil {
			return nil, gwerrors.Wrap(gwerrors.KindInternal, "build download transfer request", err)
		}
		status, contentType, segRespBody, err := tr.Post(ctx, cfg.BaseURL, "text/xml", segReqBody)
		if err != nil {
			return nil, gwerrors.Wrap(gwerrors.KindTransport, "download transfer request failed", err)
		}
		if status != 200 || !AcceptableContentType(contentType) {
			return nil, gwerrors.New(gwerrors.KindTransport, fmt.Sprintf("download transfer returned HTTP status %d", status))
		}
		_, segCodes, _, segData, err := parseDownloadResponse(segRespBody)
		if err != nil {
			return nil, gwerrors.Wrap(gwerrors.KindParse, "parse download transfer response", err)
		}
		if !segCodes.OK() {
			return nil, gwerrors.Protocol(segCodes.Technical, segCodes.Business, "download segment rejected by bank")
		}
		segments = append(segments, segData)
	}

	var combined bytes.Buffer
	for _, seg := range segments {
		combined.Write(seg)
	}

	key, err := ebicscrypto.UnwrapE002Key(wrappedKey, cfg.EncKey)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindCrypto, "unwrap transaction key", err)
	}
	plainCompressed, err := ebicscrypto.DecryptAESCBCZeroIV(combined.Bytes(), key)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindCrypto, "decrypt order data", err)
	}
	orderData, err := inflate(plainCompressed)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindCrypto, "decompress order data", err)
	}

	receiptBody, err := buildReceiptRequest(cfg, sess.TransactionID)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInternal, "build receipt request", err)
	}
	if _, _, _, err := tr.Post(ctx, cfg.BaseURL, "text/xml", receiptBody); err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindTransport, "receipt request failed", err)
	}

	return &DownloadResult{OrderData: orderData}, nil
}

func inflate(compressed []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("zlib reader: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func buildDownloadInitRequest(cfg *connection.EBICSConfig, orderType OrderType, from, to time.Time) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	static := xmlutil.Elem("static", nil, "",
		xmlutil.Elem("HostID", nil, cfg.HostID),
		xmlutil.Elem("Nonce", nil, base64.StdEncoding.EncodeToString(nonce)),
		xmlutil.Elem("Timestamp", nil, time.Now().UTC().Format(time.RFC3339)),
		xmlutil.Elem("PartnerID", nil, cfg.PartnerID),
		xmlutil.Elem("UserID", nil, cfg.UserID),
		xmlutil.Elem("Product", map[string]string{"Language": "en"}, "nexusbank-gateway"),
		xmlutil.Elem("OrderDetails", nil, "",
			xmlutil.Elem("OrderType", nil, string(orderType)),
			xmlutil.Elem("OrderAttribute", nil, "DZHNN"),
			xmlutil.Elem("DateRange", nil, "",
				xmlutil.Elem("Start", nil, from.UTC().Format("2006-01-02")),
				xmlutil.Elem("End", nil, to.UTC().Format("2006-01-02")),
			),
		),
		xmlutil.Elem("SecurityMedium", nil, "0000"),
	)
	mutable := xmlutil.Elem("mutable", nil, "",
		xmlutil.Elem("TransactionPhase", nil, string(PhaseInitialisation)),
	)

	return buildSignedRequest(cfg, static, mutable, nil)
}

func buildDownloadTransferRequest(cfg *connection.EBICSConfig, transactionID string, segmentNumber int) ([]byte, error) {
	static := xmlutil.Elem("static", nil, "",
		xmlutil.Elem("HostID", nil, cfg.HostID),
		xmlutil.Elem("TransactionID", nil, transactionID),
	)
	mutable := xmlutil.Elem("mutable", nil, "",
		xmlutil.Elem("TransactionPhase", nil, string(PhaseTransfer)),
		xmlutil.Elem("SegmentNumber", map[string]string{"lastSegment": "false"}, fmt.Sprintf("%d", segmentNumber)),
	)
	return buildSignedRequest(cfg, static, mutable, nil)
}

func buildReceiptRequest(cfg *connection.EBICSConfig, transactionID string) ([]byte, error) {
	static := xmlutil.Elem("static", nil, "",
		xmlutil.Elem("HostID", nil, cfg.HostID),
		xmlutil.Elem("TransactionID", nil, transactionID),
	)
	mutable := xmlutil.Elem("mutable", nil, "",
		xmlutil.Elem("TransactionPhase", nil, string(PhaseReceipt)),
		xmlutil.Elem("ReceiptCode", nil, "0"),
	)
	return buildSignedRequest(cfg, static, mutable, nil)
}

// buildSignedRequest assembles an ebicsRequest document from static/mutable
// header content and an optional pre-built body, signs the static block
// with the connection's authentication key (X002), and serializes the
// result via exclusive canonicalization.
func buildSignedRequest(cfg *connection.EBICSConfig, static, mutable, body *Node) ([]byte, error) {
	if cfg.AuthKey == nil {
		return nil, gwerrors.New(gwerrors.KindState, "no authentication key available to sign request")
	}

	signedInfo := xmlutil.Elem("SignedInfo", map[string]string{"authenticate": "true"}, "", static)
	authSig := xmlutil.Elem("AuthSignature", nil, "", signedInfo, xmlutil.Elem("SignatureValue", nil, ""))

	if body == nil {
		body = xmlutil.Elem("body", nil, "")
	}
	header := xmlutil.Elem("header", map[string]string{"authenticate": "true"}, "", static, mutable)
	root := xmlutil.Elem("ebicsRequest", map[string]string{"Version": "H004", "Revision": "1"}, "", header, authSig, body)

	_, sig, err := xmlutil.SignAuthSignature(root, cfg.AuthKey)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	sigValueNode := xmlutil.FindFirst(authSig, "SignatureValue")
	sigValueNode.Text = base64.StdEncoding.EncodeToString(sig)

	return append([]byte(xmlDecl), xmlutil.Canonicalize(root)...), nil
}

// Node is a local alias kept for readability in this file's builder calls.
type Node = xmlutil.Node

func parseDownloadResponse(respBody []byte) (Session, ReturnCodes, []byte, []byte, error) {
	root, err := xmlutil.Parse(respBody)
	if err != nil {
		return Session{}, ReturnCodes{}, nil, nil, fmt.Errorf("parse response: %w", err)
	}
	header, err := xmlutil.RequireUniqueChild(root, "header")
	if err != nil {
		return Session{}, ReturnCodes{}, nil, nil, err
	}
	staticNode, err := xmlutil.RequireUniqueChild(header, "static")
	if err != nil {
		return Session{}, ReturnCodes{}, nil, nil, err
	}
	mutable, err := xmlutil.RequireUniqueChild(header, "mutable")
	if err != nil {
		return Session{}, ReturnCodes{}, nil, nil, err
	}
	techNode, err := xmlutil.RequireUniqueChild(mutable, "ReturnCode")
	if err != nil {
		return Session{}, ReturnCodes{}, nil, nil, err
	}

	bodyNode, err := xmlutil.RequireUniqueChild(root, "body")
	if err != nil {
		return Session{}, ReturnCodes{}, nil, nil, err
	}
	bizNode, err := xmlutil.RequireUniqueChild(bodyNode, "ReturnCode")
	if err != nil {
		return Session{}, ReturnCodes{}, nil, nil, err
	}
	codes := ReturnCodes{Technical: techNode.TrimmedText(), Business: bizNode.TrimmedText()}
	if !codes.OK() {
		return Session{}, codes, nil, nil, nil
	}

	sess := Session{Phase: PhaseInitialisation}
	if txIDNode, err := xmlutil.MaybeUniqueChild(staticNode, "TransactionID"); err == nil && txIDNode != nil {
		sess.TransactionID = txIDNode.TrimmedText()
	}
	if numSegNode, err := xmlutil.MaybeUniqueChild(staticNode, "NumSegments"); err == nil && numSegNode != nil {
		fmt.Sscanf(numSegNode.TrimmedText(), "%d", &sess.NumSegments)
	}
	if sess.NumSegments == 0 {
		sess.NumSegments = 1
	}

	var wrappedKey []byte
	dataTransfer, err := xmlutil.MaybeUniqueChild(bodyNode, "DataTransfer")
	if err != nil || dataTransfer == nil {
		return sess, codes, nil, nil, nil
	}
	if encInfo, err := xmlutil.MaybeUniqueChild(dataTransfer, "DataEncryptionInfo"); err == nil && encInfo != nil {
		if keyNode, err := xmlutil.MaybeUniqueChild(encInfo, "TransactionKey"); err == nil && keyNode != nil {
			wrappedKey, _ = base64.StdEncoding.DecodeString(keyNode.TrimmedText())
		}
	}
	var segment []byte
	if orderDataNode, err := xmlutil.MaybeUniqueChild(dataTransfer, "OrderData"); err == nil && orderDataNode != nil {
		segment, _ = base64.StdEncoding.DecodeString(orderDataNode.TrimmedText())
	}

	return sess, codes, wrappedKey, segment, nil
}
