package ebics

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/nexusbank/gateway/internal/connection"
	"github.com/nexusbank/gateway/internal/gwerrors"
	"github.com/nexusbank/gateway/internal/logging"
)

// connID builds the identifier logging uses for a connection, since
// EBICSConfig carries no ID of its own.
func connID(cfg *connection.EBICSConfig) string {
	return cfg.HostID + "/" + cfg.PartnerID + "/" + cfg.UserID
}

// SendINI uploads the subscriber's signature (A006) public key to the bank
// host. It is unsigned and unencrypted, per EBICS key-management convention,
// and advances cfg.INIState on success.
func SendINI(ctx context.Context, tr Transport, cfg *connection.EBICSConfig) error {
	if cfg.SigKey == nil {
		return gwerrors.New(gwerrors.KindState, "no signature key generated for INI")
	}
	orderData := BuildPubKeyValue(&cfg.SigKey.PublicKey, "SignatureVersion", "A006")
	reqBody := BuildUnsecuredRequest(cfg.HostID, cfg.PartnerID, cfg.UserID, OrderINI,
		base64.StdEncoding.EncodeToString([]byte(orderData)))
	logging.LogEBICSRequest(connID(cfg), string(OrderINI), string(PhaseInitialisation), reqBody)

	codes, err := postKeyManagement(ctx, tr, cfg.BaseURL, reqBody)
	if err != nil {
		cfg.LastError = err.Error()
		return err
	}
	logging.LogEBICSResponse(connID(cfg), string(OrderINI), codes.Technical, codes.Business)
	if !codes.OK() {
		cfg.LastError = fmt.Sprintf("INI rejected: technical=%s business=%s", codes.Technical, codes.Business)
		return gwerrors.Protocol(codes.Technical, codes.Business, "INI order rejected by bank")
	}
	cfg.INIState = connection.KeyStateSent
	cfg.LastError = ""
	return nil
}

// SendHIA uploads the subscriber's authentication (X002) and encryption
// (E002) public keys. It advances cfg.HIAState on success.
func SendHIA(ctx context.Context, tr Transport, cfg *connection.EBICSConfig) error {
	if cfg.AuthKey == nil || cfg.EncKey == nil {
		return gwerrors.New(gwerrors.KindState, "no authentication/encryption key generated for HIA")
	}
	orderData := "<HIARequestOrderData>" +
		BuildPubKeyValue(&cfg.AuthKey.PublicKey, "AuthenticationVersion", "X002") +
		BuildPubKeyValue(&cfg.EncKey.PublicKey, "EncryptionVersion", "E002") +
		"</HIARequestOrderData>"
	reqBody := BuildUnsecuredRequest(cfg.HostID, cfg.PartnerID, cfg.UserID, OrderHIA,
		base64.StdEncoding.EncodeToString([]byte(orderData)))
	logging.LogEBICSRequest(connID(cfg), string(OrderHIA), string(PhaseInitialisation), reqBody)

	codes, err := postKeyManagement(ctx, tr, cfg.BaseURL, reqBody)
	if err != nil {
		cfg.LastError = err.Error()
		return err
	}
	logging.LogEBICSResponse(connID(cfg), string(OrderHIA), codes.Technical, codes.Business)
	if !codes.OK() {
		cfg.LastError = fmt.Sprintf("HIA rejected: technical=%s business=%s", codes.Technical, codes.Business)
		return gwerrors.Protocol(codes.Technical, codes.Business, "HIA order rejected by bank")
	}
	cfg.HIAState = connection.KeyStateSent
	cfg.LastError = ""
	return nil
}

// FetchHPB downloads the bank's public authentication and encryption keys,
// completing the three-way key exchange. It is unsigned on the request side
// (the subscriber has no verified bank key yet) but the response carries
// the keys the gateway will trust from this point on.
func FetchHPB(ctx context.Context, tr Transport, cfg *connection.EBICSConfig) error {
	reqBody := BuildUnsecuredRequest(cfg.HostID, cfg.PartnerID, cfg.UserID, OrderHPB, "")
	logging.LogEBICSRequest(connID(cfg), string(OrderHPB), string(PhaseInitialisation), reqBody)

	status, contentType, respBody, err := tr.Post(ctx, cfg.BaseURL, "text/xml", reqBody)
	if err != nil {
		cfg.LastError = err.Error()
		return gwerrors.Wrap(gwerrors.KindTransport, "HPB request failed", err)
	}
	if status != 200 || !AcceptableContentType(contentType) {
		err := gwerrors.New(gwerrors.KindTransport, fmt.Sprintf("HPB request returned HTTP status %d", status))
		cfg.LastError = err.Error()
		return err
	}

	codes, err := ParseKeyManagementResponse(respBody)
	if err != nil {
		cfg.LastError = err.Error()
		return gwerrors.Wrap(gwerrors.KindParse, "parse HPB response", err)
	}
	logging.LogEBICSResponse(connID(cfg), string(OrderHPB), codes.Technical, codes.Business)
	if !codes.OK() {
		cfg.LastError = fmt.Sprintf("HPB rejected: technical=%s business=%s", codes.Technical, codes.Business)
		return gwerrors.Protocol(codes.Technical, codes.Business, "HPB order rejected by bank")
	}

	authPub, encPub, err := ParseHPBKeys(respBody)
	if err != nil {
		cfg.LastError = err.Error()
		return gwerrors.Wrap(gwerrors.KindParse, "parse HPB keys", err)
	}

	cfg.BankAuthPub = authPub
	cfg.BankEncPub = encPub
	cfg.LastError = ""
	return nil
}

func postKeyManagement(ctx context.Context, tr Transport, baseURL string, reqBody []byte) (ReturnCodes, error) {
	status, contentType, respBody, err := tr.Post(ctx, baseURL, "text/xml", reqBody)
	if err != nil {
		return ReturnCodes{}, gwerrors.Wrap(gwerrors.KindTransport, "key management request failed", err)
	}
	if status != 200 || !AcceptableContentType(contentType) {
		return ReturnCodes{}, gwerrors.New(gwerrors.KindTransport, fmt.Sprintf("key management request returned HTTP status %d", status))
	}
	codes, err := ParseKeyManagementResponse(respBody)
	if err != nil {
		return ReturnCodes{}, gwerrors.Wrap(gwerrors.KindParse, "parse key management response", err)
	}
	return codes, nil
}
