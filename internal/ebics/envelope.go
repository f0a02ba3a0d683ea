package ebics

import (
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"github.com/nexusbank/gateway/internal/xmlutil"
)

const xmlDecl = `<?xml version="1.0" encoding="UTF-8"?>`

// BuildPubKeyValue renders an RSA public key as the EBICS RSAPubKeyInfo
// element used inside INI/HIA order data and parsed back out of HPB. It is
// exported because both the client handshake (this package) and the bank
// simulator (internal/demobank) need to render the same wire shape.
func BuildPubKeyValue(pub *rsa.PublicKey, versionAttr, version string) string {
	modB64 := base64.StdEncoding.EncodeToString(pub.N.Bytes())
	expB64 := base64.StdEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())
	return fmt.Sprintf(
		`<RSAPubKeyInfo><PubKeyValue><RSAKeyValue><Modulus>%s</Modulus><Exponent>%s</Exponent></RSAKeyValue></PubKeyValue><%s>%s</%s></RSAPubKeyInfo>`,
		modB64, expB64, versionAttr, version, versionAttr,
	)
}

// ParsePubKeyValue is the inverse of BuildPubKeyValue for callers holding the
// parent of an RSAPubKeyInfo element (as HPB's AuthenticationPubKeyInfo and
// EncryptionPubKeyInfo wrappers are).
func ParsePubKeyValue(n *xmlutil.Node) (*rsa.PublicKey, error) {
	rsaInfo, err := xmlutil.RequireUniqueChild(n, "RSAPubKeyInfo")
	if err != nil {
		return nil, err
	}
	return ParseRSAPubKeyInfo(rsaInfo)
}

// ParseRSAPubKeyInfo parses an RSAPubKeyInfo element directly, for callers
// that already hold the element itself rather than its parent: INI's order
// data is a bare RSAPubKeyInfo with no wrapper, unlike HPB's.
func ParseRSAPubKeyInfo(rsaInfo *xmlutil.Node) (*rsa.PublicKey, error) {
	pubKeyValue, err := xmlutil.RequireUniqueChild(rsaInfo, "PubKeyValue")
	if err != nil {
		return nil, err
	}
	keyValue, err := xmlutil.RequireUniqueChild(pubKeyValue, "RSAKeyValue")
	if err != nil {
		return nil, err
	}
	modNode, err := xmlutil.RequireUniqueChild(keyValue, "Modulus")
	if err != nil {
		return nil, err
	}
	expNode, err := xmlutil.RequireUniqueChild(keyValue, "Exponent")
	if err != nil {
		return nil, err
	}
	modBytes, err := base64.StdEncoding.DecodeString(modNode.TrimmedText())
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	expBytes, err := base64.StdEncoding.DecodeString(expNode.TrimmedText())
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	mod := new(big.Int).SetBytes(modBytes)
	exp := new(big.Int).SetBytes(expBytes)
	return &rsa.PublicKey{N: mod, E: int(exp.Int64())}, nil
}

// BuildUnsecuredRequest renders an ebicsUnsecuredRequest carrying orderData
// (already base64-encoded) for INI/HIA key-upload exchanges. Exported so
// internal/demobank's own test client (if any) and documentation can
// reference the same builder the production client uses.
func BuildUnsecuredRequest(hostID, partnerID, userID string, orderType OrderType, orderDataB64 string) []byte {
	var b strings.Builder
	b.WriteString(xmlDecl)
	b.WriteString(`<ebicsUnsecuredRequest Version="H004" Revision="1">`)
	b.WriteString(`<header authenticate="true">`)
	b.WriteString(`<static>`)
	fmt.Fprintf(&b, `<HostID>%s</HostID>`, hostID)
	fmt.Fprintf(&b, `<PartnerID>%s</PartnerID>`, partnerID)
	fmt.Fprintf(&b, `<UserID>%s</UserID>`, userID)
	b.WriteString(`<OrderDetails>`)
	fmt.Fprintf(&b, `<OrderType>%s</OrderType>`, orderType)
	b.WriteString(`<OrderAttribute>DZNNN</OrderAttribute>`)
	b.WriteString(`</OrderDetails>`)
	b.WriteString(`<SecurityMedium>0000</SecurityMedium>`)
	b.WriteString(`</static>`)
	b.WriteString(`<mutable/>`)
	b.WriteString(`</header>`)
	b.WriteString(`<body>`)
	fmt.Fprintf(&b, `<DataTransfer><OrderData>%s</OrderData></DataTransfer>`, orderDataB64)
	b.WriteString(`</body>`)
	b.WriteString(`</ebicsUnsecuredRequest>`)
	return []byte(b.String())
}

// BuildKeyManagementResponse and BuildHPBResponse are used by the bank
// simulator (internal/demobank) to answer INI/HIA/HPB exchanges, and by this
// package's own tests to stand in for a bank host.

func BuildKeyManagementResponse(technicalCode, businessCode string) []byte {
	var b strings.Builder
	b.WriteString(xmlDecl)
	b.WriteString(`<ebicsKeyManagementResponse Version="H004" Revision="1">`)
	b.WriteString(`<header><static/><mutable>`)
	fmt.Fprintf(&b, `<ReturnCode>%s</ReturnCode>`, technicalCode)
	b.WriteString(`<ReportText>[EBICS_OK]</ReportText>`)
	b.WriteString(`</mutable></header>`)
	b.WriteString(`<body>`)
	fmt.Fprintf(&b, `<ReturnCode>%s</ReturnCode>`, businessCode)
	b.WriteString(`</body>`)
	b.WriteString(`</ebicsKeyManagementResponse>`)
	return []byte(b.String())
}

func BuildHPBResponse(technicalCode, businessCode string, authPub, encPub *rsa.PublicKey) []byte {
	var b strings.Builder
	b.WriteString(xmlDecl)
	b.WriteString(`<ebicsKeyManagementResponse Version="H004" Revision="1">`)
	b.WriteString(`<header><static/><mutable>`)
	fmt.Fprintf(&b, `<ReturnCode>%s</ReturnCode>`, technicalCode)
	b.WriteString(`</mutable></header>`)
	b.WriteString(`<body>`)
	fmt.Fprintf(&b, `<ReturnCode>%s</ReturnCode>`, businessCode)
	if authPub != nil && encPub != nil {
		b.WriteString(`<DataTransfer><OrderData>`)
		b.WriteString(`<HPBResponseOrderData>`)
		b.WriteString(`<AuthenticationPubKeyInfo>`)
		b.WriteString(BuildPubKeyValue(authPub, "AuthenticationVersion", "X002"))
		b.WriteString(`</AuthenticationPubKeyInfo>`)
		b.WriteString(`<EncryptionPubKeyInfo>`)
		b.WriteString(BuildPubKeyValue(encPub, "EncryptionVersion", "E002"))
		b.WriteString(`</EncryptionPubKeyInfo>`)
		b.WriteString(`</HPBResponseOrderData>`)
		b.WriteString(`</OrderData></DataTransfer>`)
	}
	b.WriteString(`</body>`)
	b.WriteString(`</ebicsKeyManagementResponse>`)
	return []byte(b.String())
}

func ParseKeyManagementResponse(body []byte) (ReturnCodes, error) {
	root, err := xmlutil.Parse(body)
	if err != nil {
		return ReturnCodes{}, fmt.Errorf("parse key management response: %w", err)
	}
	header, err := xmlutil.RequireUniqueChild(root, "header")
	if err != nil {
		return ReturnCodes{}, err
	}
	mutable, err := xmlutil.RequireUniqueChild(header, "mutable")
	if err != nil {
		return ReturnCodes{}, err
	}
	techNode, err := xmlutil.RequireUniqueChild(mutable, "ReturnCode")
	if err != nil {
		return ReturnCodes{}, err
	}
	bodyNode, err := xmlutil.RequireUniqueChild(root, "body")
	if err != nil {
		return ReturnCodes{}, err
	}
	bizNode, err := xmlutil.RequireUniqueChild(bodyNode, "ReturnCode")
	if err != nil {
		return ReturnCodes{}, err
	}
	return ReturnCodes{Technical: techNode.TrimmedText(), Business: bizNode.TrimmedText()}, nil
}

func ParseHPBKeys(body []byte) (authPub, encPub *rsa.PublicKey, err error) {
	root, err := xmlutil.Parse(body)
	if err != nil {
		return nil, nil, fmt.Errorf("parse hpb response: %w", err)
	}
	bodyNode, err := xmlutil.RequireUniqueChild(root, "body")
	if err != nil {
		return nil, nil, err
	}
	dataTransfer, err := xmlutil.RequireUniqueChild(bodyNode, "DataTransfer")
	if err != nil {
		return nil, nil, err
	}
	orderData, err := xmlutil.RequireUniqueChild(dataTransfer, "OrderData")
	if err != nil {
		return nil, nil, err
	}
	hpbData, err := xmlutil.RequireUniqueChild(orderData, "HPBResponseOrderData")
	if err != nil {
		return nil, nil, err
	}
	authInfo, err := xmlutil.RequireUniqueChild(hpbData, "AuthenticationPubKeyInfo")
	if err != nil {
		return nil, nil, err
	}
	encInfo, err := xmlutil.RequireUniqueChild(hpbData, "EncryptionPubKeyInfo")
	if err != nil {
		return nil, nil, err
	}
	authPub, err = ParsePubKeyValue(authInfo)
	if err != nil {
		return nil, nil, fmt.Errorf("parse authentication pub key: %w", err)
	}
	encPub, err = ParsePubKeyValue(encInfo)
	if err != nil {
		return nil, nil, fmt.Errorf("parse encryption pub key: %w", err)
	}
	return authPub, encPub, nil
}

// UnsecuredRequest is the parsed content of an ebicsUnsecuredRequest, the
// shape INI/HIA/HPB requests take on the wire.
type UnsecuredRequest struct {
	HostID    string
	PartnerID string
	UserID    string
	OrderType OrderType
	OrderData []byte // base64-decoded; empty for HPB, which carries no body.
}

// ParseUnsecuredRequest is the server-side inverse of BuildUnsecuredRequest,
// used by internal/demobank to read an incoming INI/HIA/HPB request.
func ParseUnsecuredRequest(body []byte) (UnsecuredRequest, error) {
	root, err := xmlutil.Parse(body)
	if err != nil {
		return UnsecuredRequest{}, fmt.Errorf("parse unsecured request: %w", err)
	}
	if err := xmlutil.RequireRoot(root, "ebicsUnsecuredRequest"); err != nil {
		return UnsecuredRequest{}, err
	}
	header, err := xmlutil.RequireUniqueChild(root, "header")
	if err != nil {
		return UnsecuredRequest{}, err
	}
	static, err := xmlutil.RequireUniqueChild(header, "static")
	if err != nil {
		return UnsecuredRequest{}, err
	}
	hostNode, err := xmlutil.RequireUniqueChild(static, "HostID")
	if err != nil {
		return UnsecuredRequest{}, err
	}
	partnerNode, err := xmlutil.RequireUniqueChild(static, "PartnerID")
	if err != nil {
		return UnsecuredRequest{}, err
	}
	userNode, err := xmlutil.RequireUniqueChild(static, "UserID")
	if err != nil {
		return UnsecuredRequest{}, err
	}
	orderDetails, err := xmlutil.RequireUniqueChild(static, "OrderDetails")
	if err != nil {
		return UnsecuredRequest{}, err
	}
	orderTypeNode, err := xmlutil.RequireUniqueChild(orderDetails, "OrderType")
	if err != nil {
		return UnsecuredRequest{}, err
	}

	out := UnsecuredRequest{
		HostID:    hostNode.TrimmedText(),
		PartnerID: partnerNode.TrimmedText(),
		UserID:    userNode.TrimmedText(),
		OrderType: OrderType(orderTypeNode.TrimmedText()),
	}

	bodyNode, err := xmlutil.RequireUniqueChild(root, "body")
	if err != nil {
		return UnsecuredRequest{}, err
	}
	dataTransfer, err := xmlutil.MaybeUniqueChild(bodyNode, "DataTransfer")
	if err != nil {
		return UnsecuredRequest{}, err
	}
	if dataTransfer != nil {
		orderDataNode, err := xmlutil.MaybeUniqueChild(dataTransfer, "OrderData")
		if err != nil {
			return UnsecuredRequest{}, err
		}
		if orderDataNode != nil {
			decoded, err := base64.StdEncoding.DecodeString(orderDataNode.TrimmedText())
			if err != nil {
				return UnsecuredRequest{}, fmt.Errorf("decode order data: %w", err)
			}
			out.OrderData = decoded
		}
	}
	return out, nil
}
