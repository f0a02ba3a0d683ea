package xmlutil

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/nexusbank/gateway/internal/ebicscrypto"
)

// SignAuthSignature signs an EBICS AuthSignature block: it applies exclusive
// canonicalization to ds:SignedInfo, hashes the result with SHA-256, and
// signs that digest with ebicscrypto.SignA006 (RSA-PSS).
//
// signedInfo must already reference, by digest, each authenticate="true"
// node in doc; this function computes SignedInfo's own digest-after-C14N
// and signs it.
func SignAuthSignature(doc *Node, authKey *rsa.PrivateKey) (signedInfoC14n []byte, signatureValue []byte, err error) {
	signedInfo := FindFirst(doc, "SignedInfo")
	if signedInfo == nil {
		return nil, nil, fmt.Errorf("document has no SignedInfo element to sign")
	}

	signedInfoC14n = Canonicalize(signedInfo)
	digest := sha256.Sum256(signedInfoC14n)

	sig, err := ebicscrypto.SignA006(digest[:], authKey)
	if err != nil {
		return nil, nil, fmt.Errorf("sign SignedInfo digest: %w", err)
	}
	return signedInfoC14n, sig, nil
}

// VerifyAuthSignature verifies an EBICS AuthSignature against the bank's (or
// subscriber's) authentication public key.
func VerifyAuthSignature(doc *Node, authPub *rsa.PublicKey) (bool, error) {
	signedInfo := FindFirst(doc, "SignedInfo")
	if signedInfo == nil {
		return false, fmt.Errorf("document has no SignedInfo element")
	}
	sigValueNode := FindFirst(doc, "SignatureValue")
	if sigValueNode == nil {
		return false, fmt.Errorf("document has no SignatureValue element")
	}
	sig, err := base64.StdEncoding.DecodeString(sigValueNode.TrimmedText())
	if err != nil {
		return false, fmt.Errorf("decode SignatureValue: %w", err)
	}

	digest := sha256.Sum256(Canonicalize(signedInfo))
	return ebicscrypto.VerifyA006(sig, digest[:], authPub), nil
}

// DigestAuthenticatedNode computes the SHA-256 digest of node's exclusive
// canonical form, for inclusion as a ds:Reference/ds:DigestValue over an
// authenticate="true" element.
func DigestAuthenticatedNode(n *Node) [32]byte {
	return sha256.Sum256(Canonicalize(n))
}
