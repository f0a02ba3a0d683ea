package ebicscrypto

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// pssOptions fixes the A006 signature parameters: SHA-256 digest, MGF1-SHA-256,
// salt length 32, trailer field 1 (the RSA-PSS default implied by crypto/rsa).
var pssOptions = &rsa.PSSOptions{
	SaltLength: 32,
	Hash:       crypto.SHA256,
}

// SignA006 signs a pre-computed SHA-256 digest with RSA-PSS/SHA-256, salt
// length 32, as EBICS 2.5's A006 signature version requires. digest must
// already be the 32-byte SHA-256 hash of whatever is being signed (e.g.
// DigestOrderA006's output, or a canonicalized SignedInfo's digest) -
// SignA006 does not hash its input again.
func SignA006(digest []byte, priv *rsa.PrivateKey) ([]byte, error) {
	sig, err := rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest, pssOptions)
	if err != nil {
		return nil, fmt.Errorf("sign a006: %w", err)
	}
	return sig, nil
}

// VerifyA006 verifies an A006 signature produced by SignA006 over the same
// pre-computed digest.
func VerifyA006(sig, digest []byte, pub *rsa.PublicKey) bool {
	return rsa.VerifyPSS(pub, crypto.SHA256, digest, sig, pssOptions) == nil
}

// DigestOrderA006 computes the order-data digest EBICS signs: SHA-256 of the
// order bytes with every 0x0D, 0x0A, and 0x1A byte stripped first. This
// canonicalization is mandatory and must match byte-for-byte across
// implementations or HPB/CCT signature verification fails.
func DigestOrderA006(orderBytes []byte) [32]byte {
	stripped := bytes.NewBuffer(make([]byte, 0, len(orderBytes)))
	for _, b := range orderBytes {
		if b == 0x0D || b == 0x0A || b == 0x1A {
			continue
		}
		stripped.WriteByte(b)
	}
	return sha256.Sum256(stripped.Bytes())
}
