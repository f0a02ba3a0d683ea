// Package ebicscrypto implements the RSA-based cryptographic primitives
// EBICS 2.5 mandates: A006 signing, E002 hybrid encryption, and the key
// fingerprint used to verify bank public keys delivered via HPB.
//
// Functions are paired (Generate/Encrypt/Decrypt) and return sentinel
// errors for invalid key sizes and wrong passphrases; signature
// verification reports a bad signature as false, not as an error.
package ebicscrypto

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
)

// Common errors. Parse/format failures and authentication failures both
// surface as CryptoError at the boundary; see gwerrors.KindCrypto.
var (
	ErrInvalidKeySize   = errors.New("invalid rsa key size")
	ErrInvalidSignature = errors.New("signature verification failed")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

// MinKeyBits is the RSA modulus size used for production keys. It is not
// enforced as a minimum: GenerateRSA accepts any size from 512 bits, and
// tests use smaller keys for speed.
const MinKeyBits = 2048

// GenerateRSA generates a fresh RSA key pair of the given modulus size.
func GenerateRSA(bits int) (*rsa.PrivateKey, error) {
	if bits < 512 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKeySize, bits)
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return priv, nil
}
