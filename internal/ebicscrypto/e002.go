package ebicscrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
)

// E002KeyBits is the AES transaction key size EBICS 2.5's E002 profile uses.
const E002KeyBits = 128

// E002Envelope carries everything needed to decrypt an E002-wrapped payload:
// the AES transaction key RSA-wrapped to the recipient, a fingerprint of the
// recipient's encryption key (so the receiver can tell which key to use),
// and the AES/CBC ciphertext itself.
type E002Envelope struct {
	WrappedKey         []byte
	RecipientKeyDigest [32]byte
	Ciphertext         []byte
}

var zeroIV = make([]byte, aes.BlockSize)

// EncryptE002 generates a fresh 128-bit AES key, encrypts plaintext with
// AES/CBC/PKCS#7 under an all-zero IV (EBICS transports the IV implicitly as
// zero), and wraps the AES key under the bank's RSA encryption key with
// PKCS1v15, as EBICS 2.5's E002 profile requires.
func EncryptE002(plaintext []byte, bankEncPub *rsa.PublicKey) (*E002Envelope, error) {
	key, wrappedKey, err := WrapE002Key(bankEncPub)
	if err != nil {
		return nil, err
	}
	ciphertext, err := EncryptAESCBCZeroIV(plaintext, key)
	if err != nil {
		return nil, err
	}

	return &E002Envelope{
		WrappedKey:         wrappedKey,
		RecipientKeyDigest: EBICSKeyFingerprint(bankEncPub),
		Ciphertext:         ciphertext,
	}, nil
}

// DecryptE002 is the inverse of EncryptE002: unwrap the transaction key under
// the own encryption private key, then AES/CBC decrypt and strip padding.
func DecryptE002(env *E002Envelope, ownEncPriv *rsa.PrivateKey) ([]byte, error) {
	key, err := UnwrapE002Key(env.WrappedKey, ownEncPriv)
	if err != nil {
		return nil, err
	}
	return DecryptAESCBCZeroIV(env.Ciphertext, key)
}

// UnwrapE002Key RSA/PKCS1v15-decrypts an E002 transaction key. Segmented
// EBICS downloads carry the wrapped key in the first segment's
// DataEncryptionInfo, separately from the ciphertext that follows across
// one or more OrderData segments, so callers assembling a multi-segment
// transfer unwrap the key once and reuse it for every segment.
func UnwrapE002Key(wrappedKey []byte, ownEncPriv *rsa.PrivateKey) ([]byte, error) {
	key, err := rsa.DecryptPKCS1v15(rand.Reader, ownEncPriv, wrappedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap transaction key: %v", ErrInvalidCiphertext, err)
	}
	return key, nil
}

// DecryptAESCBCZeroIV decrypts ciphertext under key using AES/CBC with an
// all-zero IV and strips PKCS#7 padding, the bulk-data half of E002.
func DecryptAESCBCZeroIV(ciphertext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new aes cipher: %w", err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext not block aligned", ErrInvalidCiphertext)
	}

	plainPadded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, zeroIV).CryptBlocks(plainPadded, ciphertext)

	plaintext, err := pkcs7Unpad(plainPadded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return plaintext, nil
}

// WrapE002Key generates a fresh AES transaction key of E002KeyBits length
// and RSA/PKCS1v15-wraps it to the recipient, for callers that need the key
// and its wrapped form before the plaintext to encrypt is fully known (as
// in segmented uploads, where the wrapped key goes in segment 1's
// DataEncryptionInfo before later segments are compressed and encrypted).
func WrapE002Key(recipientPub *rsa.PublicKey) (key, wrappedKey []byte, err error) {
	key = make([]byte, E002KeyBits/8)
	if _, err := rand.Read(key); err != nil {
		return nil, nil, fmt.Errorf("generate transaction key: %w", err)
	}
	wrappedKey, err = rsa.EncryptPKCS1v15(rand.Reader, recipientPub, key)
	if err != nil {
		return nil, nil, fmt.Errorf("wrap transaction key: %w", err)
	}
	return key, wrappedKey, nil
}

// EncryptAESCBCZeroIV pads plaintext with PKCS#7 and encrypts it under key
// using AES/CBC with an all-zero IV, the bulk-data half of E002.
func EncryptAESCBCZeroIV(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new aes cipher: %w", err)
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, zeroIV).CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty padded data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}
