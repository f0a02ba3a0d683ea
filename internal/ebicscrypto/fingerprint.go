package ebicscrypto

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

// EBICSKeyFingerprint computes the hash the bank and subscriber exchange to
// verify a public key out of band (printed on an INI letter, checked
// against the HPB download). It formats the exponent and modulus as
// lowercase hexadecimal big-endian byte strings with no leading zero byte
// (big.Int.Bytes already produces the minimal, unsigned big-endian form),
// concatenates them as "<exp> <mod>" separated by a single ASCII space, and
// hashes the result with SHA-256. Any deviation from this exact format
// breaks HPB verification against a real bank.
func EBICSKeyFingerprint(pub *rsa.PublicKey) [32]byte {
	expHex := hex.EncodeToString(big.NewInt(int64(pub.E)).Bytes())
	modHex := hex.EncodeToString(pub.N.Bytes())
	data := fmt.Sprintf("%s %s", expHex, modHex)
	return sha256.Sum256([]byte(data))
}
