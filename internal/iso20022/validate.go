package iso20022

import (
	"fmt"
	"math/big"
	"regexp"
)

var (
	ibanFormat = regexp.MustCompile(`^[A-Z]{2}[0-9]{2}[A-Z0-9]{1,30}$`)
	bicFormat  = regexp.MustCompile(`^[A-Z]{6}[A-Z0-9]{2}([A-Z0-9]{3})?$`)
)

// ValidateIBAN checks the structural format and mod-97 checksum of an IBAN.
// Used at the payment-preparation boundary to reject malformed input with a
// BadRequest before it ever reaches the EBICS engine.
func ValidateIBAN(iban string) error {
	if !ibanFormat.MatchString(iban) {
		return fmt.Errorf("invalid iban format: %q", iban)
	}
	rearranged := iban[4:] + iban[:4]

	var numeric []byte
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			numeric = append(numeric, byte(r))
		case r >= 'A' && r <= 'Z':
			v := int(r-'A') + 10
			numeric = append(numeric, []byte(fmt.Sprintf("%d", v))...)
		default:
			return fmt.Errorf("invalid iban character: %q", r)
		}
	}

	n := new(big.Int)
	n.SetString(string(numeric), 10)
	remainder := new(big.Int).Mod(n, big.NewInt(97))
	if remainder.Int64() != 1 {
		return fmt.Errorf("iban checksum failed: %q", iban)
	}
	return nil
}

// ValidateBIC checks the structural format of a BIC/SWIFT code (8 or 11
// characters: 4-letter bank code, 2-letter country code, 2 alphanumeric
// location code, optional 3-character branch code).
func ValidateBIC(bic string) error {
	if !bicFormat.MatchString(bic) {
		return fmt.Errorf("invalid bic format: %q", bic)
	}
	return nil
}
