// Package ebics implements the EBICS 2.5 (H004) client protocol engine:
// the HEV capability probe, the INI/HIA/HPB key-exchange handshake, and the
// signed/encrypted/compressed/segmented upload (CCT) and download
// (C52/C53/HTD) transaction state machines.
//
// The order-type registry (registry.go) dispatches by EBICS order type
// rather than a single-shot byte command, since a transaction here spans
// multiple phases across multiple HTTP round trips.
package ebics

// Phase is a download or upload transaction's current stage.
type Phase string

const (
	PhaseInitialisation Phase = "initialisation"
	PhaseTransfer       Phase = "transfer"
	PhaseReceipt        Phase = "receipt"
)

// OrderType identifies an EBICS business transaction type.
type OrderType string

const (
	OrderINI OrderType = "INI"
	OrderHIA OrderType = "HIA"
	OrderHPB OrderType = "HPB"
	OrderCCT OrderType = "CCT"
	OrderC52 OrderType = "C52"
	OrderC53 OrderType = "C53"
	OrderHTD OrderType = "HTD"
)

// ReturnCodes carries the two codes every EBICS response yields: a
// technical code from the transport header and a business code from the
// response body. Success requires both to equal EBICS_OK ("000000").
type ReturnCodes struct {
	Technical string
	Business  string
}

// OK reports whether both return codes indicate success.
func (r ReturnCodes) OK() bool {
	return r.Technical == okCode && r.Business == okCode
}

const okCode = "000000"

// Session is the ephemeral state of one download or upload transaction. It
// never outlives a single Download or Upload call.
type Session struct {
	TransactionID  string
	Phase          Phase
	NumSegments    int
	CurrentSegment int
	TransactionKey []byte // unwrapped AES transaction key, once known.
}

// NonceSize is the size, in bytes, of the nonce included in an
// initialisation request.
const NonceSize = 16
