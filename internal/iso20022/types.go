// Package iso20022 translates between the gateway's normalized transaction
// model and ISO 20022 camt.052/053 statements and pain.001 credit-transfer
// initiations.
//
// Parsing walks the document field-at-a-time via internal/xmlutil's
// destructuring combinators rather than unmarshaling into a single struct,
// since ISO 20022 documents mix deeply nested optional sections.
package iso20022

// Direction is the credit/debit indicator on a normalized transaction.
type Direction string

const (
	DirectionCredit Direction = "CRDT"
	DirectionDebit  Direction = "DBIT"
)

// Status is the booking status of a normalized transaction.
type Status string

const (
	StatusBooked  Status = "BOOK"
	StatusPending Status = "PENDING"
)

// BankTransactionCode carries the ISO domain/family/subfamily code and/or a
// proprietary issuer:code pair, both optional per the source schema.
type BankTransactionCode struct {
	Domain      string
	Family      string
	Subfamily   string
	Proprietary string // "issuer:code" form.
}

// HasISO reports whether the ISO form (domain/family/subfamily) is populated.
func (c BankTransactionCode) HasISO() bool {
	return c.Domain != ""
}

// Transaction is the normalized representation of one camt.05x entry detail.
type Transaction struct {
	BookingAccountIBAN string
	CounterpartIBAN    string
	CounterpartBIC     string
	CounterpartName    string
	Amount             string // decimal string, always positive; Direction carries sign.
	Currency           string
	BookingDateUnixMs  int64
	ValueDateUnixMs    int64
	UnstructuredRemit  string
	Direction          Direction
	Status             Status
	IsBatch            bool
	BatchMismatch      bool // true iff BtchBookg disagreed with the >1 TxDtls heuristic.
	BankTransactionCode BankTransactionCode
	EndToEndID         string
	BankEntryReference string
}

// AccountInfo is one account discovered via an HTD (account information)
// download. HTD's exact shape is not part of the external contract (Open
// Question in the source spec); this type is intentionally minimal.
type AccountInfo struct {
	IBAN string
	BIC  string
	Name string
}

// PaymentRequest is the input to EmitPain001: a high-level description of a
// single credit transfer to initiate.
type PaymentRequest struct {
	MsgID             string
	PaymentInfoID     string
	EndToEndID        string
	CreationDateTime  string // ISO-8601 seconds, e.g. "2026-08-06T10:00:00Z".
	RequestedExecDate string // ISO-8601 date, e.g. "2026-08-06".
	DebtorName        string
	DebtorIBAN        string
	DebtorBIC         string
	CreditorName      string
	CreditorIBAN      string
	CreditorBIC       string
	Amount            string
	Currency          string
	RemittanceSubject string
}
