// Package demobank implements an in-memory EBICS 2.5 (H004) host: the far
// side of the protocol internal/ebics speaks as a client. It answers HEV,
// INI/HIA/HPB, and signed CCT/C52/C53/HTD exchanges against a small
// in-memory ledger, for cmd/ebicssim and for integration tests that would
// otherwise need a real bank to talk to.
//
// The Subscriber/Account/in-flight-transaction shape turns a one-command-
// byte-to-one-synchronous-call dispatch table into a stateful responder:
// Bank.Handle dispatches by EBICS order type and, for segmented transfers,
// threads a bank-issued TransactionID across multiple HTTP round trips.
package demobank

import (
	"crypto/rsa"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/nexusbank/gateway/internal/iso20022"
)

// Subscriber is one EBICS user the bank has a key exchange with.
type Subscriber struct {
	PartnerID string
	UserID    string

	SigPub  *rsa.PublicKey // A006, learned via INI.
	AuthPub *rsa.PublicKey // X002, learned via HIA.
	EncPub  *rsa.PublicKey // E002, learned via HIA.
}

func (s *Subscriber) ready() bool {
	return s != nil && s.SigPub != nil && s.AuthPub != nil && s.EncPub != nil
}

// Account is one bank account the simulator services, with a ledger of
// entries awaiting delivery in the next C52/C53 statement.
type Account struct {
	IBAN     string
	BIC      string
	Holder   string
	Currency string // ISO 4217 code this account accepts CCT uploads in.

	balanceCents int64
	pending      []iso20022.Transaction
	delivered    []iso20022.Transaction
}

// Bank is the simulator's whole state: its own EBICS key pair, the
// subscribers it has exchanged keys with, and one account per partner.
//
// A single mutex guards everything. Unlike the gateway core, where
// connection.Connection.Lock serializes per connection so independent
// connections can proceed concurrently, the simulator has no analogous unit
// of concurrency worth the complexity: it exists to be a deterministic test
// double, not a scaled service.
type Bank struct {
	mu sync.Mutex

	HostID string
	AuthKey *rsa.PrivateKey // X002, the bank's own.
	EncKey  *rsa.PrivateKey // E002, the bank's own.

	// SegmentSize bounds ciphertext segment size for downloads, configurable
	// so tests can force multi-segment transfers without huge fixtures.
	SegmentSize int

	subscribers map[string]*Subscriber // keyed by partnerID+"/"+userID.
	accounts    map[string]*Account    // keyed by account IBAN.
	partnerIBAN map[string]string      // partnerID -> the one IBAN it's entitled to.

	uploads   map[string]*inFlightUpload
	downloads map[string]*inFlightDownload
}

const defaultSegmentSize = 1 << 20

// NewBank returns a Bank configured with the given X002/E002 key pair,
// ready to answer HPB once subscribers complete HIA.
func NewBank(hostID string, authKey, encKey *rsa.PrivateKey) *Bank {
	return &Bank{
		HostID:      hostID,
		AuthKey:     authKey,
		EncKey:      encKey,
		SegmentSize: defaultSegmentSize,
		subscribers: make(map[string]*Subscriber),
		accounts:    make(map[string]*Account),
		partnerIBAN: make(map[string]string),
		uploads:     make(map[string]*inFlightUpload),
		downloads:   make(map[string]*inFlightDownload),
	}
}

// SeedAccount registers an account under partnerID, with its opening balance
// expressed as a decimal string ("1000.00"). One partner maps to exactly one
// account, the common shape for a single-contract EBICS subscription this
// simulator targets; a bank serving several accounts per partner is an Open
// Question the source left unresolved and out of scope here.
func (b *Bank) SeedAccount(partnerID, iban, bic, holder, openingBalance string) error {
	return b.SeedAccountWithCurrency(partnerID, iban, bic, holder, openingBalance, "EUR")
}

// SeedAccountWithCurrency is SeedAccount with an explicit accepted currency,
// for tests exercising an account that only settles in one currency (a
// Swiss CHF-only account rejecting a EUR payment instruction, say).
func (b *Bank) SeedAccountWithCurrency(partnerID, iban, bic, holder, openingBalance, currency string) error {
	cents, err := parseDecimalCents(openingBalance)
	if err != nil {
		return fmt.Errorf("seed account: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts[iban] = &Account{IBAN: iban, BIC: bic, Holder: holder, Currency: currency, balanceCents: cents}
	b.partnerIBAN[partnerID] = iban
	return nil
}

func (b *Bank) subscriberKey(partnerID, userID string) string {
	return partnerID + "/" + userID
}

func (b *Bank) subscriber(partnerID, userID string) *Subscriber {
	return b.subscribers[b.subscriberKey(partnerID, userID)]
}

func (b *Bank) getOrCreateSubscriber(partnerID, userID string) *Subscriber {
	key := b.subscriberKey(partnerID, userID)
	s, ok := b.subscribers[key]
	if !ok {
		s = &Subscriber{PartnerID: partnerID, UserID: userID}
		b.subscribers[key] = s
	}
	return s
}

func (b *Bank) accountForPartner(partnerID string) *Account {
	iban, ok := b.partnerIBAN[partnerID]
	if !ok {
		return nil
	}
	return b.accounts[iban]
}

// postDebit records a CCT's effect on acct's ledger: a debit entry for the
// transfer amount, pending delivery in the next statement.
func (a *Account) postDebit(amountCents int64, tx iso20022.Transaction) {
	a.balanceCents -= amountCents
	a.pending = append(a.pending, tx)
}

// clearDelivered removes the entries a downloaded statement has now been
// acknowledged for. delivered is always a prefix snapshot of pending taken
// at download-init time, so a length-based split is exact and
// order-preserving even if a new CCT lands on the account mid-transaction.
func (a *Account) clearDelivered(delivered []iso20022.Transaction) {
	if len(delivered) == 0 {
		return
	}
	a.delivered = append(a.delivered, delivered...)
	if len(delivered) <= len(a.pending) {
		a.pending = append([]iso20022.Transaction{}, a.pending[len(delivered):]...)
	} else {
		a.pending = nil
	}
}

// inFlightUpload is the bank's view of a CCT transaction in progress: the
// ciphertext segments received so far, and enough context to finalize once
// the last one arrives.
type inFlightUpload struct {
	partnerID, userID string
	wrappedKey        []byte
	orderSig          []byte
	segments          [][]byte
	numSegments       int
}

// inFlightDownload is the bank's view of a C52/C53/HTD transaction in
// progress: the ciphertext segments still to be served, and the ledger
// entries to retire once the client acknowledges receipt.
type inFlightDownload struct {
	partnerID, userID string
	accountIBAN       string
	segments          [][]byte
	delivered         []iso20022.Transaction
}

// parseDecimalCents parses a decimal amount string ("1234.56") into an
// integer cent count, the precision EBICS/ISO 20022 amounts never exceed.
func parseDecimalCents(amount string) (int64, error) {
	whole, frac, hasFrac := strings.Cut(amount, ".")
	sign := int64(1)
	if strings.HasPrefix(whole, "-") {
		sign = -1
		whole = whole[1:]
	}
	wholeVal, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", amount)
	}
	fracVal := int64(0)
	if hasFrac {
		for len(frac) < 2 {
			frac += "0"
		}
		fracVal, err = strconv.ParseInt(frac[:2], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q", amount)
		}
	}
	return sign * (wholeVal*100 + fracVal), nil
}

// formatCents renders an integer cent count back into a decimal amount
// string, the inverse of parseDecimalCents.
func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
