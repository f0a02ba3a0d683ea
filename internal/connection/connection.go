// Package connection models a bank connection: a named configuration
// binding a protocol (initially only EBICS) to a typed parameter bundle,
// the subscriber's owned key material, and the bank's public keys learned
// via HPB.
//
// Per the Design Notes, connection type is a tagged variant rather than the
// source's stringly-typed field: Protocol selects which of the embedded
// configs is populated. The Loopback variant is a stub, intentionally
// unimplemented.
package connection

import (
	"crypto/rsa"
	"sync"
)

// Protocol identifies which upstream wire protocol a connection speaks.
type Protocol string

const (
	ProtocolEBICS     Protocol = "ebics"
	ProtocolLoopback  Protocol = "loopback" // stub; not implemented.
)

// KeyState tracks the INI/HIA handshake progress for a subscriber key.
type KeyState string

const (
	KeyStateUnknown  KeyState = "unknown"
	KeyStateNotSent  KeyState = "not_sent"
	KeyStateSent     KeyState = "sent"
)

// ConnectionState is the overall readiness of a connection, derived from
// (not stored independently of) its INI/HIA/HPB state.
type ConnectionState string

const (
	StateUnknown ConnectionState = "unknown"
	StateNotSent ConnectionState = "not_sent"
	StateSent    ConnectionState = "sent"
	StateReady   ConnectionState = "ready"
	StateError   ConnectionState = "error"
)

// EBICSConfig is the typed parameter bundle for an EBICS connection.
type EBICSConfig struct {
	BaseURL  string
	HostID   string
	PartnerID string
	UserID   string
	SystemID string // optional.

	AuthKey *rsa.PrivateKey
	EncKey  *rsa.PrivateKey
	SigKey  *rsa.PrivateKey

	BankAuthPub *rsa.PublicKey // learned via HPB.
	BankEncPub  *rsa.PublicKey // learned via HPB.

	INIState KeyState
	HIAState KeyState

	LastError string
}

// Connection is a named bank connection tagged by Protocol — the
// tagged-variant shape the Design Notes call for in place of a
// stringly-typed "type" column. EBICS is populated for ProtocolEBICS; the
// Loopback protocol has no configuration fields of its own.
type Connection struct {
	ID       string
	Name     string
	Protocol Protocol
	EBICS    *EBICSConfig

	mu sync.Mutex
}

// Lock acquires the connection's per-connection mutex, serializing its
// handshake, uploads, downloads, and ledger mutations as required by the
// concurrency model: only one tick-action or one handler may act on a given
// connection at a time.
func (c *Connection) Lock() { c.mu.Lock() }

// Unlock releases the per-connection mutex.
func (c *Connection) Unlock() { c.mu.Unlock() }

// State derives the connection's overall readiness from its INI/HIA/HPB
// progress, per the state machine in the source design:
//
//	unknown -> not_sent : explicit key creation
//	not_sent -> sent    : INI/HIA accepted
//	sent    -> ready    : HPB returned both bank public keys
//	any     -> error    : non-OK return code
func (c *Connection) State() ConnectionState {
	if c.Protocol != ProtocolEBICS || c.EBICS == nil {
		return StateUnknown
	}
	e := c.EBICS
	if e.LastError != "" {
		return StateError
	}
	if e.BankAuthPub != nil && e.BankEncPub != nil {
		return StateReady
	}
	if e.INIState == KeyStateSent && e.HIAState == KeyStateSent {
		return StateSent
	}
	if e.INIState == KeyStateNotSent || e.HIAState == KeyStateNotSent {
		return StateNotSent
	}
	return StateUnknown
}

// Ready reports whether the connection has completed HPB and can exchange
// data order types.
func (c *Connection) Ready() bool {
	return c.State() == StateReady
}
