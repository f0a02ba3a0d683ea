package httpapi

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"sync"

	"github.com/nexusbank/gateway/internal/connection"
	"github.com/nexusbank/gateway/internal/store"
)

// registry keeps one live *connection.Connection per persisted
// ConnectionRecord. A store row alone cannot serialize handshake/upload/
// download calls against it; registry is what turns the DB row into the
// single long-lived object connection.Connection.Lock actually guards, so
// two concurrent HTTP requests against the same connection id serialize
// the way the concurrency model requires regardless of which goroutine
// reaches it first.
type registry struct {
	mu   sync.Mutex
	byID map[string]*connection.Connection
}

func newRegistry() *registry {
	return &registry{byID: make(map[string]*connection.Connection)}
}

// get returns the live connection for id, constructing and caching it from
// rec on first use.
func (r *registry) get(rec store.ConnectionRecord) (*connection.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.byID[rec.ID]; ok {
		return conn, nil
	}
	conn, err := recordToConnection(rec)
	if err != nil {
		return nil, err
	}
	r.byID[rec.ID] = conn
	return conn, nil
}

// forget drops id from the cache, e.g. after its record is deleted.
func (r *registry) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

func recordToConnection(rec store.ConnectionRecord) (*connection.Connection, error) {
	conn := &connection.Connection{
		ID:       rec.ID,
		Name:     rec.Name,
		Protocol: connection.Protocol(rec.Protocol),
	}
	if conn.Protocol != connection.ProtocolEBICS {
		return conn, nil
	}

	sigKey, err := parsePrivateKey(rec.SigKeyPKCS8)
	if err != nil {
		return nil, fmt.Errorf("parse sig key: %w", err)
	}
	authKey, err := parsePrivateKey(rec.AuthKeyPKCS8)
	if err != nil {
		return nil, fmt.Errorf("parse auth key: %w", err)
	}
	encKey, err := parsePrivateKey(rec.EncKeyPKCS8)
	if err != nil {
		return nil, fmt.Errorf("parse enc key: %w", err)
	}
	bankAuthPub, err := parsePublicKey(rec.BankAuthPubPKIX)
	if err != nil {
		return nil, fmt.Errorf("parse bank auth pub: %w", err)
	}
	bankEncPub, err := parsePublicKey(rec.BankEncPubPKIX)
	if err != nil {
		return nil, fmt.Errorf("parse bank enc pub: %w", err)
	}

	conn.EBICS = &connection.EBICSConfig{
		BaseURL:   rec.EBICSBaseURL,
		HostID:    rec.EBICSHostID,
		PartnerID: rec.EBICSPartnerID,
		UserID:    rec.EBICSUserID,
		SystemID:  rec.EBICSSystemID,

		SigKey:  sigKey,
		AuthKey: authKey,
		EncKey:  encKey,

		BankAuthPub: bankAuthPub,
		BankEncPub:  bankEncPub,

		INIState:  connection.KeyState(rec.INIState),
		HIAState:  connection.KeyState(rec.HIAState),
		LastError: rec.LastError,
	}
	return conn, nil
}

// connectionToRecord captures conn's current mutable EBICS state back into
// rec, so changes SendINI/SendHIA/FetchHPB make to the in-memory
// connection.Connection persist across requests.
func connectionToRecord(conn *connection.Connection, rec store.ConnectionRecord) (store.ConnectionRecord, error) {
	if conn.Protocol != connection.ProtocolEBICS || conn.EBICS == nil {
		return rec, nil
	}
	e := conn.EBICS
	rec.INIState = string(e.INIState)
	rec.HIAState = string(e.HIAState)
	rec.LastError = e.LastError

	if e.BankAuthPub != nil {
		der, err := x509.MarshalPKIXPublicKey(e.BankAuthPub)
		if err != nil {
			return rec, fmt.Errorf("marshal bank auth pub: %w", err)
		}
		rec.BankAuthPubPKIX = der
	}
	if e.BankEncPub != nil {
		der, err := x509.MarshalPKIXPublicKey(e.BankEncPub)
		if err != nil {
			return rec, fmt.Errorf("marshal bank enc pub: %w", err)
		}
		rec.BankEncPubPKIX = der
	}
	return rec, nil
}

func parsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if len(der) == 0 {
		return nil, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an rsa private key")
	}
	return rsaKey, nil
}

func parsePublicKey(der []byte) (*rsa.PublicKey, error) {
	if len(der) == 0 {
		return nil, nil
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an rsa public key")
	}
	return rsaKey, nil
}
