package connection

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"github.com/nexusbank/gateway/internal/store"
)

// ToRecord flattens c into its persisted byte-blob shape for storage.
func ToRecord(c *Connection) (store.ConnectionRecord, error) {
	rec := store.ConnectionRecord{
		ID:       c.ID,
		Name:     c.Name,
		Protocol: string(c.Protocol),
	}
	if c.Protocol != ProtocolEBICS || c.EBICS == nil {
		return rec, nil
	}
	e := c.EBICS
	rec.EBICSBaseURL = e.BaseURL
	rec.EBICSHostID = e.HostID
	rec.EBICSPartnerID = e.PartnerID
	rec.EBICSUserID = e.UserID
	rec.EBICSSystemID = e.SystemID
	rec.INIState = string(e.INIState)
	rec.HIAState = string(e.HIAState)
	rec.LastError = e.LastError

	var err error
	if rec.AuthKeyPKCS8, err = marshalPrivate(e.AuthKey); err != nil {
		return store.ConnectionRecord{}, fmt.Errorf("marshal auth key: %w", err)
	}
	if rec.EncKeyPKCS8, err = marshalPrivate(e.EncKey); err != nil {
		return store.ConnectionRecord{}, fmt.Errorf("marshal enc key: %w", err)
	}
	if rec.SigKeyPKCS8, err = marshalPrivate(e.SigKey); err != nil {
		return store.ConnectionRecord{}, fmt.Errorf("marshal sig key: %w", err)
	}
	if rec.BankAuthPubPKIX, err = marshalPublic(e.BankAuthPub); err != nil {
		return store.ConnectionRecord{}, fmt.Errorf("marshal bank auth pub: %w", err)
	}
	if rec.BankEncPubPKIX, err = marshalPublic(e.BankEncPub); err != nil {
		return store.ConnectionRecord{}, fmt.Errorf("marshal bank enc pub: %w", err)
	}
	return rec, nil
}

// FromRecord rebuilds a live Connection from its persisted byte-blob shape.
func FromRecord(rec store.ConnectionRecord) (*Connection, error) {
	c := &Connection{
		ID:       rec.ID,
		Name:     rec.Name,
		Protocol: Protocol(rec.Protocol),
	}
	if c.Protocol != ProtocolEBICS {
		return c, nil
	}

	authKey, err := unmarshalPrivate(rec.AuthKeyPKCS8)
	if err != nil {
		return nil, fmt.Errorf("unmarshal auth key: %w", err)
	}
	encKey, err := unmarshalPrivate(rec.EncKeyPKCS8)
	if err != nil {
		return nil, fmt.Errorf("unmarshal enc key: %w", err)
	}
	sigKey, err := unmarshalPrivate(rec.SigKeyPKCS8)
	if err != nil {
		return nil, fmt.Errorf("unmarshal sig key: %w", err)
	}
	bankAuthPub, err := unmarshalPublic(rec.BankAuthPubPKIX)
	if err != nil {
		return nil, fmt.Errorf("unmarshal bank auth pub: %w", err)
	}
	bankEncPub, err := unmarshalPublic(rec.BankEncPubPKIX)
	if err != nil {
		return nil, fmt.Errorf("unmarshal bank enc pub: %w", err)
	}

	c.EBICS = &EBICSConfig{
		BaseURL:     rec.EBICSBaseURL,
		HostID:      rec.EBICSHostID,
		PartnerID:   rec.EBICSPartnerID,
		UserID:      rec.EBICSUserID,
		SystemID:    rec.EBICSSystemID,
		AuthKey:     authKey,
		EncKey:      encKey,
		SigKey:      sigKey,
		BankAuthPub: bankAuthPub,
		BankEncPub:  bankEncPub,
		INIState:    KeyState(rec.INIState),
		HIAState:    KeyState(rec.HIAState),
		LastError:   rec.LastError,
	}
	return c, nil
}

func marshalPrivate(k *rsa.PrivateKey) ([]byte, error) {
	if k == nil {
		return nil, nil
	}
	return x509.MarshalPKCS8PrivateKey(k)
}

func unmarshalPrivate(der []byte) (*rsa.PrivateKey, error) {
	if len(der) == 0 {
		return nil, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key")
	}
	return rsaKey, nil
}

func marshalPublic(k *rsa.PublicKey) ([]byte, error) {
	if k == nil {
		return nil, nil
	}
	return x509.MarshalPKIXPublicKey(k)
}

func unmarshalPublic(der []byte) (*rsa.PublicKey, error) {
	if len(der) == 0 {
		return nil, nil
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaKey, nil
}
