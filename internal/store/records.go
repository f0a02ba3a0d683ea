package store

// The record types below realize the abstract persistence layout of §6:
// tables for connections, subscribers (folded into ConnectionRecord's key
// material), bank accounts, prepared payments, raw bank messages, normalized
// transactions, and a key/value table of per-connection scalar state.

type ConnectionRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Protocol string `json:"protocol"`

	EBICSBaseURL   string `json:"ebics_base_url,omitempty"`
	EBICSHostID    string `json:"ebics_host_id,omitempty"`
	EBICSPartnerID string `json:"ebics_partner_id,omitempty"`
	EBICSUserID    string `json:"ebics_user_id,omitempty"`
	EBICSSystemID  string `json:"ebics_system_id,omitempty"`

	AuthKeyPKCS8 []byte `json:"auth_key_pkcs8,omitempty"`
	EncKeyPKCS8  []byte `json:"enc_key_pkcs8,omitempty"`
	SigKeyPKCS8  []byte `json:"sig_key_pkcs8,omitempty"`

	BankAuthPubPKIX []byte `json:"bank_auth_pub_pkix,omitempty"`
	BankEncPubPKIX  []byte `json:"bank_enc_pub_pkix,omitempty"`

	INIState string `json:"ini_state"`
	HIAState string `json:"hia_state"`

	LastError string `json:"last_error,omitempty"`
}

type AccountRecord struct {
	ID                      string `json:"id"`
	ConnectionID            string `json:"connection_id"`
	IBAN                    string `json:"iban"`
	BIC                     string `json:"bic"`
	Holder                  string `json:"holder"`
	HighestSeenBankMessageID int64  `json:"highest_seen_bank_message_id"`
}

type PaymentRecord struct {
	ID                  string `json:"id"`
	AccountID           string `json:"account_id"`
	CreditorIBAN        string `json:"creditor_iban"`
	CreditorBIC         string `json:"creditor_bic"`
	CreditorName        string `json:"creditor_name"`
	Amount              string `json:"amount"`
	Currency            string `json:"currency"`
	RemittanceSubject   string `json:"remittance_subject"`
	PreparedAtUnixMs    int64  `json:"prepared_at_unix_ms"`
	EndToEndID          string `json:"end_to_end_id"`
	PaymentInfoID       string `json:"payment_info_id"`
	MessageID           string `json:"message_id"`

	Submitted           bool   `json:"submitted"`
	Invalid             bool   `json:"invalid"`
	InvalidReason       string `json:"invalid_reason,omitempty"`
	SubmissionAtUnixMs  int64  `json:"submission_at_unix_ms,omitempty"`

	ReconciledTxID string `json:"reconciled_tx_id,omitempty"`
}

type RawMessageRecord struct {
	ConnectionID    string `json:"connection_id"`
	BankMessageID   string `json:"bank_message_id"`
	AccountID       string `json:"account_id"`
	XML             []byte `json:"xml"`
	Quarantined     bool   `json:"quarantined"`
	QuarantineReason string `json:"quarantine_reason,omitempty"`
}

type TransactionRecord struct {
	ID                  string `json:"id"`
	AccountID           string `json:"account_id"`
	BookingAccountIBAN  string `json:"booking_account_iban"`
	CounterpartIBAN     string `json:"counterpart_iban"`
	CounterpartBIC      string `json:"counterpart_bic"`
	CounterpartName     string `json:"counterpart_name"`
	Amount              string `json:"amount"`
	Currency            string `json:"currency"`
	BookingDateUnixMs   int64  `json:"booking_date_unix_ms"`
	ValueDateUnixMs     int64  `json:"value_date_unix_ms"`
	UnstructuredRemit   string `json:"unstructured_remit"`
	Direction           string `json:"direction"`
	Status              string `json:"status"`
	IsBatch             bool   `json:"is_batch"`
	BankTxCodeISO       string `json:"bank_tx_code_iso,omitempty"`
	BankTxCodeProprietary string `json:"bank_tx_code_proprietary,omitempty"`
	EndToEndID          string `json:"end_to_end_id,omitempty"`
	BankEntryReference  string `json:"bank_entry_reference"`
}
