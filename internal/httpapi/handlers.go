package httpapi

import (
	"crypto/x509"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nexusbank/gateway/internal/connection"
	"github.com/nexusbank/gateway/internal/ebics"
	"github.com/nexusbank/gateway/internal/ebicscrypto"
	"github.com/nexusbank/gateway/internal/gwerrors"
	"github.com/nexusbank/gateway/internal/iso20022"
	"github.com/nexusbank/gateway/internal/payment"
	"github.com/nexusbank/gateway/internal/store"
)

type handlers struct {
	deps     Deps
	registry *registry
}

// --- connection lifecycle ---

type createConnectionRequest struct {
	Name      string `json:"name"`
	Protocol  string `json:"protocol"`
	BaseURL   string `json:"base_url"`
	HostID    string `json:"host_id"`
	PartnerID string `json:"partner_id"`
	UserID    string `json:"user_id"`
	SystemID  string `json:"system_id,omitempty"`
}

type connectionResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

func (h *handlers) createConnection(w http.ResponseWriter, r *http.Request) {
	var req createConnectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Protocol == "" {
		req.Protocol = string(connection.ProtocolEBICS)
	}

	rec := store.ConnectionRecord{
		ID:       uuid.NewString(),
		Name:     req.Name,
		Protocol: req.Protocol,
	}

	if connection.Protocol(req.Protocol) == connection.ProtocolEBICS {
		sigKey, err := ebicscrypto.GenerateRSA(ebicscrypto.MinKeyBits)
		if err != nil {
			writeError(w, gwerrors.Wrap(gwerrors.KindCrypto, "generate signature key", err))
			return
		}
		authKey, err := ebicscrypto.GenerateRSA(ebicscrypto.MinKeyBits)
		if err != nil {
			writeError(w, gwerrors.Wrap(gwerrors.KindCrypto, "generate authentication key", err))
			return
		}
		encKey, err := ebicscrypto.GenerateRSA(ebicscrypto.MinKeyBits)
		if err != nil {
			writeError(w, gwerrors.Wrap(gwerrors.KindCrypto, "generate encryption key", err))
			return
		}

		sigDER, err1 := x509.MarshalPKCS8PrivateKey(sigKey)
		authDER, err2 := x509.MarshalPKCS8PrivateKey(authKey)
		encDER, err3 := x509.MarshalPKCS8PrivateKey(encKey)
		if err := firstErr(err1, err2, err3); err != nil {
			writeError(w, gwerrors.Wrap(gwerrors.KindCrypto, "marshal generated keys", err))
			return
		}

		rec.EBICSBaseURL = req.BaseURL
		rec.EBICSHostID = req.HostID
		rec.EBICSPartnerID = req.PartnerID
		rec.EBICSUserID = req.UserID
		rec.EBICSSystemID = req.SystemID
		rec.SigKeyPKCS8 = sigDER
		rec.AuthKeyPKCS8 = authDER
		rec.EncKeyPKCS8 = encDER
		rec.INIState = string(connection.KeyStateNotSent)
		rec.HIAState = string(connection.KeyStateNotSent)
	}

	if err := h.deps.Store.CreateConnection(r.Context(), rec); err != nil {
		writeError(w, gwerrors.Wrap(gwerrors.KindInternal, "create connection", err))
		return
	}

	conn, err := h.registry.get(rec)
	if err != nil {
		writeError(w, gwerrors.Wrap(gwerrors.KindInternal, "build connection", err))
		return
	}
	writeJSON(w, http.StatusCreated, connectionResponse{ID: conn.ID, Name: conn.Name, State: string(conn.State())})
}

func (h *handlers) deleteConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "connID")
	if err := h.deps.Store.DeleteConnection(r.Context(), id); err != nil {
		writeError(w, gwerrors.Wrap(gwerrors.KindInternal, "delete connection", err))
		return
	}
	h.registry.forget(id)
	w.WriteHeader(http.StatusNoContent)
}

// loadConnection fetches rec and its live connection.Connection for connID,
// writing a not-found response and returning ok=false if it does not exist.
func (h *handlers) loadConnection(w http.ResponseWriter, r *http.Request, connID string) (store.ConnectionRecord, *connection.Connection, bool) {
	rec, found, err := h.deps.Store.GetConnection(r.Context(), connID)
	if err != nil {
		writeError(w, gwerrors.Wrap(gwerrors.KindInternal, "get connection", err))
		return store.ConnectionRecord{}, nil, false
	}
	if !found {
		writeError(w, gwerrors.New(gwerrors.KindNotFound, "connection not found"))
		return store.ConnectionRecord{}, nil, false
	}
	conn, err := h.registry.get(rec)
	if err != nil {
		writeError(w, gwerrors.Wrap(gwerrors.KindInternal, "build connection", err))
		return store.ConnectionRecord{}, nil, false
	}
	return rec, conn, true
}

// persistHandshakeState saves conn's post-handshake-call EBICS state back to
// its record, so SendINI/SendHIA/FetchHPB's mutations outlive the request.
func (h *handlers) persistHandshakeState(r *http.Request, rec store.ConnectionRecord, conn *connection.Connection) error {
	rec, err := connectionToRecord(conn, rec)
	if err != nil {
		return err
	}
	return h.deps.Store.UpdateConnection(r.Context(), rec)
}

func (h *handlers) sendINI(w http.ResponseWriter, r *http.Request) {
	rec, conn, ok := h.loadConnection(w, r, chi.URLParam(r, "connID"))
	if !ok {
		return
	}
	conn.Lock()
	err := ebics.SendINI(r.Context(), h.deps.Transport, conn.EBICS)
	conn.Unlock()
	if perr := h.persistHandshakeState(r, rec, conn); perr != nil {
		writeError(w, gwerrors.Wrap(gwerrors.KindInternal, "persist connection state", perr))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, connectionResponse{ID: conn.ID, Name: conn.Name, State: string(conn.State())})
}

func (h *handlers) sendHIA(w http.ResponseWriter, r *http.Request) {
	rec, conn, ok := h.loadConnection(w, r, chi.URLParam(r, "connID"))
	if !ok {
		return
	}
	conn.Lock()
	err := ebics.SendHIA(r.Context(), h.deps.Transport, conn.EBICS)
	conn.Unlock()
	if perr := h.persistHandshakeState(r, rec, conn); perr != nil {
		writeError(w, gwerrors.Wrap(gwerrors.KindInternal, "persist connection state", perr))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, connectionResponse{ID: conn.ID, Name: conn.Name, State: string(conn.State())})
}

func (h *handlers) fetchHPB(w http.ResponseWriter, r *http.Request) {
	rec, conn, ok := h.loadConnection(w, r, chi.URLParam(r, "connID"))
	if !ok {
		return
	}
	conn.Lock()
	err := ebics.FetchHPB(r.Context(), h.deps.Transport, conn.EBICS)
	conn.Unlock()
	if perr := h.persistHandshakeState(r, rec, conn); perr != nil {
		writeError(w, gwerrors.Wrap(gwerrors.KindInternal, "persist connection state", perr))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, connectionResponse{ID: conn.ID, Name: conn.Name, State: string(conn.State())})
}

// --- accounts ---

type createAccountRequest struct {
	IBAN   string `json:"iban"`
	BIC    string `json:"bic"`
	Holder string `json:"holder"`
}

type accountResponse struct {
	ID     string `json:"id"`
	IBAN   string `json:"iban"`
	BIC    string `json:"bic"`
	Holder string `json:"holder"`
}

func (h *handlers) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := iso20022.ValidateIBAN(req.IBAN); err != nil {
		writeError(w, gwerrors.Wrap(gwerrors.KindBadRequest, "invalid iban", err))
		return
	}

	connID := chi.URLParam(r, "connID")
	rec := store.AccountRecord{
		ID:           uuid.NewString(),
		ConnectionID: connID,
		IBAN:         req.IBAN,
		BIC:          req.BIC,
		Holder:       req.Holder,
	}
	if err := h.deps.Store.CreateAccount(r.Context(), rec); err != nil {
		writeError(w, gwerrors.Wrap(gwerrors.KindInternal, "create account", err))
		return
	}
	writeJSON(w, http.StatusCreated, accountResponse{ID: rec.ID, IBAN: rec.IBAN, BIC: rec.BIC, Holder: rec.Holder})
}

// importHTD downloads the bank's HTD account directory and, when it
// carries an entry matching the target account's IBAN, updates that
// account's BIC and holder name from what the bank reports. Accounts
// themselves are still created explicitly via createAccount; this only
// refreshes an existing account's directory fields, it never creates new
// ones, since HTD's IBAN-only match has no way to pick a target account ID
// for an entry the caller hasn't already registered.
func (h *handlers) importHTD(w http.ResponseWriter, r *http.Request) {
	_, conn, ok := h.loadConnection(w, r, chi.URLParam(r, "connID"))
	if !ok {
		return
	}
	if !conn.Ready() {
		writeError(w, gwerrors.New(gwerrors.KindState, "connection has not completed key exchange"))
		return
	}

	accountID := chi.URLParam(r, "accountID")
	acct, found, err := h.deps.Store.GetAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, gwerrors.Wrap(gwerrors.KindInternal, "load account", err))
		return
	}
	if !found {
		writeError(w, gwerrors.New(gwerrors.KindNotFound, "account not found"))
		return
	}

	conn.Lock()
	res, err := ebics.Download(r.Context(), h.deps.Transport, conn.EBICS, ebics.OrderHTD, time.Time{}, time.Time{})
	conn.Unlock()
	if err != nil {
		writeError(w, err)
		return
	}

	accounts, err := iso20022.ParseHTD(res.OrderData)
	if err != nil {
		writeError(w, gwerrors.Wrap(gwerrors.KindParse, "parse htd", err))
		return
	}

	matched := false
	for _, a := range accounts {
		if a.IBAN != acct.IBAN {
			continue
		}
		matched = true
		acct.BIC = a.BIC
		acct.Holder = a.Name
		break
	}
	if !matched {
		writeError(w, gwerrors.New(gwerrors.KindNotFound, "bank directory has no entry for this account's iban"))
		return
	}

	if err := h.deps.Store.UpdateAccount(r.Context(), acct); err != nil {
		writeError(w, gwerrors.Wrap(gwerrors.KindInternal, "update account", err))
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{ID: acct.ID, IBAN: acct.IBAN, BIC: acct.BIC, Holder: acct.Holder})
}

// --- payments ---

type preparePaymentRequest struct {
	CreditorName      string `json:"creditor_name"`
	CreditorIBAN      string `json:"creditor_iban"`
	CreditorBIC       string `json:"creditor_bic"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	RemittanceSubject string `json:"remittance_subject"`
}

func (h *handlers) preparePayment(w http.ResponseWriter, r *http.Request) {
	var req preparePaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := payment.Prepare(r.Context(), h.deps.Store, h.deps.Clock, payment.PrepareRequest{
		AccountID:         chi.URLParam(r, "accountID"),
		CreditorName:      req.CreditorName,
		CreditorIBAN:      req.CreditorIBAN,
		CreditorBIC:       req.CreditorBIC,
		Amount:            req.Amount,
		Currency:          req.Currency,
		RemittanceSubject: req.RemittanceSubject,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *handlers) listPayments(w http.ResponseWriter, r *http.Request) {
	recs, err := h.deps.Store.ListSubmittablePayments(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, gwerrors.Wrap(gwerrors.KindInternal, "list payments", err))
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// --- transactions ---

func (h *handlers) listTransactions(w http.ResponseWriter, r *http.Request) {
	recs, err := h.deps.Store.ListTransactionsByAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, gwerrors.Wrap(gwerrors.KindInternal, "list transactions", err))
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// --- json helpers ---

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, gwerrors.Wrap(gwerrors.KindBadRequest, "decode request body", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if ge, ok := err.(*gwerrors.GatewayError); ok {
		status = statusForKind(ge.Kind)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusForKind(kind gwerrors.Kind) int {
	switch kind {
	case gwerrors.KindBadRequest:
		return http.StatusBadRequest
	case gwerrors.KindNotFound:
		return http.StatusNotFound
	case gwerrors.KindState:
		return http.StatusConflict
	case gwerrors.KindProtocol, gwerrors.KindParse:
		return http.StatusBadGateway
	case gwerrors.KindTransport:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
