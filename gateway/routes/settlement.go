package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"offlinesettle/crypto"
	"offlinesettle/gateway/middleware"
	"offlinesettle/native/settlement"
)

const defaultPayoutTimeout = 30 * time.Second

type registerRequest struct {
	Sender     string `json:"sender"`
	Recipient  string `json:"recipient"`
	Amount     string `json:"amount"`
	Nonce      uint64 `json:"nonce"`
	Expiry     uint64 `json:"expiry"`
	DedupToken string `json:"dedupToken"`
	Signature  string `json:"signature"`
}

type disputeRequest struct {
	Evidence string `json:"evidence"`
}

type depositRequest struct {
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

type withdrawRequest struct {
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
}

type memberRequest struct {
	Identity string `json:"identity"`
}

type recordJSON struct {
	ID           string   `json:"id"`
	Sender       string   `json:"sender"`
	Recipient    string   `json:"recipient"`
	Amount       string   `json:"amount"`
	Nonce        uint64   `json:"nonce"`
	Expiry       uint64   `json:"expiry"`
	DedupToken   string   `json:"dedupToken"`
	RegisteredAt uint64   `json:"registeredAt"`
	ResolvedAt   uint64   `json:"resolvedAt,omitempty"`
	Status       string   `json:"status"`
	Relayer      string   `json:"relayer"`
	EvidenceHash string   `json:"evidenceHash,omitempty"`
	Approvers    []string `json:"approvers,omitempty"`
}

type escalationJSON struct {
	Record    recordJSON `json:"record"`
	Approvals []string   `json:"approvals"`
	Quorum    int        `json:"quorum"`
	Finalized bool       `json:"finalized"`
}

type accountJSON struct {
	Identity string `json:"identity"`
	Balance  string `json:"balance"`
	Nonce    uint64 `json:"nonce"`
}

type domainJSON struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           uint64 `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

func identityString(id [20]byte) string { return common.Address(id).Hex() }

func identityList(ids [][20]byte) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = identityString(id)
	}
	return out
}

func recordFrom(rec *settlement.Record) recordJSON {
	out := recordJSON{
		ID:           hexutil.Encode(rec.ID[:]),
		Sender:       identityString(rec.Sender),
		Recipient:    identityString(rec.Recipient),
		Amount:       rec.Amount.Dec(),
		Nonce:        rec.Nonce,
		Expiry:       rec.Expiry,
		DedupToken:   hexutil.Encode(rec.DedupToken[:]),
		RegisteredAt: rec.RegisteredAt,
		ResolvedAt:   rec.ResolvedAt,
		Status:       rec.Status.String(),
		Relayer:      identityString(rec.Relayer),
	}
	if rec.EvidenceHash != ([32]byte{}) {
		out.EvidenceHash = hexutil.Encode(rec.EvidenceHash[:])
	}
	if len(rec.Approvers) > 0 {
		out.Approvers = identityList(rec.Approvers)
	}
	return out
}

// SettlementAPI exposes the executor over HTTP. The caller of every mutating
// route is the identity carried by the bearer token.
type SettlementAPI struct {
	exec          *settlement.Executor
	roles         *settlement.Roles
	logger        *slog.Logger
	payoutTimeout time.Duration
}

func NewSettlementAPI(exec *settlement.Executor, roles *settlement.Roles, logger *slog.Logger) *SettlementAPI {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettlementAPI{
		exec:          exec,
		roles:         roles,
		logger:        logger.With("component", "gateway"),
		payoutTimeout: defaultPayoutTimeout,
	}
}

func (a *SettlementAPI) mountTransfers(r chi.Router) {
	r.Post("/", a.register)
	r.Get("/{id}", a.getRecord)
	r.Post("/{id}/finalize", a.finalize)
	r.Post("/{id}/dispute", a.dispute)
	r.Get("/{id}/approvals", a.getBallot)
	r.Post("/{id}/approvals", a.approve)
}

func (a *SettlementAPI) mountAccounts(r chi.Router) {
	r.Get("/{identity}", a.getAccount)
	r.Post("/deposits", a.deposit)
	r.Post("/withdrawals", a.withdraw)
}

func (a *SettlementAPI) mountRoles(r chi.Router) {
	r.Get("/{role}/members", a.listMembers)
	r.Post("/{role}/members", a.grant)
	r.Delete("/{role}/members/{identity}", a.revoke)
}

func (a *SettlementAPI) domain(w http.ResponseWriter, r *http.Request) {
	d := a.exec.Engine().Verifier().Domain()
	writeJSON(w, http.StatusOK, domainJSON{
		Name:              d.Name,
		Version:           d.Version,
		ChainID:           d.ChainID,
		VerifyingContract: identityString(d.VerifyingContract),
	})
}

func decodeBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, requestLimit))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return errors.New("request body is empty")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func caller(w http.ResponseWriter, r *http.Request) ([20]byte, bool) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "Unauthenticated", errors.New("caller identity required"))
		return [20]byte{}, false
	}
	return id, true
}

func parseIdentity(field, value string) ([20]byte, error) {
	id, err := crypto.ParseIdentity(value)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%s: %w", field, err)
	}
	return id, nil
}

func parseAmount(value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, errors.New("amount required")
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	return amount, nil
}

func parseHash(field, value string) ([32]byte, error) {
	raw, err := hexutil.Decode(strings.TrimSpace(value))
	if err != nil {
		return [32]byte{}, fmt.Errorf("%s: %w", field, err)
	}
	if len(raw) != 32 {
		return [32]byte{}, fmt.Errorf("%s: expected 32 bytes, got %d", field, len(raw))
	}
	var out [32]byte
	copy(out[:], raw)
	return out, nil
}

func transferID(w http.ResponseWriter, r *http.Request) ([32]byte, bool) {
	id, err := parseHash("id", chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, err)
		return [32]byte{}, false
	}
	return id, true
}

func (a *SettlementAPI) register(w http.ResponseWriter, r *http.Request) {
	relayer, ok := caller(w, r)
	if !ok {
		return
	}
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	auth := settlement.Authorization{Nonce: req.Nonce, Expiry: req.Expiry}
	var err error
	if auth.Sender, err = parseIdentity("sender", req.Sender); err != nil {
		writeBadRequest(w, err)
		return
	}
	if auth.Recipient, err = parseIdentity("recipient", req.Recipient); err != nil {
		writeBadRequest(w, err)
		return
	}
	if auth.Amount, err = parseAmount(req.Amount); err != nil {
		writeBadRequest(w, err)
		return
	}
	if auth.DedupToken, err = parseHash("dedupToken", req.DedupToken); err != nil {
		writeBadRequest(w, err)
		return
	}
	sig, err := hexutil.Decode(strings.TrimSpace(req.Signature))
	if err != nil {
		writeBadRequest(w, fmt.Errorf("signature: %w", err))
		return
	}
	id, err := a.exec.Register(relayer, auth, sig)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	rec, err := a.exec.Record(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/transfers/"+hexutil.Encode(id[:]))
	writeJSON(w, http.StatusCreated, recordFrom(rec))
}

func (a *SettlementAPI) getRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := transferID(w, r)
	if !ok {
		return
	}
	rec, err := a.exec.Record(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordFrom(rec))
}

func (a *SettlementAPI) finalize(w http.ResponseWriter, r *http.Request) {
	relayer, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := transferID(w, r)
	if !ok {
		return
	}
	rec, err := a.exec.Finalize(relayer, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordFrom(rec))
}

func (a *SettlementAPI) dispute(w http.ResponseWriter, r *http.Request) {
	party, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := transferID(w, r)
	if !ok {
		return
	}
	var req disputeRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	rec, err := a.exec.Dispute(party, id, []byte(req.Evidence))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordFrom(rec))
}

func (a *SettlementAPI) getBallot(w http.ResponseWriter, r *http.Request) {
	id, ok := transferID(w, r)
	if !ok {
		return
	}
	ballot, err := a.exec.Ballot(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"approvals": identityList(ballot),
		"quorum":    settlement.EscalationQuorum,
	})
}

func (a *SettlementAPI) approve(w http.ResponseWriter, r *http.Request) {
	approver, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := transferID(w, r)
	if !ok {
		return
	}
	result, err := a.exec.ApproveForceFinalize(approver, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, escalationJSON{
		Record:    recordFrom(result.Record),
		Approvals: identityList(result.Approvals),
		Quorum:    settlement.EscalationQuorum,
		Finalized: result.Finalized,
	})
}

func (a *SettlementAPI) getAccount(w http.ResponseWriter, r *http.Request) {
	id, err := parseIdentity("identity", chi.URLParam(r, "identity"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	balance, err := a.exec.Balance(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	nonce, err := a.exec.Nonce(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountJSON{Identity: identityString(id), Balance: balance.Dec(), Nonce: nonce})
}

// deposit credits funds that arrived through an external channel. Only admins
// may record deposits.
func (a *SettlementAPI) deposit(w http.ResponseWriter, r *http.Request) {
	operator, ok := caller(w, r)
	if !ok {
		return
	}
	if a.roles == nil || !a.roles.HasRole(operator, settlement.RoleAdmin) {
		writeEngineError(w, settlement.ErrUnauthorized)
		return
	}
	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	owner, err := parseIdentity("owner", req.Owner)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	balance, err := a.exec.Deposit(owner, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountJSON{Identity: identityString(owner), Balance: balance.Dec()})
}

func (a *SettlementAPI) withdraw(w http.ResponseWriter, r *http.Request) {
	owner, ok := caller(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	destination, err := parseIdentity("destination", req.Destination)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), a.payoutTimeout)
	defer cancel()
	balance, err := a.exec.Withdraw(ctx, owner, destination, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountJSON{Identity: identityString(owner), Balance: balance.Dec()})
}

func (a *SettlementAPI) roleParam(w http.ResponseWriter, r *http.Request) (settlement.Role, bool) {
	if a.roles == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "Unavailable", errors.New("role management disabled"))
		return "", false
	}
	role, err := settlement.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "NotFound", err)
		return "", false
	}
	return role, true
}

func (a *SettlementAPI) listMembers(w http.ResponseWriter, r *http.Request) {
	role, ok := a.roleParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"role":    role,
		"members": identityList(a.roles.Members(role)),
	})
}

func (a *SettlementAPI) grant(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	role, ok := a.roleParam(w, r)
	if !ok {
		return
	}
	var req memberRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	member, err := parseIdentity("identity", req.Identity)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := a.exec.Grant(admin, role, member); err != nil {
		a.writeRoleError(w, err)
		return
	}
	a.logger.Info("role granted", "role", string(role), "member", identityString(member), "admin", identityString(admin))
	w.WriteHeader(http.StatusNoContent)
}

func (a *SettlementAPI) revoke(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	role, ok := a.roleParam(w, r)
	if !ok {
		return
	}
	member, err := parseIdentity("identity", chi.URLParam(r, "identity"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := a.exec.Revoke(admin, role, member); err != nil {
		a.writeRoleError(w, err)
		return
	}
	a.logger.Info("role revoked", "role", string(role), "member", identityString(member), "admin", identityString(admin))
	w.WriteHeader(http.StatusNoContent)
}

func (a *SettlementAPI) writeRoleError(w http.ResponseWriter, err error) {
	if errors.Is(err, settlement.ErrLastAdmin) {
		writeJSONError(w, http.StatusConflict, "LastAdmin", err)
		return
	}
	if settlement.Kind(err) == "Internal" {
		a.logger.Error("role update failed", "error", err)
	}
	writeEngineError(w, err)
}
