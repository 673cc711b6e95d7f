package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/bitfsorg/libmatrix-go/contract"
	"github.com/bitfsorg/libmatrix-go/ledger"
	"github.com/bitfsorg/libmatrix-go/upline"
	"github.com/bitfsorg/libmatrix-go/wallet"
)

const (
	defaultReceiptLimit = 50
	maxReceiptLimit     = 500
)

// Signed is the authentication part of a mutating request.
type Signed struct {
	Account   string `json:"account" binding:"required"`
	PubKey    string `json:"pub_key" binding:"required"`
	Signature string `json:"signature" binding:"required"`
	Deadline  int64  `json:"deadline" binding:"required"`
}

func (s *Signed) auth() *Signed { return s }

func (s *Signed) address() string {
	return common.HexToAddress(s.Account).Hex()
}

func (s *Signed) deadline() string {
	return strconv.FormatInt(s.Deadline, 10)
}

// SignedAction is a request whose Fields are covered by its signature.
type SignedAction interface {
	Action() string
	Fields() []string
	auth() *Signed
}

// Sign sets the account, key and signature of req for acct. The deadline
// and every other field must already be set.
func Sign(req SignedAction, acct *wallet.Account) error {
	a := req.auth()
	a.Account = acct.Address.Hex()
	a.PubKey = acct.PubKeyHex()
	sig, err := wallet.SignAction(acct.PrivateKey, req.Action(), req.Fields()...)
	if err != nil {
		return err
	}
	a.Signature = sig
	return nil
}

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	Signed
	ReferrerID uint64 `json:"referrer_id"`
	Payment    uint64 `json:"payment"`
}

func (r *RegisterRequest) Action() string { return "register" }

func (r *RegisterRequest) Fields() []string {
	return []string{
		r.address(),
		strconv.FormatUint(r.ReferrerID, 10),
		strconv.FormatUint(r.Payment, 10),
		r.deadline(),
	}
}

// UpgradeRequest is the body of POST /upgrade. A zero UserID upgrades the
// account's own user. FromLevel is the user's current level; once the
// upgrade is applied the same signed request fails with stale_level.
type UpgradeRequest struct {
	Signed
	UserID    uint64 `json:"user_id"`
	FromLevel uint8  `json:"from_level"`
	Levels    uint8  `json:"levels"`
	Payment   uint64 `json:"payment"`
}

func (r *UpgradeRequest) Action() string { return "upgrade" }

func (r *UpgradeRequest) Fields() []string {
	return []string{
		r.address(),
		strconv.FormatUint(r.UserID, 10),
		strconv.FormatUint(uint64(r.FromLevel), 10),
		strconv.FormatUint(uint64(r.Levels), 10),
		strconv.FormatUint(r.Payment, 10),
		r.deadline(),
	}
}

// ClaimRequest is the body of POST /royalty/claim.
type ClaimRequest struct {
	Signed
	UserID uint64 `json:"user_id"`
	Tier   uint8  `json:"tier"`
}

func (r *ClaimRequest) Action() string { return "claim" }

func (r *ClaimRequest) Fields() []string {
	return []string{
		r.address(),
		strconv.FormatUint(r.UserID, 10),
		strconv.FormatUint(uint64(r.Tier), 10),
		r.deadline(),
	}
}

// AdminRequest is the body of the owner routes. Amount is only read by
// POST /admin/withdraw.
type AdminRequest struct {
	Signed
	Op     string `json:"-"`
	Amount uint64 `json:"amount"`
}

func (r *AdminRequest) Action() string { return r.Op }

func (r *AdminRequest) Fields() []string {
	return []string{r.address(), strconv.FormatUint(r.Amount, 10), r.deadline()}
}

// verify checks the deadline and signature of req and returns the signer.
func (s *Server) verify(req SignedAction) (common.Address, error) {
	a := req.auth()
	if !common.IsHexAddress(a.Account) {
		return common.Address{}, fmt.Errorf("%w: %q", contract.ErrInvalidAccount, a.Account)
	}
	account := common.HexToAddress(a.Account)

	now := s.now()
	deadline := time.Unix(a.Deadline, 0)
	if now.After(deadline) {
		return common.Address{}, fmt.Errorf("%w: %s", ErrExpired, deadline.UTC().Format(time.RFC3339))
	}
	if deadline.Sub(now) > s.window {
		return common.Address{}, fmt.Errorf("%w: %s", ErrDeadlineTooFar, deadline.UTC().Format(time.RFC3339))
	}
	if _, err := wallet.VerifyAction(a.PubKey, a.Signature, account, req.Action(), req.Fields()...); err != nil {
		return common.Address{}, err
	}
	return account, nil
}

// bindSigned decodes the body into req and verifies it. On failure it has
// already written the response.
func (s *Server) bindSigned(c *gin.Context, req SignedAction) (common.Address, bool) {
	if err := c.ShouldBindJSON(req); err != nil {
		fail(c, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return common.Address{}, false
	}
	account, err := s.verify(req)
	if err != nil {
		s.log.Warn(fmt.Sprintf("api: %s rejected: %v", req.Action(), err))
		fail(c, err)
		return common.Address{}, false
	}
	return account, true
}

// committed writes the receipt of a mutating call. A transfer failure still
// carries the committed receipt.
func committed(c *gin.Context, r *ledger.Receipt, err error, extra gin.H) {
	if err != nil && (r == nil || !errors.Is(err, contract.ErrTransferFailed)) {
		fail(c, err)
		return
	}
	body := gin.H{"receipt": receiptView(r)}
	for k, v := range extra {
		body[k] = v
	}
	if err != nil {
		body["error"] = err.Error()
		body["code"] = codeFor(err)
		c.JSON(statusFor(err), body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func parseUint(s string, bits int, name string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrBadRequest, name, s)
	}
	return v, nil
}

func userParam(c *gin.Context) (ledger.UserID, error) {
	v, err := parseUint(c.Param("id"), 64, "user id")
	return ledger.UserID(v), err
}

func tierParam(c *gin.Context) (uint8, error) {
	v, err := parseUint(c.Param("tier"), 8, "tier")
	return uint8(v), err
}

// --- Reads ---

// LevelCosts handles GET /levels/costs. With from and to query values it
// also reports the price of that step.
func (s *Server) LevelCosts(c *gin.Context) {
	costs, err := s.c.LevelCosts(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	body := gin.H{"costs": costs[:]}
	from, to := c.Query("from"), c.Query("to")
	if from != "" || to != "" {
		f, err := parseUint(from, 8, "from")
		if err != nil {
			fail(c, err)
			return
		}
		t, err := parseUint(to, 8, "to")
		if err != nil {
			fail(c, err)
			return
		}
		required, err := s.c.RequiredCost(c.Request.Context(), uint8(f), uint8(t))
		if err != nil {
			fail(c, err)
			return
		}
		body["required"] = required
	}
	c.JSON(http.StatusOK, body)
}

// Stats handles GET /stats.
func (s *Server) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, statsView(s.c.Stats()))
}

// Receipts handles GET /receipts?after=&limit=.
func (s *Server) Receipts(c *gin.Context) {
	after, err := parseUint(c.DefaultQuery("after", "0"), 64, "after")
	if err != nil {
		fail(c, err)
		return
	}
	limit, err := parseUint(c.DefaultQuery("limit", strconv.Itoa(defaultReceiptLimit)), 32, "limit")
	if err != nil {
		fail(c, err)
		return
	}
	if limit == 0 || limit > maxReceiptLimit {
		limit = maxReceiptLimit
	}
	rs, err := s.c.Receipts(after, int(limit))
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]ReceiptView, len(rs))
	for i := range rs {
		out[i] = receiptView(&rs[i])
	}
	c.JSON(http.StatusOK, gin.H{"receipts": out})
}

// Account handles GET /accounts/:address.
func (s *Server) Account(c *gin.Context) {
	addr := c.Param("address")
	if !common.IsHexAddress(addr) {
		fail(c, fmt.Errorf("%w: %q", contract.ErrInvalidAccount, addr))
		return
	}
	id, ok := s.c.UserIDByAccount(common.HexToAddress(addr))
	if !ok {
		fail(c, fmt.Errorf("%w: %s", contract.ErrUnknownUser, addr))
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": uint64(id)})
}

// User handles GET /users/:id.
func (s *Server) User(c *gin.Context) {
	id, err := userParam(c)
	if err != nil {
		fail(c, err)
		return
	}
	u, err := s.c.UserInfo(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, userView(u))
}

// Income handles GET /users/:id/income.
func (s *Server) Income(c *gin.Context) {
	id, err := userParam(c)
	if err != nil {
		fail(c, err)
		return
	}
	in, err := s.c.UserIncome(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, incomeView(in))
}

// Referrals handles GET /users/:id/referrals.
func (s *Server) Referrals(c *gin.Context) {
	id, err := userParam(c)
	if err != nil {
		fail(c, err)
		return
	}
	refs, err := s.c.DirectReferrals(id)
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]UserView, len(refs))
	for i, u := range refs {
		out[i] = userView(u)
	}
	c.JSON(http.StatusOK, gin.H{"referrals": out})
}

// Upline handles GET /users/:id/upline. via selects the matrix chain
// ("matrix", the default) or the sponsor chain ("referrer").
func (s *Server) Upline(c *gin.Context) {
	id, err := userParam(c)
	if err != nil {
		fail(c, err)
		return
	}
	var via upline.Via
	switch v := c.DefaultQuery("via", "matrix"); v {
	case "matrix":
		via = upline.ViaUpline
	case "referrer":
		via = upline.ViaReferrer
	default:
		fail(c, fmt.Errorf("%w: via %q", ErrBadRequest, v))
		return
	}
	depth, err := parseUint(c.DefaultQuery("depth", "0"), 8, "depth")
	if err != nil {
		fail(c, err)
		return
	}
	users, err := s.c.Upline(id, via, int(depth))
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]UserView, len(users))
	for i, u := range users {
		out[i] = userView(u)
	}
	c.JSON(http.StatusOK, gin.H{"upline": out})
}

// Royalty handles GET /users/:id/royalty/:tier.
func (s *Server) Royalty(c *gin.Context) {
	id, err := userParam(c)
	if err != nil {
		fail(c, err)
		return
	}
	tier, err := tierParam(c)
	if err != nil {
		fail(c, err)
		return
	}
	info, err := s.c.RoyaltyInfo(id, tier)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, royaltyView(info))
}

// --- Writes ---

// Register handles POST /register.
func (s *Server) Register(c *gin.Context) {
	var req RegisterRequest
	account, ok := s.bindSigned(c, &req)
	if !ok {
		return
	}
	r, err := s.c.Register(c.Request.Context(), account, ledger.UserID(req.ReferrerID), req.Payment)
	committed(c, r, err, nil)
}

// Upgrade handles POST /upgrade.
func (s *Server) Upgrade(c *gin.Context) {
	var req UpgradeRequest
	account, ok := s.bindSigned(c, &req)
	if !ok {
		return
	}
	r, err := s.c.UpgradeFrom(c.Request.Context(), account, ledger.UserID(req.UserID),
		int(req.FromLevel), req.Levels, req.Payment)
	committed(c, r, err, nil)
}

// Claim handles POST /royalty/claim.
func (s *Server) Claim(c *gin.Context) {
	var req ClaimRequest
	account, ok := s.bindSigned(c, &req)
	if !ok {
		return
	}
	r, err := s.c.ClaimRoyalty(c.Request.Context(), account, ledger.UserID(req.UserID), req.Tier)
	committed(c, r, err, nil)
}

// Distribute handles POST /royalty/:tier/distribute. It needs no signature.
func (s *Server) Distribute(c *gin.Context) {
	tier, err := tierParam(c)
	if err != nil {
		fail(c, err)
		return
	}
	r, d, err := s.c.DistributeRoyalty(c.Request.Context(), tier)
	committed(c, r, err, gin.H{"distribution": gin.H{
		"tier":        d.Tier,
		"members":     d.Members,
		"share":       d.Share,
		"distributed": d.Distributed,
		"remainder":   d.Remainder,
	}})
}

// Admin returns the handler for one owner operation: "pause", "unpause"
// or "withdraw".
func (s *Server) Admin(op string) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := AdminRequest{Op: op}
		account, ok := s.bindSigned(c, &req)
		if !ok {
			return
		}
		var (
			r   *ledger.Receipt
			err error
		)
		switch op {
		case "pause":
			r, err = s.c.Pause(c.Request.Context(), account)
		case "unpause":
			r, err = s.c.Unpause(c.Request.Context(), account)
		default:
			r, err = s.c.EmergencyWithdraw(c.Request.Context(), account, req.Amount)
		}
		committed(c, r, err, nil)
	}
}
