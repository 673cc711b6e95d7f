// Package upline walks the referrer chain or the matrix upline chain and
// pays per-hop shares, redirecting anything that cannot be paid to the root.
package upline

import (
	"fmt"

	"github.com/bitfsorg/libmatrix-go/ledger"
)

// Via selects which link a walk follows.
type Via uint8

const (
	// ViaReferrer follows User.ReferrerID (sponsor chain).
	ViaReferrer Via = iota
	// ViaUpline follows User.UplineID (matrix chain).
	ViaUpline
)

// QualifyFunc reports whether u may receive the share of the given 1-based hop.
// It is never consulted for the root.
type QualifyFunc func(u ledger.User, hop int) bool

// MinLevel qualifies hop h when the user's level is at least h.
func MinLevel(u ledger.User, hop int) bool {
	return int(u.Level) >= hop
}

// AtLeast returns a QualifyFunc requiring a fixed minimum level.
func AtLeast(level uint8) QualifyFunc {
	return func(u ledger.User, _ int) bool { return u.Level >= level }
}

// Walk describes one bounded distribution up a chain.
type Walk struct {
	Start   ledger.UserID
	Via     Via
	Amounts []uint64 // share per hop; hop h pays Amounts[h-1], zero walks past without paying
	Qualify QualifyFunc
	Kind    ledger.PayoutKind
}

// Result is the outcome of a walk.
type Result struct {
	Payouts  []ledger.Payout // paid hops in order, then a single fallback payout if any
	Paid     uint64          // sum paid to qualified hops
	Lost     uint64          // sum redirected to the root
	PaidHops int
}

func next(u ledger.User, via Via) ledger.UserID {
	if via == ViaUpline {
		return u.UplineID
	}
	return u.ReferrerID
}

// Distribute walks from w.Start for len(w.Amounts) hops. Hop 1 is the first
// link above the start. The walk terminates on the sentinel, on the root's
// self-reference, or on a revisited node; every share after termination, and
// the share of any unqualified hop, is credited to the root as fallback
// income and to the start user as lost income. Paid+Lost always equals the
// sum of w.Amounts.
func Distribute(tx *ledger.Tx, w Walk) (Result, error) {
	switch w.Kind {
	case ledger.KindReferral, ledger.KindSponsor, ledger.KindMatrix:
	default:
		return Result{}, fmt.Errorf("%w: %s", ErrInvalidKind, w.Kind)
	}

	start, ok := tx.User(w.Start)
	if !ok {
		return Result{}, fmt.Errorf("%w: %d", ErrUnknownStart, w.Start)
	}
	rootID := tx.Globals().RootID
	root, ok := tx.User(rootID)
	if !ok {
		return Result{}, ErrNoFallback
	}

	var res Result
	seen := map[ledger.UserID]bool{start.ID: true}
	cur := start
	ended := false

	for i, amount := range w.Amounts {
		hop := i + 1

		if !ended {
			nid := next(cur, w.Via)
			if nid == ledger.NoUser || nid == cur.ID || seen[nid] {
				ended = true
			} else if u, ok := tx.User(nid); ok {
				seen[nid] = true
				cur = u
			} else {
				ended = true
			}
		}

		if amount == 0 {
			continue
		}
		if ended || !qualifies(cur, hop, rootID, w.Qualify) {
			res.Lost += amount
			continue
		}

		in, err := tx.MutIncome(cur.ID)
		if err != nil {
			return Result{}, err
		}
		in.Credit(w.Kind, amount)
		res.Paid += amount
		res.PaidHops++
		res.Payouts = append(res.Payouts, ledger.Payout{
			Kind: w.Kind, Hop: hop, UserID: cur.ID, Account: cur.Account, Amount: amount,
		})
	}

	if res.Lost > 0 {
		fin, err := tx.MutIncome(rootID)
		if err != nil {
			return Result{}, err
		}
		fin.Credit(ledger.KindFallback, res.Lost)

		lin, err := tx.MutIncome(start.ID)
		if err != nil {
			return Result{}, err
		}
		lin.LostIncome += res.Lost

		res.Payouts = append(res.Payouts, ledger.Payout{
			Kind: ledger.KindFallback, UserID: rootID, Account: root.Account, Amount: res.Lost,
		})
	}
	return res, nil
}

func qualifies(u ledger.User, hop int, rootID ledger.UserID, q QualifyFunc) bool {
	if u.ID == rootID || q == nil {
		return true
	}
	return q(u, hop)
}

// Path returns up to n users above start along the chosen chain, stopping
// at the same termination points Distribute uses.
func Path(tx *ledger.Tx, start ledger.UserID, via Via, n int) []ledger.UserID {
	cur, ok := tx.User(start)
	if !ok {
		return nil
	}
	seen := map[ledger.UserID]bool{start: true}
	var out []ledger.UserID
	for len(out) < n {
		nid := next(cur, via)
		if nid == ledger.NoUser || nid == cur.ID || seen[nid] {
			break
		}
		u, ok := tx.User(nid)
		if !ok {
			break
		}
		seen[nid] = true
		out = append(out, nid)
		cur = u
	}
	return out
}
