package ledger

import (
	"fmt"
	"sort"
)

// CheckInvariants verifies the structural invariants of a ledger state:
// income sums, matrix width and back-links, team counts, direct counts,
// root self-reference, royalty membership records and the held royalty
// balance. It returns the first
// violation found, wrapped in ErrInvariant.
func CheckInvariants(s *State) error {
	if s == nil {
		return fmt.Errorf("%w: state", ErrNilParam)
	}

	ids := make([]UserID, 0, len(s.Users))
	for id := range s.Users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		u := s.Users[id]
		if !u.Exists {
			continue
		}

		in, ok := s.Incomes[id]
		if !ok {
			return fmt.Errorf("%w: user %d has no income record", ErrInvariant, id)
		}
		if in.TotalIncome != in.ReferralIncome+in.SponsorIncome+in.MatrixIncome {
			return fmt.Errorf("%w: user %d total income %d != referral %d + sponsor %d + matrix %d",
				ErrInvariant, id, in.TotalIncome, in.ReferralIncome, in.SponsorIncome, in.MatrixIncome)
		}

		if u.Level < 1 || u.Level > MaxLevel {
			return fmt.Errorf("%w: user %d level %d", ErrInvariant, id, u.Level)
		}
		if owner, ok := s.Accounts[u.Account]; !ok || owner != id {
			return fmt.Errorf("%w: account %s not indexed to user %d", ErrInvariant, u.Account.Hex(), id)
		}

		if len(u.Children) > MatrixWidth {
			return fmt.Errorf("%w: user %d has %d matrix children", ErrInvariant, id, len(u.Children))
		}
		var team uint64
		for _, cid := range u.Children {
			c, ok := s.Users[cid]
			if !ok || !c.Exists {
				return fmt.Errorf("%w: user %d lists missing child %d", ErrInvariant, id, cid)
			}
			if c.UplineID != id {
				return fmt.Errorf("%w: child %d of %d points to upline %d", ErrInvariant, cid, id, c.UplineID)
			}
			team = addSat(team, addSat(c.TotalTeamCount, 1))
		}
		if u.TotalTeamCount != team {
			return fmt.Errorf("%w: user %d total team %d != %d", ErrInvariant, id, u.TotalTeamCount, team)
		}
		if u.DirectTeamCount != uint64(len(u.Referrals)) {
			return fmt.Errorf("%w: user %d direct team %d != %d referrals",
				ErrInvariant, id, u.DirectTeamCount, len(u.Referrals))
		}

		if u.IsRoot() {
			if id != s.Globals.RootID {
				return fmt.Errorf("%w: self-referential user %d is not root %d", ErrInvariant, id, s.Globals.RootID)
			}
			continue
		}
		if u.ReferrerID == id || u.UplineID == id {
			return fmt.Errorf("%w: non-root user %d references itself", ErrInvariant, id)
		}
		if _, ok := s.Users[u.UplineID]; !ok {
			return fmt.Errorf("%w: user %d upline %d missing", ErrInvariant, id, u.UplineID)
		}
		if _, ok := s.Users[u.ReferrerID]; !ok {
			return fmt.Errorf("%w: user %d referrer %d missing", ErrInvariant, id, u.ReferrerID)
		}
	}

	if s.Globals.Initialized {
		root, ok := s.Users[s.Globals.RootID]
		if !ok || !root.IsRoot() {
			return fmt.Errorf("%w: root %d is not self-referential", ErrInvariant, s.Globals.RootID)
		}
	}

	var held uint64
	for _, t := range s.Tiers {
		held = addSat(held, t.PoolBalance)
	}
	for _, m := range s.Members {
		held = addSat(held, m.AccruedUnclaimed)
	}
	if held != s.Globals.ContractBalance {
		return fmt.Errorf("%w: contract balance %d != pools plus unclaimed royalty %d",
			ErrInvariant, s.Globals.ContractBalance, held)
	}

	for _, t := range s.Tiers {
		seen := make(map[UserID]bool, len(t.Members))
		for _, m := range t.Members {
			if seen[m] {
				return fmt.Errorf("%w: tier %d lists member %d twice", ErrInvariant, t.Index, m)
			}
			seen[m] = true
			if _, ok := s.Members[MemberKey{Tier: t.Index, UserID: m}]; !ok {
				return fmt.Errorf("%w: tier %d member %d has no record", ErrInvariant, t.Index, m)
			}
		}
	}
	return nil
}
