// Package matrix places users into the forced binary matrix and maintains
// the team counters along the placement path.
package matrix

import (
	"fmt"

	"github.com/bitfsorg/libmatrix-go/ledger"
)

// Placement describes where a new user landed.
type Placement struct {
	ReferrerID ledger.UserID // effective referrer after root fallback
	ParentID   ledger.UserID // matrix parent
	Spillover  bool          // parent differs from referrer
}

// resolveReferrer returns referrerID when it names an existing user, the
// root otherwise.
func resolveReferrer(tx *ledger.Tx, referrerID ledger.UserID) (ledger.UserID, error) {
	if referrerID != ledger.NoUser {
		if _, ok := tx.User(referrerID); ok {
			return referrerID, nil
		}
	}
	root := tx.Globals().RootID
	if _, ok := tx.User(root); !ok {
		return ledger.NoUser, ErrNoRoot
	}
	return root, nil
}

// FindParent searches breadth-first from start, visiting children in
// insertion order (left before right), and returns the first node with
// fewer than ledger.MatrixWidth children.
func FindParent(tx *ledger.Tx, start ledger.UserID) (ledger.UserID, error) {
	if _, ok := tx.User(start); !ok {
		return ledger.NoUser, fmt.Errorf("%w: start %d", ledger.ErrUserNotFound, start)
	}

	queue := []ledger.UserID{start}
	seen := map[ledger.UserID]bool{start: true}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		u, ok := tx.User(id)
		if !ok {
			return ledger.NoUser, fmt.Errorf("%w: child %d missing", ErrCorrupt, id)
		}
		if len(u.Children) < ledger.MatrixWidth {
			return id, nil
		}
		for _, c := range u.Children {
			if !seen[c] {
				seen[c] = true
				queue = append(queue, c)
			}
		}
	}
	return ledger.NoUser, ErrNoOpenSlot
}

// Place links newID under the breadth-first parent found from referrerID's
// subtree. An unknown or zero referrer, or newID itself, falls back to the root. The referrer's
// direct counters are incremented, and TotalTeamCount is incremented on every
// matrix ancestor from the parent up to the root.
func Place(tx *ledger.Tx, newID, referrerID ledger.UserID) (Placement, error) {
	nu, err := tx.MutUser(newID)
	if err != nil {
		return Placement{}, err
	}
	if nu.UplineID != ledger.NoUser {
		return Placement{}, fmt.Errorf("%w: %d under %d", ErrAlreadyPlaced, newID, nu.UplineID)
	}

	if referrerID == newID {
		referrerID = ledger.NoUser
	}
	ref, err := resolveReferrer(tx, referrerID)
	if err != nil {
		return Placement{}, err
	}
	parentID, err := FindParent(tx, ref)
	if err != nil {
		return Placement{}, err
	}

	nu.ReferrerID = ref
	nu.UplineID = parentID

	parent, err := tx.MutUser(parentID)
	if err != nil {
		return Placement{}, err
	}
	parent.Children = append(parent.Children, newID)

	referrer, err := tx.MutUser(ref)
	if err != nil {
		return Placement{}, err
	}
	referrer.Referrals = append(referrer.Referrals, newID)
	ledger.IncrementSat(&referrer.DirectTeamCount)

	if err := bumpTeam(tx, parentID); err != nil {
		return Placement{}, err
	}

	return Placement{ReferrerID: ref, ParentID: parentID, Spillover: parentID != ref}, nil
}

// bumpTeam increments TotalTeamCount from id up the upline chain, stopping at
// the self-referential root.
func bumpTeam(tx *ledger.Tx, id ledger.UserID) error {
	seen := make(map[ledger.UserID]bool)
	for !seen[id] {
		seen[id] = true
		u, err := tx.MutUser(id)
		if err != nil {
			return fmt.Errorf("%w: ancestor %d: %v", ErrCorrupt, id, err)
		}
		ledger.IncrementSat(&u.TotalTeamCount)
		if u.UplineID == u.ID || u.UplineID == ledger.NoUser {
			return nil
		}
		id = u.UplineID
	}
	return fmt.Errorf("%w: upline cycle at %d", ErrCorrupt, id)
}

// Ancestor returns the matrix ancestor depth levels above id. It reports
// false when the chain reaches the root (or a broken link) first.
func Ancestor(tx *ledger.Tx, id ledger.UserID, depth int) (ledger.UserID, bool) {
	cur := id
	for i := 0; i < depth; i++ {
		u, ok := tx.User(cur)
		if !ok || u.UplineID == ledger.NoUser || u.UplineID == u.ID {
			return ledger.NoUser, false
		}
		cur = u.UplineID
	}
	return cur, depth > 0
}

// Depth returns the number of matrix links between id and the root.
func Depth(tx *ledger.Tx, id ledger.UserID) (int, error) {
	depth := 0
	seen := make(map[ledger.UserID]bool)
	for cur := id; ; depth++ {
		if seen[cur] {
			return 0, fmt.Errorf("%w: upline cycle at %d", ErrCorrupt, cur)
		}
		seen[cur] = true
		u, ok := tx.User(cur)
		if !ok {
			return 0, fmt.Errorf("%w: %d", ledger.ErrUserNotFound, cur)
		}
		if u.UplineID == u.ID {
			return depth, nil
		}
		cur = u.UplineID
	}
}

// Verify checks every registered user: at most ledger.MatrixWidth children,
// children point back to their parent, TotalTeamCount equals the sum of
// child TotalTeamCount+1, and every upline chain ends at the root.
func Verify(tx *ledger.Tx) error {
	last := tx.Globals().LastUserID
	for id := ledger.UserID(1); id <= last; id++ {
		u, ok := tx.User(id)
		if !ok {
			continue
		}
		if len(u.Children) > ledger.MatrixWidth {
			return fmt.Errorf("%w: %d has %d children", ErrCorrupt, id, len(u.Children))
		}
		var team uint64
		for _, cid := range u.Children {
			c, ok := tx.User(cid)
			if !ok || c.UplineID != id {
				return fmt.Errorf("%w: child %d of %d not linked back", ErrCorrupt, cid, id)
			}
			team += c.TotalTeamCount + 1
		}
		if team != u.TotalTeamCount {
			return fmt.Errorf("%w: %d team %d, children sum %d", ErrCorrupt, id, u.TotalTeamCount, team)
		}
		if _, err := Depth(tx, id); err != nil {
			return err
		}
	}
	return nil
}
