package ledger

import (
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Op names the top-level operation a receipt records.
type Op string

const (
	OpInitialize Op = "initialize"
	OpRegister   Op = "register"
	OpUpgrade    Op = "upgrade"
	OpClaim      Op = "claim"
	OpDistribute Op = "distribute"
	OpWithdraw   Op = "withdraw"
	OpPause      Op = "pause"
	OpUnpause    Op = "unpause"
)

// Receipt is the append-only audit record of one committed operation.
type Receipt struct {
	ID         common.Hash
	Seq        uint64
	Op         Op
	UserID     UserID
	Account    common.Address
	Payment    uint64
	AdminFee   uint64
	RoyaltyFee uint64
	Lost       uint64
	FromLevel  uint8
	ToLevel    uint8
	Tier       uint8
	Payouts    []Payout
	Timestamp  time.Time
}

// PaidOut returns the sum of all payouts in the receipt.
func (r *Receipt) PaidOut() uint64 {
	var sum uint64
	for _, p := range r.Payouts {
		sum += p.Amount
	}
	return sum
}

// ComputeID derives the receipt id as keccak256 over its identifying fields.
func (r *Receipt) ComputeID() common.Hash {
	var buf [8]byte
	h := sha3.NewLegacyKeccak256()

	binary.BigEndian.PutUint64(buf[:], r.Seq)
	h.Write(buf[:])
	h.Write([]byte(r.Op))
	binary.BigEndian.PutUint64(buf[:], uint64(r.UserID))
	h.Write(buf[:])
	h.Write(r.Account.Bytes())
	binary.BigEndian.PutUint64(buf[:], r.Payment)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(r.Timestamp.UnixNano()))
	h.Write(buf[:])

	var id common.Hash
	copy(id[:], h.Sum(nil))
	return id
}
