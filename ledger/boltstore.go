package ledger

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers    = []byte("users")
	bucketIncomes  = []byte("incomes")
	bucketTiers    = []byte("royalty_tiers")
	bucketMembers  = []byte("royalty_members")
	bucketReceipts = []byte("receipts")
	bucketMeta     = []byte("meta")

	keyGlobals = []byte("globals")
)

// BoltStore persists the ledger in a bbolt database, one bucket per record type.
type BoltStore struct {
	db *bbolt.DB
}

// Compile-time interface check.
var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens or creates the bbolt database at dbPath.
// The parent directory is created if it does not exist.
func OpenBoltStore(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("ledger: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketIncomes, bucketTiers, bucketMembers, bucketReceipts, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("boltstore: create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error { return s.db.Close() }

// u64Key encodes v as an 8-byte big-endian key for sorted storage.
func u64Key(v uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, v)
	return k
}

func memberKey(k MemberKey) []byte {
	b := make([]byte, 9)
	b[0] = k.Tier
	binary.BigEndian.PutUint64(b[1:], uint64(k.UserID))
	return b
}

// encodeGob serializes a value using gob encoding.
func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeGob deserializes gob-encoded data into a value.
func decodeGob(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func putGob(b *bbolt.Bucket, key []byte, v interface{}) error {
	data, err := encodeGob(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return b.Put(key, data)
}

// Load reads every bucket into a fresh State.
func (s *BoltStore) Load() (*State, error) {
	state := NewState()
	err := s.db.View(func(tx *bbolt.Tx) error {
		err := tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var u User
			if err := decodeGob(v, &u); err != nil {
				return fmt.Errorf("boltstore: decode user: %w", err)
			}
			state.Users[u.ID] = &u
			state.Accounts[u.Account] = u.ID
			return nil
		})
		if err != nil {
			return err
		}

		err = tx.Bucket(bucketIncomes).ForEach(func(k, v []byte) error {
			var in Income
			if err := decodeGob(v, &in); err != nil {
				return fmt.Errorf("boltstore: decode income: %w", err)
			}
			state.Incomes[in.UserID] = &in
			return nil
		})
		if err != nil {
			return err
		}

		err = tx.Bucket(bucketTiers).ForEach(func(k, v []byte) error {
			var t RoyaltyTier
			if err := decodeGob(v, &t); err != nil {
				return fmt.Errorf("boltstore: decode tier: %w", err)
			}
			if int(t.Index) >= RoyaltyTiers {
				return fmt.Errorf("%w: stored tier %d", ErrInvalidTier, t.Index)
			}
			state.Tiers[t.Index] = &t
			return nil
		})
		if err != nil {
			return err
		}

		err = tx.Bucket(bucketMembers).ForEach(func(k, v []byte) error {
			var m RoyaltyMember
			if err := decodeGob(v, &m); err != nil {
				return fmt.Errorf("boltstore: decode member: %w", err)
			}
			state.Members[m.Key()] = &m
			return nil
		})
		if err != nil {
			return err
		}

		if data := tx.Bucket(bucketMeta).Get(keyGlobals); data != nil {
			if err := decodeGob(data, &state.Globals); err != nil {
				return fmt.Errorf("boltstore: decode globals: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Commit writes the changeset in a single bbolt transaction.
func (s *BoltStore) Commit(cs *Changeset) error {
	if cs == nil {
		return fmt.Errorf("%w: changeset", ErrNilParam)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		for i := range cs.Users {
			if err := putGob(users, u64Key(uint64(cs.Users[i].ID)), &cs.Users[i]); err != nil {
				return fmt.Errorf("boltstore: put user: %w", err)
			}
		}

		incomes := tx.Bucket(bucketIncomes)
		for i := range cs.Incomes {
			if err := putGob(incomes, u64Key(uint64(cs.Incomes[i].UserID)), &cs.Incomes[i]); err != nil {
				return fmt.Errorf("boltstore: put income: %w", err)
			}
		}

		tiers := tx.Bucket(bucketTiers)
		for i := range cs.Tiers {
			if err := putGob(tiers, []byte{cs.Tiers[i].Index}, &cs.Tiers[i]); err != nil {
				return fmt.Errorf("boltstore: put tier: %w", err)
			}
		}

		members := tx.Bucket(bucketMembers)
		for i := range cs.Members {
			if err := putGob(members, memberKey(cs.Members[i].Key()), &cs.Members[i]); err != nil {
				return fmt.Errorf("boltstore: put member: %w", err)
			}
		}

		if cs.Receipt != nil {
			rb := tx.Bucket(bucketReceipts)
			key := u64Key(cs.Receipt.Seq)
			if rb.Get(key) != nil {
				return fmt.Errorf("%w: receipt %d already stored", ErrInvariant, cs.Receipt.Seq)
			}
			if err := putGob(rb, key, cs.Receipt); err != nil {
				return fmt.Errorf("boltstore: put receipt: %w", err)
			}
		}

		if err := putGob(tx.Bucket(bucketMeta), keyGlobals, &cs.Globals); err != nil {
			return fmt.Errorf("boltstore: put globals: %w", err)
		}
		return nil
	})
}

// Receipts scans the receipt bucket from the sequence after the given one.
func (s *BoltStore) Receipts(after uint64, limit int) ([]Receipt, error) {
	var out []Receipt
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketReceipts).Cursor()
		for k, v := c.Seek(u64Key(after + 1)); k != nil; k, v = c.Next() {
			var r Receipt
			if err := decodeGob(v, &r); err != nil {
				return fmt.Errorf("boltstore: decode receipt: %w", err)
			}
			out = append(out, r)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: list receipts: %w", err)
	}
	return out, nil
}
