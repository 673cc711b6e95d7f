// Package wallet holds account identities: secp256k1 keys derived from a
// BIP39 seed, EVM-style addresses, and signed user actions.
//
// Account keys follow m/44'/60'/0'/0/{index}.
package wallet

import (
	"encoding/hex"
	"fmt"
	"strings"

	bip32 "github.com/bsv-blockchain/go-sdk/compat/bip32"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	chaincfg "github.com/bsv-blockchain/go-sdk/transaction/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// BIP44 path constants for EVM accounts.
	PurposeBIP44 = 44
	CoinTypeEVM  = 60

	// MaxIndex is the largest non-hardened child index.
	MaxIndex = 1<<31 - 1

	// Hardened is the BIP32 hardened offset.
	Hardened = 0x80000000
)

// Keccak256 hashes the concatenation of data with legacy Keccak-256.
func Keccak256(data ...[]byte) []byte {
	return crypto.Keccak256(data...)
}

// AddressFromPubKey derives the EVM address of pub.
func AddressFromPubKey(pub *ec.PublicKey) common.Address {
	return crypto.PubkeyToAddress(*pub.ToECDSA())
}

// ParsePubKey decodes a hex public key, compressed or uncompressed, with or
// without a 0x prefix.
func ParsePubKey(s string) (*ec.PublicKey, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPubKey, err)
	}
	pub, err := ec.PublicKeyFromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPubKey, err)
	}
	return pub, nil
}

// Account is one derived signing identity.
type Account struct {
	PrivateKey *ec.PrivateKey `json:"-"`
	PublicKey  *ec.PublicKey  `json:"-"`
	Address    common.Address `json:"address"`
	Path       string         `json:"path"`
}

// PubKeyHex returns the compressed public key in hex.
func (a *Account) PubKeyHex() string {
	return hex.EncodeToString(a.PublicKey.Compressed())
}

// NewAccount creates an account around a fresh random key.
func NewAccount() (*Account, error) {
	priv, err := ec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("wallet: generate key: %w", err)
	}
	return accountFromKey(priv, ""), nil
}

func accountFromKey(priv *ec.PrivateKey, path string) *Account {
	pub := priv.PubKey()
	return &Account{PrivateKey: priv, PublicKey: pub, Address: AddressFromPubKey(pub), Path: path}
}

// Wallet derives accounts from a BIP39 seed.
type Wallet struct {
	master *bip32.ExtendedKey
}

// NewWallet creates a Wallet from a BIP39 seed.
func NewWallet(seed []byte) (*Wallet, error) {
	if len(seed) == 0 {
		return nil, ErrInvalidSeed
	}
	master, err := bip32.NewMaster(seed, &chaincfg.MainNet)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDerivationFailed, err)
	}
	return &Wallet{master: master}, nil
}

// Account derives the account at m/44'/60'/0'/0/index.
func (w *Wallet) Account(index uint32) (*Account, error) {
	if index > MaxIndex {
		return nil, ErrIndexOutOfRange
	}

	key := w.master
	for depth, child := range []uint32{PurposeBIP44 + Hardened, CoinTypeEVM + Hardened, Hardened, 0, index} {
		next, err := key.Child(child)
		if err != nil {
			return nil, fmt.Errorf("%w: depth %d: %w", ErrDerivationFailed, depth, err)
		}
		key = next
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("%w: extract private key: %w", ErrDerivationFailed, err)
	}
	return accountFromKey(priv, fmt.Sprintf("m/44'/60'/0'/0/%d", index)), nil
}
