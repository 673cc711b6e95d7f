package wallet

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/ethereum/go-ethereum/common"
)

// actionDomain separates action digests from any other keccak use.
const actionDomain = "libmatrix/action/v1"

// ActionDigest hashes an action name and its fields. Every part is length
// prefixed so distinct field lists never collide.
func ActionDigest(action string, fields ...string) []byte {
	parts := make([][]byte, 0, 2*(len(fields)+2))
	var n [4]byte
	for _, s := range append([]string{actionDomain, action}, fields...) {
		binary.BigEndian.PutUint32(n[:], uint32(len(s)))
		parts = append(parts, append([]byte(nil), n[:]...), []byte(s))
	}
	return Keccak256(parts...)
}

// SignAction signs the digest of action and fields and returns the DER
// signature in hex.
func SignAction(priv *ec.PrivateKey, action string, fields ...string) (string, error) {
	sig, err := priv.Sign(ActionDigest(action, fields...))
	if err != nil {
		return "", fmt.Errorf("wallet: sign %s: %w", action, err)
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// VerifyAction checks that sigHex is a signature by pubKeyHex over the
// action digest, and that the key belongs to account. It returns the
// signer's address.
func VerifyAction(pubKeyHex, sigHex string, account common.Address, action string, fields ...string) (common.Address, error) {
	pub, err := ParsePubKey(pubKeyHex)
	if err != nil {
		return common.Address{}, err
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	sig, err := ec.ParseDERSignature(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !sig.Verify(ActionDigest(action, fields...), pub) {
		return common.Address{}, ErrInvalidSignature
	}

	signer := AddressFromPubKey(pub)
	if signer != account {
		return signer, fmt.Errorf("%w: signer %s, account %s", ErrAccountMismatch, signer.Hex(), account.Hex())
	}
	return signer, nil
}
