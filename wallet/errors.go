package wallet

import "errors"

var (
	// ErrInvalidMnemonic indicates the mnemonic fails BIP39 validation.
	ErrInvalidMnemonic = errors.New("wallet: invalid BIP39 mnemonic")

	// ErrInvalidEntropy indicates entropy bits is not 128 or 256.
	ErrInvalidEntropy = errors.New("wallet: entropy bits must be 128 or 256")

	// ErrInvalidSeed indicates the seed is empty or invalid.
	ErrInvalidSeed = errors.New("wallet: invalid seed")

	// ErrDerivationFailed indicates BIP32 key derivation failed.
	ErrDerivationFailed = errors.New("wallet: key derivation failed")

	// ErrDecryptionFailed indicates a wrong password or corrupted keystore.
	ErrDecryptionFailed = errors.New("wallet: keystore decryption failed (wrong password or corrupted data)")

	// ErrChecksumMismatch indicates the decrypted seed failed its checksum.
	ErrChecksumMismatch = errors.New("wallet: seed checksum mismatch")

	// ErrInvalidPubKey indicates a public key that does not parse as secp256k1.
	ErrInvalidPubKey = errors.New("wallet: invalid public key")

	// ErrInvalidSignature indicates a signature that does not parse or verify.
	ErrInvalidSignature = errors.New("wallet: invalid signature")

	// ErrAccountMismatch indicates the signer is not the claimed account.
	ErrAccountMismatch = errors.New("wallet: signer does not match account")

	// ErrIndexOutOfRange indicates an account index at or above the hardened boundary.
	ErrIndexOutOfRange = errors.New("wallet: account index exceeds maximum (2^31-1)")
)
