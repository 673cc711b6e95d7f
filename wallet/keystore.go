package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bsv-blockchain/go-sdk/compat/bip39"
	"golang.org/x/crypto/argon2"
)

const (
	// Mnemonic entropy sizes.
	Mnemonic12Words = 128
	Mnemonic24Words = 256

	saltLen     = 16
	checksumLen = 4
)

// KDFParams are the Argon2id parameters used to seal a keystore.
type KDFParams struct {
	Time        uint32
	MemoryKiB   uint32
	Parallelism uint8
}

// DefaultKDF is the production key-derivation cost.
var DefaultKDF = KDFParams{Time: 3, MemoryKiB: 64 * 1024, Parallelism: 4}

// GenerateMnemonic creates a new BIP39 mnemonic with 128 or 256 bits of entropy.
func GenerateMnemonic(entropyBits int) (string, error) {
	if entropyBits != Mnemonic12Words && entropyBits != Mnemonic24Words {
		return "", ErrInvalidEntropy
	}
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return "", fmt.Errorf("wallet: generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("wallet: generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// SeedFromMnemonic derives the 64-byte BIP39 seed.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("wallet: derive seed: %w", err)
	}
	return seed, nil
}

func (p KDFParams) gcm(password string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(password), salt, p.Time, p.MemoryKiB, p.Parallelism, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func seedChecksum(seed []byte) []byte {
	sum := sha256.Sum256(seed)
	return sum[:checksumLen]
}

// Seal encrypts seed under password.
// Layout: salt(16) || nonce(12) || AES-GCM(seed || sha256(seed)[:4]).
func (p KDFParams) Seal(seed []byte, password string) ([]byte, error) {
	if len(seed) == 0 {
		return nil, ErrInvalidSeed
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("wallet: salt: %w", err)
	}
	aead, err := p.gcm(password, salt)
	if err != nil {
		return nil, fmt.Errorf("wallet: cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("wallet: nonce: %w", err)
	}

	plain := append(append([]byte(nil), seed...), seedChecksum(seed)...)
	out := append(salt, nonce...)
	return aead.Seal(out, nonce, plain, nil), nil
}

// Open decrypts a keystore produced by Seal.
func (p KDFParams) Open(data []byte, password string) ([]byte, error) {
	if len(data) < saltLen+12+checksumLen {
		return nil, ErrDecryptionFailed
	}
	salt := data[:saltLen]
	aead, err := p.gcm(password, salt)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	ns := aead.NonceSize()
	if len(data) < saltLen+ns {
		return nil, ErrDecryptionFailed
	}
	plain, err := aead.Open(nil, data[saltLen:saltLen+ns], data[saltLen+ns:], nil)
	if err != nil || len(plain) <= checksumLen {
		return nil, ErrDecryptionFailed
	}

	seed, sum := plain[:len(plain)-checksumLen], plain[len(plain)-checksumLen:]
	if subtle.ConstantTimeCompare(sum, seedChecksum(seed)) != 1 {
		return nil, ErrChecksumMismatch
	}
	return seed, nil
}

// SaveKeystore seals seed and writes it to path with owner-only permissions.
func (p KDFParams) SaveKeystore(path string, seed []byte, password string) error {
	data, err := p.Seal(seed, password)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("wallet: create directory: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// LoadKeystore reads and opens the keystore at path.
func (p KDFParams) LoadKeystore(path, password string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wallet: read keystore: %w", err)
	}
	return p.Open(data, password)
}
