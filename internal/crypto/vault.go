package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	keyLen    = 32
	ivLen     = 12
	gcmTagLen = 16

	// tokenSep separates the base64 segments of a vault token. It is not part
	// of the standard base64 alphabet, so splitting is unambiguous.
	tokenSep = ":"

	vaultInfo = "listbridge vault v1"
)

// ErrEmptyMasterSecret is returned by NewVault when no master secret is configured.
var ErrEmptyMasterSecret = errors.New("master secret is empty")

// Vault encrypts secret strings at rest with AES-256-GCM under a key derived
// from a single master secret.
//
// Token format: base64(iv) ":" base64(tag) ":" base64(ciphertext)
//
// Changing the master secret invalidates every stored token.
type Vault struct {
	aead cipher.AEAD
}

// NewVault derives the vault key from masterSecret with HKDF-SHA256.
func NewVault(masterSecret string) (*Vault, error) {
	if masterSecret == "" {
		return nil, ErrEmptyMasterSecret
	}

	key := make([]byte, keyLen)
	kdf := hkdf.New(sha256.New, []byte(masterSecret), nil, []byte(vaultInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive vault key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Vault{aead: gcm}, nil
}

// Encrypt seals plaintext into a vault token. An empty plaintext yields an
// empty token: an absent secret never produces ciphertext.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate IV: %w", err)
	}

	sealed := v.aead.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-gcmTagLen], sealed[len(sealed)-gcmTagLen:]

	enc := base64.StdEncoding
	return enc.EncodeToString(iv) + tokenSep + enc.EncodeToString(tag) + tokenSep + enc.EncodeToString(ct), nil
}

// Decrypt opens a vault token. It fails closed: malformed input, a tag
// mismatch or an empty token all yield "".
func (v *Vault) Decrypt(token string) string {
	plaintext, err := v.open(token)
	if err != nil {
		return ""
	}
	return plaintext
}

func (v *Vault) open(token string) (string, error) {
	if token == "" {
		return "", errors.New("empty token")
	}

	parts := strings.Split(token, tokenSep)
	if len(parts) != 3 {
		return "", errors.New("malformed token")
	}

	enc := base64.StdEncoding.Strict()
	iv, err := enc.DecodeString(parts[0])
	if err != nil || len(iv) != ivLen {
		return "", errors.New("invalid IV")
	}
	tag, err := enc.DecodeString(parts[1])
	if err != nil || len(tag) != gcmTagLen {
		return "", errors.New("invalid tag")
	}
	ct, err := enc.DecodeString(parts[2])
	if err != nil {
		return "", errors.New("invalid ciphertext")
	}

	sealed := make([]byte, 0, len(ct)+gcmTagLen)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := v.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// Mask decrypts token and returns a preview exposing at most the last four
// characters (runes, not bytes). Unset or undecryptable tokens mask to "".
func (v *Vault) Mask(token string) string {
	plain := v.Decrypt(token)
	if plain == "" {
		return ""
	}
	r := []rune(plain)
	if len(r) <= 4 {
		return "****"
	}
	return "****" + string(r[len(r)-4:])
}
