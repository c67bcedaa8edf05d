package identity

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/pkg/errors"

	"github.com/thebakerswow/thebakers-front-sub000/internal/models"
)

// ResolutionError reports that a leader's protected identifier could not be
// recovered. Callers must treat it like an empty identifier: never route a
// notification for it.
type ResolutionError struct {
	Username string
	Reason   string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve discord id for %q: %s", e.Username, e.Reason)
}

// Resolve returns the routable discord id for a raid leader. Plain
// identifiers pass through untouched; the encrypted sentinel triggers
// decryption of the leader's ciphertext with the shared secret.
func Resolve(leader models.RaidLeader, secret string) (string, error) {
	return ResolveWith(leader, secret, models.SentinelEncrypted)
}

// ResolveWith is Resolve with a configurable sentinel value.
func ResolveWith(leader models.RaidLeader, secret, sentinel string) (string, error) {
	if leader.IDDiscord != sentinel {
		return leader.IDDiscord, nil
	}
	if secret == "" {
		return "", &ResolutionError{Username: leader.Username, Reason: "decryption secret not configured"}
	}

	plain, err := decrypt(leader.IDDiscordCipher, secret)
	if err != nil {
		return "", &ResolutionError{Username: leader.Username, Reason: err.Error()}
	}
	if plain == "" {
		return "", &ResolutionError{Username: leader.Username, Reason: "decryption produced empty identifier"}
	}
	return plain, nil
}

// Key and IV are both derived from one SHA-256 digest of the secret: the
// full 32 bytes key AES-256, the first 16 bytes serve as the CBC IV. This
// must stay bit-for-bit identical to the scheme that produced the
// ciphertexts.
func keyIV(secret string) ([]byte, []byte) {
	sum := sha256.Sum256([]byte(secret))
	return sum[:], sum[:aes.BlockSize]
}

func decrypt(ciphertext, secret string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.Wrap(err, "decode ciphertext")
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", errors.Errorf("ciphertext length %d is not a multiple of the block size", len(raw))
	}

	key, iv := keyIV(secret)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", errors.Wrap(err, "init cipher")
	}

	plain := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, raw)

	plain, err = pkcs7Unpad(plain)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Encrypt is the inverse of the resolver's decryption step. The engine never
// encrypts in production; this exists so round-trip behavior stays testable
// against the documented derivation.
func Encrypt(plaintext, secret string) (string, error) {
	key, iv := keyIV(secret)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", errors.Wrap(err, "init cipher")
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, errors.New("empty plaintext")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, errors.New("invalid padding")
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return b[:len(b)-n], nil
}
