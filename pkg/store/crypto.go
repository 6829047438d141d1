package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// encPrefix marks an encrypted payload so plaintext rows written before a
// key was configured still decode.
const encPrefix = "enc:v1:"

// secretBox seals and opens payload strings with AES-256-GCM. The key is
// derived from the operator's db_key by SHA-256.
type secretBox struct {
	aead cipher.AEAD
}

func newSecretBox(dbKey string) *secretBox {
	key := sha256.Sum256([]byte(dbKey))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		// aes.NewCipher only fails on bad key sizes; a SHA-256 digest is
		// always 32 bytes.
		panic(fmt.Sprintf("store: aes init: %v", err))
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		panic(fmt.Sprintf("store: gcm init: %v", err))
	}
	return &secretBox{aead: aead}
}

// seal encrypts plaintext to "enc:v1:" + base64(nonce||ciphertext). Empty
// input stays empty so absent payloads remain distinguishable.
func (b *secretBox) seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// open decrypts a sealed payload. Values without the prefix are returned
// verbatim (legacy plaintext rows).
func (b *secretBox) open(stored string) (string, error) {
	if !strings.HasPrefix(stored, encPrefix) {
		return stored, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, encPrefix))
	if err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}
	ns := b.aead.NonceSize()
	if len(raw) < ns {
		return "", fmt.Errorf("payload shorter than nonce")
	}
	plain, err := b.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt payload: %w", err)
	}
	return string(plain), nil
}

// encodePayload applies encryption when a key is configured.
func (s *Store) encodePayload(dataJSON string) (string, error) {
	if s.box == nil {
		return dataJSON, nil
	}
	return s.box.seal(dataJSON)
}

// decodePayload reverses encodePayload.
func (s *Store) decodePayload(stored string) (string, error) {
	if s.box == nil {
		return stored, nil
	}
	return s.box.open(stored)
}
