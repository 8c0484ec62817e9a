// Package cipher provides the agent's wire encryption: per-project
// AES-256-GCM encryption of event and metric batches before they leave
// the process, grounded on the AES-GCM helper pattern used for
// telemetry payloads elsewhere in this ecosystem.
package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrNotSerializable is returned when the plaintext cannot be encoded
// as JSON before encryption.
var ErrNotSerializable = errors.New("cipher: payload is not JSON-serializable")

// ErrAuthentication is returned when decryption fails authentication,
// meaning the ciphertext or tag was altered or the key is wrong.
var ErrAuthentication = errors.New("cipher: authentication failed")

// DeriveKey derives the 32-byte project encryption key from the
// project's API key and project ID: SHA256(apiKey + ":" + projectID).
func DeriveKey(apiKey, projectID string) [32]byte {
	return sha256.Sum256([]byte(apiKey + ":" + projectID))
}

// Encryptor encrypts and decrypts JSON payloads for a single project
// using AES-256-GCM with a key derived by DeriveKey.
type Encryptor struct {
	gcm cipher.AEAD
}

// NewEncryptor builds an Encryptor from a derived 32-byte key.
func NewEncryptor(key [32]byte) (*Encryptor, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("cipher: new AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher: new GCM: %w", err)
	}
	return &Encryptor{gcm: gcm}, nil
}

// Encrypt marshals v to JSON, seals it with a fresh random nonce and
// returns the base64-url-encoded concatenation of nonce, ciphertext
// and authentication tag.
func (e *Encryptor) Encrypt(v any) (string, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotSerializable, err)
	}
	return e.EncodePayload(plaintext)
}

// EncodePayload seals plaintext directly, skipping JSON marshaling,
// and applies the base64-url wire framing.
func (e *Encryptor) EncodePayload(plaintext []byte) (string, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("cipher: generate nonce: %w", err)
	}
	sealed := e.gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt: it decodes payload, opens it and unmarshals
// the plaintext JSON into out.
func (e *Encryptor) Decrypt(payload string, out any) error {
	plaintext, err := e.DecodePayload(payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: %v", ErrNotSerializable, err)
	}
	return nil
}

// DecodePayload reverses EncodePayload, returning the raw plaintext.
func (e *Encryptor) DecodePayload(payload string) ([]byte, error) {
	sealed, err := base64.URLEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("cipher: decode payload: %w", err)
	}
	nonceSize := e.gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, ErrAuthentication
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// VerifyRoundTrip encrypts and immediately decrypts a 1-byte probe,
// returning an error if the result does not match. It is used at
// startup to fail fast on a misconfigured key rather than silently
// dropping every subsequent batch.
func VerifyRoundTrip(e *Encryptor) error {
	probe := []byte{0x5a}
	payload, err := e.EncodePayload(probe)
	if err != nil {
		return err
	}
	plaintext, err := e.DecodePayload(payload)
	if err != nil {
		return err
	}
	if len(plaintext) != 1 || plaintext[0] != probe[0] {
		return ErrAuthentication
	}
	return nil
}
