package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

const (
	// IVSize is the GCM standard nonce size. Fixed at 12 bytes; a fresh
	// random IV is generated per encryption and never reused.
	IVSize = 12

	// MinFrameSize is the smallest valid decoded frame: a full IV plus at
	// least one ciphertext byte.
	MinFrameSize = IVSize + 1
)

// EncryptString seals a plaintext under the derived key and returns the
// Base64 wire form of IV || ciphertext. The GCM authentication tag is part
// of the ciphertext per standard AES-GCM output. Empty plaintext is
// rejected.
func EncryptString(key []byte, plaintext string) (string, error) {
	if plaintext == "" {
		return "", NewError(KindEmptyInput, "encrypt", fmt.Errorf("plaintext is empty"))
	}
	gcm, err := newGCM(key, "encrypt")
	if err != nil {
		return "", err
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return "", NewError(KindDerivationFailure, "encrypt", fmt.Errorf("failed to generate IV: %w", err))
	}

	frame := make([]byte, 0, IVSize+len(plaintext)+gcm.Overhead())
	frame = append(frame, iv...)
	frame = gcm.Seal(frame, iv, []byte(plaintext), nil)
	return encodeFrame(frame), nil
}

// ParseFrame validates a Base64 wire frame and returns the decoded
// IV || ciphertext bytes. Validation needs no key material, so callers can
// reject malformed frames before paying for key acquisition.
func ParseFrame(frame string) ([]byte, error) {
	if frame == "" {
		return nil, NewError(KindEmptyInput, "decrypt", fmt.Errorf("ciphertext frame is empty"))
	}
	raw, err := decodeFrame(frame)
	if err != nil {
		return nil, err
	}
	if len(raw) < MinFrameSize {
		return nil, NewError(KindShortCiphertext, "decrypt", fmt.Errorf("frame is %d bytes, need at least %d", len(raw), MinFrameSize))
	}
	return raw, nil
}

// DecryptFrame authenticates and decrypts a decoded frame. A tag mismatch
// (wrong key, tampered ciphertext, wrong IV) surfaces as a decryption
// failure, never as wrong output.
func DecryptFrame(key, raw []byte) (string, error) {
	gcm, err := newGCM(key, "decrypt")
	if err != nil {
		return "", err
	}

	iv, ciphertext := raw[:IVSize], raw[IVSize:]
	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return "", NewError(KindDecryptionFailed, "decrypt", fmt.Errorf("authentication failed: %w", err))
	}
	return string(plaintext), nil
}

// DecryptString reverses EncryptString.
func DecryptString(key []byte, frame string) (string, error) {
	raw, err := ParseFrame(frame)
	if err != nil {
		return "", err
	}
	return DecryptFrame(key, raw)
}

func newGCM(key []byte, op string) (cipher.AEAD, error) {
	if len(key) != DerivedKeySize {
		return nil, NewError(KindDerivationFailure, op, fmt.Errorf("key is %d bytes, expected %d", len(key), DerivedKeySize))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, NewError(KindDerivationFailure, op, fmt.Errorf("failed to create AES cipher: %w", err))
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewError(KindDerivationFailure, op, fmt.Errorf("failed to create GCM: %w", err))
	}
	return gcm, nil
}
