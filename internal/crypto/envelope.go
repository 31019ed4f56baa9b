package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

const (
	// SecretSize is the size of the derived secret carried in an envelope.
	SecretSize = 32

	envelopeSenderSize = 32
	envelopeNonceSize  = 24
	envelopeSealedSize = SecretSize + ed25519.SignatureSize + box.Overhead

	// EnvelopeSize is the exact decoded length of a well-formed envelope:
	// authority ephemeral public key, box nonce, and the sealed payload of
	// secret plus identity-binding signature.
	EnvelopeSize = envelopeSenderSize + envelopeNonceSize + envelopeSealedSize
)

// KeyEnvelope is the authority-issued container of derived secret material,
// encrypted to a transport public key and signed over the caller's identity.
// It is opaque until opened with the matching transport private key.
type KeyEnvelope struct {
	senderPublic [32]byte
	nonce        [24]byte
	sealed       []byte
}

// ParseKeyEnvelope decodes a hex-encoded envelope as received from the
// authority and validates its structure.
func ParseKeyEnvelope(encoded string) (*KeyEnvelope, error) {
	if encoded == "" {
		return nil, NewError(KindKeyRetrievalFailure, "envelope.parse", fmt.Errorf("authority returned an empty envelope"))
	}
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, NewError(KindInvalidEncoding, "envelope.parse", fmt.Errorf("envelope is not valid hex: %w", err))
	}
	if len(raw) != EnvelopeSize {
		return nil, NewError(KindDeserializationFailure, "envelope.parse", fmt.Errorf("envelope is %d bytes, expected %d", len(raw), EnvelopeSize))
	}
	env := &KeyEnvelope{sealed: make([]byte, envelopeSealedSize)}
	copy(env.senderPublic[:], raw[:envelopeSenderSize])
	copy(env.nonce[:], raw[envelopeSenderSize:envelopeSenderSize+envelopeNonceSize])
	copy(env.sealed, raw[envelopeSenderSize+envelopeNonceSize:])
	return env, nil
}

// Encode serializes the envelope to its hex wire form.
func (e *KeyEnvelope) Encode() string {
	raw := make([]byte, 0, EnvelopeSize)
	raw = append(raw, e.senderPublic[:]...)
	raw = append(raw, e.nonce[:]...)
	raw = append(raw, e.sealed...)
	return hex.EncodeToString(raw)
}

// SealEnvelope is the issuing side: it encrypts secret||signature to the
// recipient transport public key. The signature must already bind the
// caller's identity (see VerifyingMessage).
func SealEnvelope(secret, signature, transportPublic []byte, senderPublic, senderPrivate *[32]byte, nonce *[24]byte) (*KeyEnvelope, error) {
	if len(secret) != SecretSize {
		return nil, NewError(KindDeserializationFailure, "envelope.seal", fmt.Errorf("secret is %d bytes, expected %d", len(secret), SecretSize))
	}
	if len(signature) != ed25519.SignatureSize {
		return nil, NewError(KindDeserializationFailure, "envelope.seal", fmt.Errorf("signature is %d bytes, expected %d", len(signature), ed25519.SignatureSize))
	}
	if len(transportPublic) != 32 {
		return nil, NewError(KindDeserializationFailure, "envelope.seal", fmt.Errorf("transport public key is %d bytes, expected 32", len(transportPublic)))
	}
	var recipient [32]byte
	copy(recipient[:], transportPublic)

	payload := make([]byte, 0, SecretSize+ed25519.SignatureSize)
	payload = append(payload, secret...)
	payload = append(payload, signature...)

	env := &KeyEnvelope{senderPublic: *senderPublic, nonce: *nonce}
	env.sealed = box.Seal(nil, payload, nonce, &recipient, senderPrivate)
	return env, nil
}

// VerificationKey is the authority's Ed25519 public key for an
// identity/scope, used to authenticate an envelope's origin.
type VerificationKey struct {
	key ed25519.PublicKey
}

// ParseVerificationKey decodes a hex-encoded verification key.
func ParseVerificationKey(encoded string) (*VerificationKey, error) {
	if encoded == "" {
		return nil, NewError(KindKeyRetrievalFailure, "verification_key.parse", fmt.Errorf("authority returned an empty verification key"))
	}
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, NewError(KindInvalidEncoding, "verification_key.parse", fmt.Errorf("verification key is not valid hex: %w", err))
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, NewError(KindDeserializationFailure, "verification_key.parse", fmt.Errorf("verification key is %d bytes, expected %d", len(raw), ed25519.PublicKeySize))
	}
	return &VerificationKey{key: ed25519.PublicKey(raw)}, nil
}

// VerifyingMessage builds the byte string the authority signs and the client
// verifies: the caller's identity bytes followed by the envelope secret. The
// identity binding ensures an envelope issued for one caller never verifies
// for another.
func VerifyingMessage(identity Identity, secret []byte) []byte {
	msg := make([]byte, 0, len(identity)+len(secret))
	msg = append(msg, identity.Bytes()...)
	msg = append(msg, secret...)
	return msg
}

// Open decrypts the envelope with the transport private key and verifies the
// embedded signature against the verification key and the caller's identity
// bytes. On success it returns the raw derived secret.
func (e *KeyEnvelope) Open(kp *TransportKeypair, vk *VerificationKey, identity Identity) ([]byte, error) {
	payload, ok := box.Open(nil, e.sealed, &e.nonce, &e.senderPublic, kp.private)
	if !ok {
		return nil, NewError(KindDecryptionFailed, "envelope.open", fmt.Errorf("envelope did not decrypt with the transport key"))
	}
	if len(payload) != SecretSize+ed25519.SignatureSize {
		return nil, NewError(KindDeserializationFailure, "envelope.open", fmt.Errorf("envelope payload is %d bytes, expected %d", len(payload), SecretSize+ed25519.SignatureSize))
	}
	secret := payload[:SecretSize]
	signature := payload[SecretSize:]
	if !ed25519.Verify(vk.key, VerifyingMessage(identity, secret), signature) {
		return nil, NewError(KindDecryptionFailed, "envelope.open", fmt.Errorf("envelope signature did not verify for the caller identity"))
	}
	out := make([]byte, SecretSize)
	copy(out, secret)
	return out, nil
}
