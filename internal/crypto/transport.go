package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// TransportKeypair is the ephemeral X25519 keypair used for exactly one
// key-acquisition round trip. The public half travels to the authority, the
// private half unwraps the returned envelope and is then destroyed. It is
// never persisted.
type TransportKeypair struct {
	public  *[32]byte
	private *[32]byte
}

// GenerateTransportKeypair produces a fresh keypair from the system CSPRNG.
func GenerateTransportKeypair() (*TransportKeypair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, NewError(KindKeyRetrievalFailure, "transport.generate", fmt.Errorf("failed to generate transport keypair: %w", err))
	}
	return &TransportKeypair{public: pub, private: priv}, nil
}

// PublicBytes returns the public half for inclusion in the authority request.
func (kp *TransportKeypair) PublicBytes() []byte {
	out := make([]byte, 32)
	copy(out, kp.public[:])
	return out
}

// Destroy zeroes the private half. The keypair is unusable afterwards.
func (kp *TransportKeypair) Destroy() {
	if kp.private != nil {
		for i := range kp.private {
			kp.private[i] = 0
		}
	}
	if kp.public != nil {
		for i := range kp.public {
			kp.public[i] = 0
		}
	}
}
