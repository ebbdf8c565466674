package container

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// SignatureInvalidError reports a container whose detached signature does
// not verify against the repo's configured public key.
type SignatureInvalidError struct {
	Reason string
}

func (e *SignatureInvalidError) Error() string {
	return fmt.Sprintf("signature invalid: %s", e.Reason)
}

// GenerateKeyPair creates a new ed25519 signing key pair for a repo's
// signing identity.
func GenerateKeyPair() (pub ed25519.PublicKey, priv ed25519.PrivateKey, err error) {
	pub, priv, err = ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating signing key: %w", err)
	}
	return pub, priv, nil
}

// Sign produces the detached signature over a container's compressed
// bytes.
func Sign(priv ed25519.PrivateKey, containerBytes []byte) []byte {
	return ed25519.Sign(priv, containerBytes)
}

// Verify checks a detached signature against a container's compressed
// bytes and the repo's configured public key.
func Verify(pub ed25519.PublicKey, containerBytes, sig []byte) error {
	if len(pub) != ed25519.PublicKeySize {
		return &SignatureInvalidError{Reason: "malformed public key"}
	}
	if !ed25519.Verify(pub, containerBytes, sig) {
		return &SignatureInvalidError{Reason: "signature does not match container contents"}
	}
	return nil
}
