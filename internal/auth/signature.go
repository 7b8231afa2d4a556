package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
)

var (
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrInvalidSignature = errors.New("invalid signature")
)

// VerifySignature reports whether signatureB64 is a valid Ed25519 signature
// of challengeB64 under publicKeyB64, all base64-encoded.
func VerifySignature(publicKeyB64, challengeB64, signatureB64 string) bool {
	return VerifySignatureDetailed(publicKeyB64, challengeB64, signatureB64) == nil
}

// VerifySignatureDetailed is VerifySignature with the specific failure
// reason, so callers can distinguish a malformed key from a bad signature.
func VerifySignatureDetailed(publicKeyB64, challengeB64, signatureB64 string) error {
	publicKey, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil || len(publicKey) != ed25519.PublicKeySize {
		return ErrInvalidPublicKey
	}

	challenge, err := base64.StdEncoding.DecodeString(challengeB64)
	if err != nil || len(challenge) == 0 {
		return ErrInvalidSignature
	}

	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil || len(signature) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}

	if !ed25519.Verify(ed25519.PublicKey(publicKey), challenge, signature) {
		return ErrInvalidSignature
	}
	return nil
}

// IsValidPublicKey reports whether publicKeyB64 decodes to exactly an
// Ed25519 public key's worth of bytes, independent of any signature.
func IsValidPublicKey(publicKeyB64 string) bool {
	key, err := base64.StdEncoding.DecodeString(publicKeyB64)
	return err == nil && len(key) == ed25519.PublicKeySize
}
