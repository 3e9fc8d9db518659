package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// verificationTokenBytes is the entropy of email verification and reset tokens.
const verificationTokenBytes = 32

// GenerateVerificationToken creates a random hex token for email links.
func GenerateVerificationToken() (string, error) {
	secret := make([]byte, verificationTokenBytes)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return "", fmt.Errorf("generate verification token: %w", err)
	}
	return hex.EncodeToString(secret), nil
}

// GenerateRandomString returns a hex-encoded random string of the given length.
func GenerateRandomString(length int) (string, error) {
	bytes := make([]byte, (length+1)/2)
	if _, err := io.ReadFull(rand.Reader, bytes); err != nil {
		return "", fmt.Errorf("generate random string: %w", err)
	}
	return hex.EncodeToString(bytes)[:length], nil
}
