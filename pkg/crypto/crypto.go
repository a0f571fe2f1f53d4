package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// LinkTokenBytes is the default entropy for intake link tokens. 32 bytes of
// cryptographically secure randomness yields a 64 character hex string; the
// token is the only credential guarding patient form access, so it must stay
// infeasible to guess.
const LinkTokenBytes = 32

// HashPassword returns a bcrypt hash of the supplied password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares the hashed password with the plaintext candidate.
func VerifyPassword(hashedPassword, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}

// GenerateLinkToken returns a random lowercase hex token of the requested
// byte length, read from crypto/rand.
func GenerateLinkToken(length int) (string, error) {
	if length <= 0 {
		length = LinkTokenBytes
	}
	buffer := make([]byte, length)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return hex.EncodeToString(buffer), nil
}

// TokenDigest returns the hex-encoded SHA-256 digest of a token. Only the
// digest is ever persisted or logged; the raw token leaves the system exactly
// once, inside the link handed to the patient.
func TokenDigest(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}

// ConstantTimeEquals compares two strings without leaking a timing side
// channel on the match position.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
