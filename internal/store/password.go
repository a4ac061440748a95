package store

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
)

// NewSalt returns fresh random salt material for a new password. A fresh
// salt is generated every time a password is set, never reused.
func NewSalt() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// HashPassword computes base64(SHA-512(UTF8(salt||plaintext))).
//
// This is intentionally built from crypto/sha512 and crypto/subtle
// directly rather than a higher-level password-hashing library: the
// fixed construction here is a single SHA-512 pass over salt||password,
// not a tunable memory-hard KDF such as bcrypt/argon2, so adopting a KDF
// library would change the scheme rather than implement it.
func HashPassword(salt, plaintext string) string {
	sum := sha512.Sum512([]byte(salt + plaintext))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// VerifyPassword reports whether plaintext, salted with salt, hashes to
// wantHash, using a constant-time comparison so response timing does not
// leak how much of the password matched.
func VerifyPassword(salt, plaintext, wantHash string) bool {
	got := HashPassword(salt, plaintext)
	return subtle.ConstantTimeCompare([]byte(got), []byte(wantHash)) == 1
}
