package otpstate

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"

	"golang.org/x/crypto/pbkdf2"
)

const (
	spassSaltSize = 16
	spassIters    = 100000
	spassKeyLen   = 32
)

// hashSpass derives a salted PBKDF2-SHA256 hash of a static password.
// golang.org/x/crypto is already a direct dependency used elsewhere in
// the pack for password-authenticated key exchange (avahowell-occlude);
// reusing it here for spass hashing keeps the crypto stack pack-grounded.
func hashSpass(plaintext string) (salt, hash []byte, err error) {
	salt = make([]byte, spassSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, err
	}
	hash = pbkdf2.Key([]byte(plaintext), salt, spassIters, spassKeyLen, sha256.New)
	return salt, hash, nil
}

// VerifySpass checks plaintext against the stored salted hash in
// constant time.
func (s *State) VerifySpass(plaintext string) bool {
	if !s.SpassSet {
		return false
	}
	candidate := pbkdf2.Key([]byte(plaintext), s.SpassSalt, spassIters, spassKeyLen, sha256.New)
	return subtle.ConstantTimeCompare(candidate, s.SpassHash) == 1
}
