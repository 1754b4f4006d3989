package security

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost defines the bcrypt work factor for admin credentials.
const bcryptCost = 12

// MinPasswordLength is the shortest admin password accepted.
const MinPasswordLength = 8

// ErrPasswordTooShort rejects admin passwords below MinPasswordLength.
var ErrPasswordTooShort = errors.New("security: password too short")

// HashAdminPassword validates and hashes an admin password.
func HashAdminPassword(password string) (string, error) {
	if len(strings.TrimSpace(password)) < MinPasswordLength {
		return "", ErrPasswordTooShort
	}
	hash, errHash := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if errHash != nil {
		return "", errHash
	}
	return string(hash), nil
}

// VerifyAdminPassword compares a stored hash with a login attempt. Empty
// hashes never match, so a half-seeded admin row cannot log in.
func VerifyAdminPassword(hash, password string) bool {
	if hash == "" || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
