package auth

import (
	"errors"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt only looks at the first 72 bytes.
const maxPasswordBytes = 72

const minPasswordLength = 10

var (
	ErrPasswordTooShort    = errors.New("password must be at least 10 characters")
	ErrPasswordNoUppercase = errors.New("password must contain an uppercase letter")
	ErrPasswordNoLowercase = errors.New("password must contain a lowercase letter")
	ErrPasswordNoDigit     = errors.New("password must contain a digit")
)

// HashPassword returns a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(truncate(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func CheckPassword(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), truncate(password)) == nil
}

// ValidatePassword enforces the registration password policy.
func ValidatePassword(password string) error {
	if len([]rune(password)) < minPasswordLength {
		return ErrPasswordTooShort
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper {
		return ErrPasswordNoUppercase
	}
	if !lower {
		return ErrPasswordNoLowercase
	}
	if !digit {
		return ErrPasswordNoDigit
	}
	return nil
}

func truncate(password string) []byte {
	b := []byte(password)
	if len(b) > maxPasswordBytes {
		b = b[:maxPasswordBytes]
	}
	return b
}
