package utils

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	OTPLength = 6

	otpSaltLength  = 16
	otpKeyLength   = 32
	otpTimeCost    = 1
	otpMemoryCost  = 16 * 1024
	otpParallelism = 1
)

var otpModulus = big.NewInt(1_000_000)

// GenerateOTPCode returns a uniformly random 6-digit code (leading zeros kept).
func GenerateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, otpModulus)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// ValidOTPFormat reports whether code is exactly six ASCII digits.
func ValidOTPFormat(code string) bool {
	if len(code) != OTPLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// HashOTP hashes a code using Argon2id with a fresh salt.
// Format: $argon2id$v=19$m=16384,t=1,p=1$salt$hash
func HashOTP(code string) (string, error) {
	salt := make([]byte, otpSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(code), salt, otpTimeCost, otpMemoryCost, otpParallelism, otpKeyLength)

	return "$argon2id$v=19$m=16384,t=1,p=1$" +
		base64.RawStdEncoding.EncodeToString(salt) + "$" +
		base64.RawStdEncoding.EncodeToString(hash), nil
}

// VerifyOTP checks code against a hash produced by HashOTP.
func VerifyOTP(code, hashed string) (bool, error) {
	parts := strings.Split(hashed, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, errors.New("invalid otp hash format")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, err
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(code), salt, otpTimeCost, otpMemoryCost, otpParallelism, uint32(len(hash)))
	return subtle.ConstantTimeCompare(computed, hash) == 1, nil
}
