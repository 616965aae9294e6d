package services

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	argon2Variant = "argon2id"
	argon2Version = "v=19"

	argon2Memory      uint32 = 19 * 1024
	argon2Iterations  uint32 = 2
	argon2Parallelism uint8  = 1
	argon2SaltLength         = 16
	argon2KeyLength   uint32 = 32

	temporaryPasswordLength = 16
)

const (
	lowerChars  = "abcdefghijkmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	digitChars  = "23456789"
	symbolChars = "!@#$%^&*-_=+?"
)

// PasswordVault hashes and verifies admin credentials.
type PasswordVault struct {
	minLength int
}

func NewPasswordVault(minLength int) *PasswordVault {
	if minLength <= 0 {
		minLength = 12
	}
	return &PasswordVault{minLength: minLength}
}

// Hash returns an encoded Argon2id hash:
// argon2id$v=19$m=<memory>,t=<iterations>,p=<parallelism>$<salt>$<hash>
func (v *PasswordVault) Hash(password string) (string, error) {
	if password == "" {
		return "", invalidField("password", "is required")
	}

	salt := make([]byte, argon2SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", &InternalError{Op: "generate salt", Err: err}
	}

	sum := argon2.IDKey([]byte(password), salt, argon2Iterations, argon2Memory, argon2Parallelism, argon2KeyLength)

	return strings.Join([]string{
		argon2Variant,
		argon2Version,
		fmt.Sprintf("m=%d,t=%d,p=%d", argon2Memory, argon2Iterations, argon2Parallelism),
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	}, "$"), nil
}

// Verify never fails loudly: malformed hashes and empty input are a plain
// mismatch.
func (v *PasswordVault) Verify(encoded, password string) bool {
	if encoded == "" || password == "" {
		return false
	}

	if isBcryptHash(encoded) {
		return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password)) == nil
	}

	memory, iterations, parallelism, salt, expected, ok := decodeArgon2(encoded)
	if !ok {
		return false
	}

	computed := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

// NeedsRehash reports hashes written by the bcrypt-based panel or with
// weaker Argon2 parameters than the current ones.
func (v *PasswordVault) NeedsRehash(encoded string) bool {
	if isBcryptHash(encoded) {
		return true
	}
	memory, iterations, parallelism, _, key, ok := decodeArgon2(encoded)
	if !ok {
		return true
	}
	return memory < argon2Memory || iterations < argon2Iterations || parallelism != argon2Parallelism || uint32(len(key)) < argon2KeyLength
}

// GenerateTemporary returns a random password containing every character
// class. It is handed to the caller once and only its hash is stored.
func (v *PasswordVault) GenerateTemporary() (string, error) {
	classes := []string{lowerChars, upperChars, digitChars, symbolChars}
	alphabet := strings.Join(classes, "")

	out := make([]byte, temporaryPasswordLength)
	for i, class := range classes {
		c, err := randomChar(class)
		if err != nil {
			return "", err
		}
		out[i] = c
	}
	for i := len(classes); i < len(out); i++ {
		c, err := randomChar(alphabet)
		if err != nil {
			return "", err
		}
		out[i] = c
	}

	// Fisher-Yates so the guaranteed classes are not always in front.
	for i := len(out) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", &InternalError{Op: "shuffle temporary password", Err: err}
		}
		j := n.Int64()
		out[i], out[j] = out[j], out[i]
	}

	return string(out), nil
}

// CheckStrength validates a password chosen by a person.
func (v *PasswordVault) CheckStrength(field, password string) error {
	if len(password) < v.minLength {
		return invalidField(field, fmt.Sprintf("must be at least %d characters", v.minLength))
	}

	var lower, upper, digit, other bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			other = true
		}
	}

	classes := 0
	for _, present := range []bool{lower, upper, digit, other} {
		if present {
			classes++
		}
	}
	if classes < 3 {
		return invalidField(field, "must mix at least three of lowercase, uppercase, digits and symbols")
	}
	return nil
}

func randomChar(alphabet string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
	if err != nil {
		return 0, &InternalError{Op: "generate temporary password", Err: err}
	}
	return alphabet[n.Int64()], nil
}

func isBcryptHash(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") || strings.HasPrefix(encoded, "$2b$") || strings.HasPrefix(encoded, "$2y$")
}

func decodeArgon2(encoded string) (memory, iterations uint32, parallelism uint8, salt, key []byte, ok bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[0] != argon2Variant || parts[1] != argon2Version {
		return 0, 0, 0, nil, nil, false
	}

	for _, entry := range strings.Split(parts[2], ",") {
		name, value, found := strings.Cut(entry, "=")
		if !found {
			return 0, 0, 0, nil, nil, false
		}
		switch name {
		case "m":
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return 0, 0, 0, nil, nil, false
			}
			memory = uint32(n)
		case "t":
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return 0, 0, 0, nil, nil, false
			}
			iterations = uint32(n)
		case "p":
			n, err := strconv.ParseUint(value, 10, 8)
			if err != nil {
				return 0, 0, 0, nil, nil, false
			}
			parallelism = uint8(n)
		default:
			return 0, 0, 0, nil, nil, false
		}
	}
	if memory == 0 || iterations == 0 || parallelism == 0 {
		return 0, 0, 0, nil, nil, false
	}

	var err error
	if salt, err = base64.RawStdEncoding.DecodeString(parts[3]); err != nil || len(salt) == 0 {
		return 0, 0, 0, nil, nil, false
	}
	if key, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || len(key) == 0 {
		return 0, 0, 0, nil, nil, false
	}
	return memory, iterations, parallelism, salt, key, true
}
