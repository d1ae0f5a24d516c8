package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
)

var otpRegex = regexp.MustCompile(`^\d{6}$`)

// resetTokenBytes gives 256 bits of entropy.
const resetTokenBytes = 32

// Secrets mints OTPs and reset tokens and derives the digests stored for them.
// Only digests are persisted; the raw values exist in the outgoing mail only.
type Secrets struct {
	pepper []byte
	otp    func() (string, error)
}

func NewSecrets(pepper string) *Secrets {
	return &Secrets{pepper: []byte(pepper), otp: randomOTP}
}

// WithOTPSource overrides code generation; tests use it to pin the code.
func (s *Secrets) WithOTPSource(gen func() (string, error)) *Secrets {
	s.otp = gen
	return s
}

func (s *Secrets) NewOTP() (code, digest string, err error) {
	code, err = s.otp()
	if err != nil {
		return "", "", err
	}
	return code, s.digest("otp", code), nil
}

// MatchOTP compares a submitted code with the stored digest in constant time.
func (s *Secrets) MatchOTP(code, digest string) bool {
	if !otpRegex.MatchString(code) || digest == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.digest("otp", code)), []byte(digest)) == 1
}

// ValidOTPFormat reports whether code is exactly six digits.
func ValidOTPFormat(code string) bool { return otpRegex.MatchString(code) }

// NewResetToken returns a URL-safe token and the digest to store.
func (s *Secrets) NewResetToken() (raw, digest string, err error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate reset token: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(b)
	return raw, s.digest("reset", raw), nil
}

// ResetDigest is the lookup key for a submitted reset token.
func (s *Secrets) ResetDigest(raw string) string {
	return s.digest("reset", raw)
}

func (s *Secrets) digest(purpose, value string) string {
	mac := hmac.New(sha256.New, s.pepper)
	mac.Write([]byte(purpose))
	mac.Write([]byte{0})
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

func randomOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
