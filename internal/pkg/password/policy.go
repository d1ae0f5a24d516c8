package password

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	DefaultMinLength = 8
	// MaxBytes is the bcrypt input limit.
	MaxBytes = 72
)

// Policy is the set of clauses a new password must satisfy.
type Policy struct {
	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

// DefaultPolicy requires all four character classes and 8+ characters.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:      DefaultMinLength,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
	}
}

// PolicyError lists every violated clause.
type PolicyError struct {
	Violations []string
}

func (e *PolicyError) Error() string {
	return "password must " + strings.Join(e.Violations, ", ")
}

func (p Policy) Validate(pw string) error {
	var violations []string

	minLen := p.MinLength
	if minLen < DefaultMinLength {
		minLen = DefaultMinLength
	}
	if len([]rune(pw)) < minLen {
		violations = append(violations, fmt.Sprintf("be at least %d characters long", minLen))
	}
	if len(pw) > MaxBytes {
		violations = append(violations, fmt.Sprintf("be at most %d bytes long", MaxBytes))
	}

	var upper, lower, digit, special bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsLetter(r) && !unicode.IsNumber(r):
			special = true
		}
	}
	if p.RequireUpper && !upper {
		violations = append(violations, "contain an uppercase letter")
	}
	if p.RequireLower && !lower {
		violations = append(violations, "contain a lowercase letter")
	}
	if p.RequireDigit && !digit {
		violations = append(violations, "contain a digit")
	}
	if p.RequireSpecial && !special {
		violations = append(violations, "contain a non-alphanumeric character")
	}

	if len(violations) > 0 {
		return &PolicyError{Violations: violations}
	}
	return nil
}
