package shared

import (
	"regexp"
	"strconv"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UserID is the stable external identifier of a bot user (Telegram user id).
type UserID int64

// IsValid checks if the user id is valid (positive number).
func (u UserID) IsValid() bool {
	return u > 0
}

// Int64 returns the underlying int64 value.
func (u UserID) Int64() int64 {
	return int64(u)
}

// String returns the decimal representation; also used as the document key.
func (u UserID) String() string {
	return strconv.FormatInt(int64(u), 10)
}

// ParseUserID parses a document key back into a UserID.
func ParseUserID(s string) (UserID, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, WrapError("shared", "ParseUserID", ErrInvalidFormat, "invalid user id "+strconv.Quote(s), err)
	}
	return UserID(id), nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Contact Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// Phone is a Russian mobile number normalized to +7XXXXXXXXXX.
type Phone string

var phoneStripper = strings.NewReplacer(" ", "", "\t", "", "-", "", "(", "", ")", "")

// ParsePhone strips separators and accepts +7, 8 or 7 followed by ten digits.
func ParsePhone(raw string) (Phone, bool) {
	s := phoneStripper.Replace(strings.TrimSpace(raw))

	var rest string
	switch {
	case strings.HasPrefix(s, "+7"):
		rest = s[2:]
	case strings.HasPrefix(s, "8"), strings.HasPrefix(s, "7"):
		rest = s[1:]
	default:
		return "", false
	}

	if len(rest) != 10 || !IsDigits(rest) {
		return "", false
	}
	return Phone("+7" + rest), true
}

// String returns the normalized form.
func (p Phone) String() string {
	return string(p)
}

// Email is a syntactically valid local@domain.tld address.
type Email string

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// ParseEmail validates the address shape.
func ParseEmail(raw string) (Email, bool) {
	s := strings.TrimSpace(raw)
	if !emailRegex.MatchString(s) {
		return "", false
	}
	return Email(s), true
}

// String returns the address.
func (e Email) String() string {
	return string(e)
}

// IsDigits reports whether s is non-empty and consists of ASCII digits only.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
