package invite

import (
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hoodly/hoodlysync/internal/models"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 8
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{8}$`)

// GenerateCode returns an 8-character invite code drawn uniformly from
// [A-Z0-9]. Uniqueness is enforced by the remote store's unique constraint,
// not locally.
func GenerateCode() (string, error) {
	var b strings.Builder
	b.Grow(codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate invite code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// IsValidCode reports whether the code matches the external invite format.
func IsValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// FormatLink renders the shareable URL for an invite code.
func FormatLink(domain, code string) string {
	return fmt.Sprintf("https://%s/invite/%s", domain, code)
}

// ParseLink extracts the invite code from a shared URL, accepting both the
// https and the app deep-link scheme. Returns false when the URL does not
// carry a well-formed invite code.
func ParseLink(raw string) (string, bool) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false
	}

	path := strings.Trim(parsed.Path, "/")
	if parsed.Scheme == "app" && parsed.Host == "invite" {
		path = "invite/" + path
	}

	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] != "invite" {
		return "", false
	}
	if !IsValidCode(parts[1]) {
		return "", false
	}
	return parts[1], true
}

// ShareText renders the invite message for the link's type.
func ShareText(domain string, link models.InviteLink) string {
	shareURL := FormatLink(domain, link.Code)
	switch link.Type {
	case models.InviteTypeUser:
		return fmt.Sprintf("Join me on Hoodly! Use my invite code: %s\n\nDownload the app and enter this code to get exclusive rewards! 🎉\n\n%s", link.Code, shareURL)
	case models.InviteTypeGroup:
		return fmt.Sprintf("Join our group on Hoodly! Use this invite code: %s\n\n%s", link.Code, shareURL)
	case models.InviteTypeEvent:
		return fmt.Sprintf("Join our event on Hoodly! Use this invite code: %s\n\n%s", link.Code, shareURL)
	default:
		return fmt.Sprintf("Join Hoodly! Use this invite code: %s\n\n%s", link.Code, shareURL)
	}
}

// FormatExpiry renders a human-readable expiry phrase relative to now.
func FormatExpiry(expiresAt, now time.Time) string {
	if expiresAt.Before(now) {
		return "Expired"
	}

	days := int(math.Ceil(expiresAt.Sub(now).Hours() / 24))
	switch days {
	case 0:
		return "Expires today"
	case 1:
		return "Expires tomorrow"
	default:
		return fmt.Sprintf("Expires in %d days", days)
	}
}
