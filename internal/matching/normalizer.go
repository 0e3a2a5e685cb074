package matching

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode"

	"github.com/nyaruka/phonenumbers"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	profileentity "github.com/ovaphlow/pitchfork/service-identity-go/internal/profile/entity"
)

const DefaultPhoneRegion = "IN"

var instagramHandle = regexp.MustCompile(`^[a-z0-9._]{1,30}$`)

// Normalizer canonicalizes raw identifiers per platform.
type Normalizer struct {
	region string
}

// NewNormalizer uses region to parse phone numbers written without a country code.
func NewNormalizer(region string) *Normalizer {
	if region == "" {
		region = DefaultPhoneRegion
	}
	return &Normalizer{region: strings.ToUpper(region)}
}

func (n *Normalizer) Normalize(platform profileentity.Platform, raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty %s identifier", ErrInvalidIdentifier, platform)
	}
	switch platform {
	case profileentity.PlatformEmail:
		return normalizeEmail(s)
	case profileentity.PlatformWhatsApp:
		return n.normalizePhone(s)
	case profileentity.PlatformDashboard:
		return normalizeHandle(platform, s)
	case profileentity.PlatformInstagram:
		h, err := normalizeHandle(platform, s)
		if err != nil {
			return "", err
		}
		if !instagramHandle.MatchString(h) {
			return "", fmt.Errorf("%w: instagram handle %q", ErrInvalidIdentifier, raw)
		}
		return h, nil
	}
	return "", fmt.Errorf("%w: unsupported platform %q", ErrInvalidIdentifier, platform)
}

func normalizeEmail(s string) (string, error) {
	s = strings.ToLower(s)
	if strings.Count(s, "@") != 1 {
		return "", fmt.Errorf("%w: email %q", ErrInvalidIdentifier, s)
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", fmt.Errorf("%w: email %q", ErrInvalidIdentifier, s)
	}
	local, domain, _ := strings.Cut(s, "@")
	if local == "" || domain == "" {
		return "", fmt.Errorf("%w: email %q", ErrInvalidIdentifier, s)
	}
	return s, nil
}

func (n *Normalizer) normalizePhone(s string) (string, error) {
	var b strings.Builder
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == '+' && b.Len() == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", fmt.Errorf("%w: phone number %q", ErrInvalidIdentifier, s)
		}
	}
	if digits < 7 || digits > 15 {
		return "", fmt.Errorf("%w: phone number %q has %d digits", ErrInvalidIdentifier, s, digits)
	}
	num, err := phonenumbers.Parse(b.String(), n.region)
	if err != nil {
		return "", fmt.Errorf("%w: phone number %q: %v", ErrInvalidIdentifier, s, err)
	}
	if !phonenumbers.IsValidNumber(num) && !phonenumbers.IsPossibleNumber(num) {
		return "", fmt.Errorf("%w: phone number %q", ErrInvalidIdentifier, s)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func normalizeHandle(platform profileentity.Platform, s string) (string, error) {
	h := strings.ToLower(strings.TrimPrefix(s, "@"))
	if h == "" || strings.IndexFunc(h, unicode.IsSpace) >= 0 {
		return "", fmt.Errorf("%w: %s handle %q", ErrInvalidIdentifier, platform, s)
	}
	return h, nil
}

// NormalizeName keeps letters, spaces, hyphens and apostrophes, collapses
// whitespace and title-cases the result.
func NormalizeName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), r == '-', r == '\'':
			return r
		case unicode.IsSpace(r):
			return ' '
		}
		return -1
	}, name)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" {
		return ""
	}
	// A Caser holds state, so each call gets its own.
	return cases.Title(language.Und).String(strings.ToLower(cleaned))
}

// LooseIdentifier is the comparison form of a normalized identifier: the local
// part of an email, the digits of a phone number, a handle without separators.
func LooseIdentifier(platform profileentity.Platform, normalized string) string {
	switch platform {
	case profileentity.PlatformEmail:
		local, _, _ := strings.Cut(normalized, "@")
		return stripSeparators(local)
	case profileentity.PlatformWhatsApp:
		return strings.Map(func(r rune) rune {
			if unicode.IsDigit(r) {
				return r
			}
			return -1
		}, normalized)
	}
	return stripSeparators(normalized)
}

func stripSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '.' || r == '_' || r == '-' || r == '+' {
			return -1
		}
		return r
	}, strings.ToLower(s))
}

// canonicalName picks the profile name for a new profile.
func canonicalName(displayName string, ids []Identifier) string {
	if n := NormalizeName(displayName); n != "" {
		return n
	}
	for _, p := range profileentity.Platforms {
		for _, id := range ids {
			if id.Platform != p {
				continue
			}
			if p == profileentity.PlatformEmail {
				local, _, _ := strings.Cut(id.Normalized, "@")
				return local
			}
			return id.Normalized
		}
	}
	return ""
}
