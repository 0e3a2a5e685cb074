package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	profileentity "github.com/ovaphlow/pitchfork/service-identity-go/internal/profile/entity"
)

func TestNormalize(t *testing.T) {
	n := NewNormalizer("")
	cases := []struct {
		platform profileentity.Platform
		raw      string
		want     string
	}{
		{profileentity.PlatformEmail, "  Alice@Example.COM ", "alice@example.com"},
		{profileentity.PlatformEmail, "a@x.com", "a@x.com"},
		{profileentity.PlatformWhatsApp, "+91 98765 43210", "+919876543210"},
		{profileentity.PlatformWhatsApp, "98765-43210", "+919876543210"},
		{profileentity.PlatformWhatsApp, "+1 (415) 555-2671", "+14155552671"},
		{profileentity.PlatformDashboard, "@Admin.User", "admin.user"},
		{profileentity.PlatformInstagram, "@Alice_A", "alice_a"},
		{profileentity.PlatformInstagram, "alice.a", "alice.a"},
	}
	for _, tc := range cases {
		got, err := n.Normalize(tc.platform, tc.raw)
		require.NoError(t, err, "%s %q", tc.platform, tc.raw)
		assert.Equal(t, tc.want, got, "%s %q", tc.platform, tc.raw)
	}
}

func TestNormalize_Invalid(t *testing.T) {
	n := NewNormalizer("IN")
	cases := []struct {
		platform profileentity.Platform
		raw      string
	}{
		{profileentity.PlatformEmail, ""},
		{profileentity.PlatformEmail, "alice"},
		{profileentity.PlatformEmail, "a@@x.com"},
		{profileentity.PlatformEmail, "@x.com"},
		{profileentity.PlatformEmail, "a@"},
		{profileentity.PlatformEmail, "Alice <a@x.com>"},
		{profileentity.PlatformWhatsApp, "12345"},
		{profileentity.PlatformWhatsApp, "98765abc43"},
		{profileentity.PlatformWhatsApp, "+1234567890123456"},
		{profileentity.PlatformDashboard, "@"},
		{profileentity.PlatformDashboard, "two words"},
		{profileentity.PlatformInstagram, "alice-a"},
		{profileentity.PlatformInstagram, "a_very_long_handle_that_exceeds_thirty"},
		{"twitter", "alice"},
	}
	for _, tc := range cases {
		_, err := n.Normalize(tc.platform, tc.raw)
		assert.ErrorIs(t, err, ErrInvalidIdentifier, "%s %q", tc.platform, tc.raw)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	n := NewNormalizer("IN")
	for _, tc := range []struct {
		platform profileentity.Platform
		raw      string
	}{
		{profileentity.PlatformEmail, "Bob@Mail.com"},
		{profileentity.PlatformWhatsApp, "(+91) 98765 43210"},
		{profileentity.PlatformInstagram, "@Bob.B"},
	} {
		once, err := n.Normalize(tc.platform, tc.raw)
		require.NoError(t, err)
		twice, err := n.Normalize(tc.platform, once)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
	}
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "Alice A", NormalizeName("  alice   a "))
	assert.Equal(t, "Alice A", NormalizeName("ALICE A"))
	assert.Equal(t, "Alice A", NormalizeName("alice2 a!"))
	assert.Equal(t, "", NormalizeName("123 !!"))
}

func TestLooseIdentifier(t *testing.T) {
	assert.Equal(t, "aliceax", LooseIdentifier(profileentity.PlatformEmail, "alice.a+x@gmail.com"))
	assert.Equal(t, "919876543210", LooseIdentifier(profileentity.PlatformWhatsApp, "+919876543210"))
	assert.Equal(t, "alicea", LooseIdentifier(profileentity.PlatformInstagram, "alice_a"))
	assert.Equal(t, "alicea", LooseIdentifier(profileentity.PlatformDashboard, "alice-a"))
}

func TestCanonicalName(t *testing.T) {
	ids := []Identifier{
		{Platform: profileentity.PlatformInstagram, Normalized: "alice_a"},
		{Platform: profileentity.PlatformEmail, Normalized: "a@x.com"},
	}
	assert.Equal(t, "Alice A", canonicalName("alice a", ids))
	assert.Equal(t, "a", canonicalName("", ids))
	assert.Equal(t, "alice_a", canonicalName("", ids[:1]))
}
