package harparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRulesWithExtrasAppendsWithoutDroppingDefaults(t *testing.T) {
	base := DefaultRules()
	extended := base.WithExtras(
		[]string{".avif"},
		[]string{"tracker.example"},
		[]string{"x-internal-token"},
		[]string{"x-custom-blocked"},
	)

	assert.Contains(t, extended.StaticExtensions, ".css")
	assert.Contains(t, extended.StaticExtensions, ".avif")
	assert.Contains(t, extended.ThirdPartySuffixes, "google-analytics.com")
	assert.Contains(t, extended.ThirdPartySuffixes, "tracker.example")
	assert.Contains(t, extended.AuthHeaderAllowlist, "x-internal-token")
	assert.Contains(t, extended.XHeaderBlocklist, "x-custom-blocked")

	assert.Len(t, base.StaticExtensions, len(DefaultRules().StaticExtensions), "WithExtras must not mutate the receiver's backing arrays")
	assert.NotContains(t, base.ThirdPartySuffixes, "tracker.example")
}
