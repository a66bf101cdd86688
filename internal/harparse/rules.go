package harparse

import "strings"

// Rules bundles the curated lists the filter and extraction steps consult.
// Operators extend these via internal/config.FilterRulesConfig (wired
// through WithExtras) so the HAR filter's notion of "third party noise" or
// "auth-carrying header" can grow without a rebuild (see SPEC_FULL.md
// AMBIENT STACK).
type Rules struct {
	StaticExtensions    []string
	StaticPrefixes      []string
	ThirdPartySuffixes  []string
	AuthHeaderAllowlist []string
	XHeaderBlocklist    []string
}

// DefaultRules returns the curated lists spec.md §4.2 describes.
func DefaultRules() Rules {
	return Rules{
		StaticExtensions: []string{
			".css", ".js", ".png", ".jpg", ".jpeg", ".gif", ".svg",
			".woff", ".woff2", ".ico", ".map",
		},
		StaticPrefixes: []string{
			"/cdn-cgi/", "/_next/data/", "/__nextjs", "/sockjs-node/",
			"/favicon", "/manifest.json", "/robots.txt", "/sitemap",
		},
		ThirdPartySuffixes: []string{
			"google-analytics.com", "googletagmanager.com", "doubleclick.net",
			"facebook.net", "facebook.com", "connect.facebook.net",
			"hotjar.com", "segment.io", "segment.com", "mixpanel.com",
			"amplitude.com", "fullstory.com", "intercom.io", "zendesk.com",
			"hubspot.com", "cloudflare.com", "cloudflareinsights.com",
			"cloudfront.net", "akamaihd.net", "akamaitechnologies.com",
			"fastly.net", "jsdelivr.net", "unpkg.com", "cookiebot.com",
			"onetrust.com", "trustarc.com", "consensu.org",
			"auth0.com", "okta.com", "login.microsoftonline.com",
			"accounts.google.com", "sentry.io", "bugsnag.com",
			"datadoghq.com", "newrelic.com", "googlesyndication.com",
			"googleadservices.com", "doubleverify.com", "scorecardresearch.com",
			"quantserve.com", "criteo.com", "taboola.com", "outbrain.com",
			"braintreegateway.com", "paypal.com", "paypalobjects.com",
			"stripe.com", "stripe.network", "recaptcha.net", "gstatic.com",
		},
		AuthHeaderAllowlist: []string{
			"authorization", "x-api-key", "api-key", "apikey",
			"x-auth-token", "access-token", "x-access-token",
			"token", "x-token", "authtype", "mudra",
			"x-csrf-token", "x-xsrf-token", "csrf-token", "xsrf-token",
			"x-session-token", "x-session-id", "session-id",
			"x-oauth-token", "oauth-token", "id-token", "x-id-token",
			"jwt", "x-jwt", "refresh-token", "x-refresh-token",
			"x-amz-security-token", "x-goog-api-key", "ocp-apim-subscription-key",
		},
		XHeaderBlocklist: []string{
			"x-requested-with", "x-forwarded-for", "x-forwarded-host",
			"x-forwarded-proto", "x-forwarded-port", "x-forwarded-server",
			"x-real-ip", "x-frame-options", "x-request-id", "x-correlation-id",
			"x-content-type-options", "x-xss-protection", "x-download-options",
			"x-permitted-cross-domain-policies", "x-ua-compatible",
			"x-dns-prefetch-control",
		},
	}
}

// WithExtras returns a copy of r with each extra list appended to the
// corresponding built-in one, letting an operator recognize a new
// third-party domain or auth header without losing the curated defaults
// (internal/config.FilterRulesConfig, SPEC_FULL.md AMBIENT STACK).
func (r Rules) WithExtras(staticExtensions, thirdPartySuffixes, authHeaderAllowlist, xHeaderBlocklist []string) Rules {
	r.StaticExtensions = append(append([]string{}, r.StaticExtensions...), staticExtensions...)
	r.ThirdPartySuffixes = append(append([]string{}, r.ThirdPartySuffixes...), thirdPartySuffixes...)
	r.AuthHeaderAllowlist = append(append([]string{}, r.AuthHeaderAllowlist...), authHeaderAllowlist...)
	r.XHeaderBlocklist = append(append([]string{}, r.XHeaderBlocklist...), xHeaderBlocklist...)
	return r
}

func hasAnySuffixLiteral(host string, literals []string) bool {
	host = strings.ToLower(host)
	for _, lit := range literals {
		if strings.Contains(host, strings.ToLower(lit)) {
			return true
		}
	}
	return false
}
