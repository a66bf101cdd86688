package harparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unbrowse-ai/harskill/internal/har"
)

func jsonEntry(method, url string, status int) har.Entry {
	return har.Entry{
		Request:  har.Request{Method: method, URL: url},
		Response: har.Response{Status: status, Headers: []har.NameValue{{Name: "Content-Type", Value: "application/json"}}},
	}
}

func TestParseHarFiltersStaticAndThirdParty(t *testing.T) {
	entries := []har.Entry{
		jsonEntry("GET", "https://api.acme.test/api/v1/widgets", 200),
		{Request: har.Request{Method: "GET", URL: "https://api.acme.test/static/app.js"}},
		{Request: har.Request{Method: "GET", URL: "https://www.google-analytics.com/collect"}},
		{Request: har.Request{Method: "GET", URL: "not a url"}},
	}
	data := ParseHar(entries, "https://acme.test/", DefaultRules())
	require.Len(t, data.Endpoints, 1)
	eps, ok := data.Endpoints["api.acme.test:/api/v1/widgets"]
	require.True(t, ok)
	assert.Len(t, eps, 1)
}

func TestParseHarDropsHTMLNavigation(t *testing.T) {
	entries := []har.Entry{
		jsonEntry("GET", "https://api.acme.test/api/v1/widgets", 200),
		{
			Request:  har.Request{Method: "GET", URL: "https://acme.test/dashboard", Headers: []har.NameValue{{Name: "Accept", Value: "text/html,application/xhtml+xml"}}},
			Response: har.Response{Status: 200, Headers: []har.NameValue{{Name: "Content-Type", Value: "text/html"}}},
		},
	}
	data := ParseHar(entries, "", DefaultRules())
	for key := range data.Endpoints {
		assert.NotContains(t, key, "/dashboard")
	}
}

func TestParseHarAPILikenessConditionalPerDomain(t *testing.T) {
	// acme.test has one API-like entry and one non-API-like entry; the
	// non-API-like one should be dropped because the domain has API traffic.
	htmlFreeEntry := func(method, url string, status int) har.Entry {
		return har.Entry{
			Request:  har.Request{Method: method, URL: url},
			Response: har.Response{Status: status, Headers: []har.NameValue{{Name: "Content-Type", Value: "text/plain"}}},
		}
	}
	entries := []har.Entry{
		jsonEntry("GET", "https://acme.test/api/v1/widgets", 200),
		htmlFreeEntry("GET", "https://acme.test/ping", 200),
		// other.test has no API-like entry at all, so its only entry (a
		// plain GET, non-JSON response) is kept rather than dropped outright.
		htmlFreeEntry("GET", "https://other.test/status", 200),
	}
	data := ParseHar(entries, "", DefaultRules())
	_, hasPing := data.Endpoints["acme.test:/ping"]
	assert.False(t, hasPing)
	_, hasWidgets := data.Endpoints["acme.test:/api/v1/widgets"]
	assert.True(t, hasWidgets)
}

func TestHarvestAuthHeadersAllowlistAndXPrefix(t *testing.T) {
	entries := []har.Entry{
		{
			Request: har.Request{
				Method: "POST",
				URL:    "https://api.acme.test/api/v1/login",
				Headers: []har.NameValue{
					{Name: "Authorization", Value: "Bearer abc123"},
					{Name: "X-Custom-Tenant", Value: "acme"},
					{Name: "X-Requested-With", Value: "XMLHttpRequest"},
				},
			},
			Response: har.Response{Status: 200},
		},
	}
	data := ParseHar(entries, "", DefaultRules())
	assert.Equal(t, "Bearer abc123", data.AuthHeaders["authorization"])
	assert.Equal(t, "acme", data.AuthHeaders["x-custom-tenant"])
	_, blocked := data.AuthHeaders["x-requested-with"]
	assert.False(t, blocked)
}

func TestHarvestCookiesFromRequestAndSetCookie(t *testing.T) {
	entries := []har.Entry{
		{
			Request: har.Request{
				Method:  "GET",
				URL:     "https://api.acme.test/api/v1/me",
				Cookies: []har.NameValue{{Name: "sid", Value: "req-value"}},
			},
			Response: har.Response{
				Status: 200,
				Headers: []har.NameValue{
					{Name: "Set-Cookie", Value: "csrf=tok==; Path=/; HttpOnly"},
				},
			},
		},
	}
	data := ParseHar(entries, "", DefaultRules())
	assert.Equal(t, "req-value", data.Cookies["sid"])
	assert.Equal(t, "tok==", data.Cookies["csrf"])
}

func TestDeriveServiceName(t *testing.T) {
	cases := map[string]string{
		"api.acme.test":   "acme",
		"www.acme.com":    "acme",
		"v1.acme.io":      "acme",
		"userserv.acme.co.uk": "acme",
		"":                "",
	}
	for host, want := range cases {
		assert.Equal(t, want, deriveServiceName(host), host)
	}
}

func TestChooseBaseURLPrefersAPISubdomainOverSeed(t *testing.T) {
	counts := map[string]int{"acme.test": 1, "api.acme.test": 5, "other.test": 9}
	got := chooseBaseURL("https://acme.test/", counts)
	assert.Equal(t, "api.acme.test", got)
}

func TestChooseBaseURLFallsBackToSeedThenMostFrequent(t *testing.T) {
	counts := map[string]int{"acme.test": 1}
	assert.Equal(t, "acme.test", chooseBaseURL("https://acme.test/", counts))

	counts2 := map[string]int{"a.test": 1, "b.test": 5}
	assert.Equal(t, "b.test", chooseBaseURL("", counts2))
}

func TestMergeOpenApiEndpointsAddsSyntheticFromSpec(t *testing.T) {
	data := ParseHar(nil, "", DefaultRules())
	data = MergeOpenApiEndpoints(data, []OpenApiOp{
		{Method: "GET", Path: "/api/v1/widgets/{id}", Summary: "fetch widget"},
	}, "https://api.acme.test")
	eps := data.Endpoints["api.acme.test:/api/v1/widgets/{id}"]
	require.Len(t, eps, 1)
	assert.True(t, eps[0].FromSpec)
	assert.Equal(t, "GET", eps[0].Method)
}

func TestMergeOpenApiEndpointsSkipsAlreadyObserved(t *testing.T) {
	data := ParseHar([]har.Entry{jsonEntry("GET", "https://api.acme.test/api/v1/widgets", 200)}, "", DefaultRules())
	data = MergeOpenApiEndpoints(data, []OpenApiOp{
		{Method: "GET", Path: "/api/v1/widgets", Summary: "list"},
	}, "https://api.acme.test")
	eps := data.Endpoints["api.acme.test:/api/v1/widgets"]
	require.Len(t, eps, 1)
	assert.False(t, eps[0].FromSpec)
}
