package headerprofile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unbrowse-ai/harskill/internal/apidata"
	"github.com/unbrowse-ai/harskill/internal/capture"
)

func TestClassifyOrderingFirstMatchWins(t *testing.T) {
	assert.Equal(t, apidata.CategoryProtocol, Classify(":authority"))
	assert.Equal(t, apidata.CategoryProtocol, Classify("Host"))
	assert.Equal(t, apidata.CategoryAuth, Classify("Authorization"))
	assert.Equal(t, apidata.CategoryBrowser, Classify("Sec-Fetch-Mode"))
	assert.Equal(t, apidata.CategoryBrowser, Classify("Accept-Encoding"))
	assert.Equal(t, apidata.CategoryContext, Classify("User-Agent"))
	assert.Equal(t, apidata.CategoryApp, Classify("X-Tenant-Id"))
}

func exchange(domain, headerName, headerValue string) capture.Exchange {
	return capture.Exchange{
		Request: capture.Bag{
			URL: "https://" + domain + "/api/v1/widgets",
			Headers: map[string]string{
				"host":     domain,
				headerName: headerValue,
			},
			HeaderNames: map[string]string{
				"host":     "Host",
				headerName: headerName,
			},
		},
	}
}

func TestBuildProfileAppHeaderRequiresFrequency(t *testing.T) {
	exchanges := []capture.Exchange{
		exchange("api.acme.test", "x-tenant-id", "acme"),
		exchange("api.acme.test", "x-tenant-id", "acme"),
		{Request: capture.Bag{URL: "https://api.acme.test/api/v1/other", Headers: map[string]string{}, HeaderNames: map[string]string{}}},
	}
	opts := Options{AppFrequencyThreshold: 0.5}
	profile := BuildProfile(exchanges, &opts)
	dp, ok := profile.Domains["api.acme.test"]
	require.True(t, ok)
	assert.Equal(t, 3, dp.RequestCount)
	observed, ok := dp.CommonHeaders["x-tenant-id"]
	require.True(t, ok)
	assert.Equal(t, "acme", observed.Value)
	assert.Equal(t, apidata.CategoryApp, observed.Category)
}

func TestBuildProfileSkipsAuthAndProtocolHeaders(t *testing.T) {
	exchanges := []capture.Exchange{exchange("api.acme.test", "authorization", "Bearer x")}
	profile := BuildProfile(exchanges, nil)
	dp := profile.Domains["api.acme.test"]
	_, hasAuth := dp.CommonHeaders["authorization"]
	assert.False(t, hasAuth)
	_, hasHost := dp.CommonHeaders["host"]
	assert.False(t, hasHost)
}

func TestResolveHeadersLayersAndCookieJoin(t *testing.T) {
	profile := &apidata.HeaderProfile{
		Domains: map[string]apidata.DomainProfile{
			"api.acme.test": {
				CommonHeaders: map[string]apidata.ObservedHeader{
					"x-tenant-id": {OriginalName: "X-Tenant-Id", Value: "acme", Category: apidata.CategoryApp},
					"user-agent":  {OriginalName: "User-Agent", Value: "curl/8", Category: apidata.CategoryContext},
				},
			},
		},
		EndpointOverrides: map[string]map[string]string{},
	}
	SetEndpointOverride(profile, "GET", "/api/v1/widgets", "X-Feature-Flag", "on")

	authHeaders := map[string]string{"Authorization": "Bearer z"}
	cookies := map[string]string{"b": "2", "a": "1"}

	nodeResult := ResolveHeaders(profile, "api.acme.test", "GET", "/api/v1/widgets", authHeaders, cookies, ModeNode)
	assert.Equal(t, "acme", nodeResult["X-Tenant-Id"])
	_, hasUA := nodeResult["User-Agent"]
	assert.False(t, hasUA, "node mode must exclude context headers")
	assert.Equal(t, "on", nodeResult["X-Feature-Flag"])
	assert.Equal(t, "Bearer z", nodeResult["Authorization"])
	assert.Equal(t, "a=1; b=2", nodeResult["Cookie"])

	browserResult := ResolveHeaders(profile, "api.acme.test", "GET", "/api/v1/widgets", authHeaders, cookies, ModeBrowser)
	assert.Equal(t, "curl/8", browserResult["User-Agent"])
}

func TestClassifyWithOverrideReclassifiesHeader(t *testing.T) {
	overrides, err := NewCategoryOverrides(map[apidata.HeaderCategory]string{
		apidata.CategoryAuth: `header.lower.startsWith("x-tenant")`,
	})
	require.NoError(t, err)
	assert.Equal(t, apidata.CategoryAuth, ClassifyWith("X-Tenant-Id", overrides))
	assert.Equal(t, apidata.CategoryApp, ClassifyWith("X-Other", overrides))
}

func TestClassifyWithNilOverridesFallsBackToClassify(t *testing.T) {
	assert.Equal(t, Classify("Authorization"), ClassifyWith("Authorization", nil))
}

func TestResolveHeadersAuthAlwaysWinsOverAppHeader(t *testing.T) {
	profile := &apidata.HeaderProfile{
		Domains: map[string]apidata.DomainProfile{
			"api.acme.test": {
				CommonHeaders: map[string]apidata.ObservedHeader{
					"authorization": {OriginalName: "Authorization", Value: "stale", Category: apidata.CategoryAuth},
				},
			},
		},
	}
	// authorization would never actually land in CommonHeaders (BuildProfile
	// excludes auth), but resolveHeaders must still let authHeaders win if
	// a profile were hand-constructed with one present.
	result := ResolveHeaders(profile, "api.acme.test", "GET", "/x", map[string]string{"Authorization": "fresh"}, nil, ModeNode)
	assert.Equal(t, "fresh", result["Authorization"])
}
