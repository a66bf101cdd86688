package authextract

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unbrowse-ai/harskill/internal/apidata"
)

func TestGuessAuthMethodBearer(t *testing.T) {
	got := GuessAuthMethod(map[string]string{"authorization": "Bearer abc.def.ghi"}, nil)
	assert.Equal(t, "Bearer Token", got)
}

func TestGuessAuthMethodAPIKey(t *testing.T) {
	got := GuessAuthMethod(map[string]string{"x-api-key": "secret"}, nil)
	assert.Equal(t, "API Key (x-api-key)", got)
}

func TestGuessAuthMethodAuthorizationBasic(t *testing.T) {
	got := GuessAuthMethod(map[string]string{"authorization": "Basic dXNlcjpwYXNz"}, nil)
	assert.Equal(t, "Basic Auth", got)
}

func TestGuessAuthMethodAuthorizationDigest(t *testing.T) {
	got := GuessAuthMethod(map[string]string{"authorization": "Digest username=x"}, nil)
	assert.Equal(t, "Digest Auth", got)
}

func TestGuessAuthMethodAuthorizationOther(t *testing.T) {
	got := GuessAuthMethod(map[string]string{"authorization": "CustomScheme xyz"}, nil)
	assert.Equal(t, "Authorization Header", got)
}

func TestGuessAuthMethodSessionHeader(t *testing.T) {
	got := GuessAuthMethod(map[string]string{"x-csrf-token": "t"}, nil)
	assert.Equal(t, "Session Token (x-csrf-token)", got)
}

func TestGuessAuthMethodMudra(t *testing.T) {
	got := GuessAuthMethod(map[string]string{"mudra": "abc--def"}, nil)
	assert.Equal(t, "Mudra Token", got)
}

func TestGuessAuthMethodCustomXHeaderFallback(t *testing.T) {
	got := GuessAuthMethod(map[string]string{"x-tenant-id": "acme"}, nil)
	assert.Equal(t, "Custom Header (x-tenant-id)", got)
}

func TestGuessAuthMethodCookieExact(t *testing.T) {
	got := GuessAuthMethod(nil, map[string]string{"sessionid": "abc"})
	assert.Equal(t, "Cookie-based (sessionid)", got)
}

func TestGuessAuthMethodCookiePattern(t *testing.T) {
	got := GuessAuthMethod(nil, map[string]string{"my_auth_cookie": "abc"})
	assert.Equal(t, "Cookie-based (my_auth_cookie)", got)
}

func TestGuessAuthMethodUnknown(t *testing.T) {
	got := GuessAuthMethod(nil, nil)
	assert.Equal(t, "Unknown (may need login)", got)
}

func TestGuessAuthMethodDeterministicAcrossMultipleCandidates(t *testing.T) {
	headers := map[string]string{"x-aardvark-id": "a", "x-zebra-id": "z"}
	for i := 0; i < 20; i++ {
		got := GuessAuthMethod(headers, nil)
		assert.Equal(t, "Custom Header (x-aardvark-id)", got)
	}
}

func TestGenerateAuthInfoMudraAndOutlets(t *testing.T) {
	data := apidata.ApiData{
		Service: "acme",
		BaseURL: "api.acme.test",
		AuthHeaders: map[string]string{
			"mudra": "user-42--sig",
		},
		Cookies: map[string]string{},
		RawAuthInfo: map[string]string{
			"request_header_outletid": "1,2,3",
		},
	}
	info := GenerateAuthInfo("acme", data)
	assert.Equal(t, "user-42", info.UserID)
	assert.Equal(t, "user-42--sig", info.MudraToken)
	assert.Equal(t, []string{"1", "2", "3"}, info.OutletIDs)
	assert.Equal(t, "Mudra Token", info.AuthMethod)
}

func TestIsAuthHeaderName(t *testing.T) {
	assert.True(t, IsAuthHeaderName("Authorization"))
	assert.True(t, IsAuthHeaderName("x-api-key"))
	assert.True(t, IsAuthHeaderName("x-csrf-token"))
	assert.False(t, IsAuthHeaderName("accept-language"))
	assert.False(t, IsAuthHeaderName("user-agent"))
}
