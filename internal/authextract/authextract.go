// Package authextract implements C4, the Auth Extractor: it guesses how an
// API authenticates and assembles a structured AuthInfo report (spec.md
// §4.4).
package authextract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/unbrowse-ai/harskill/internal/apidata"
)

// sortedKeys returns a map's keys in ascending order so clause matching
// over authHeaders/cookies is deterministic regardless of map iteration
// order.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var (
	apiKeyNameRx  = regexp.MustCompile(`^x?-?api[-_]?key$|^x-key$`)
	jwtNameRx     = regexp.MustCompile(`jwt|id[-_]?token`)
	sessionNameRx = regexp.MustCompile(`session|csrf|xsrf`)
	oauthNameRx   = regexp.MustCompile(`oauth`)
	authTokenRx   = regexp.MustCompile(`auth|token`)
	amzNameRx     = regexp.MustCompile(`amz`)

	cookieExactNames = map[string]struct{}{
		"session": {}, "sessionid": {}, "token": {}, "authtoken": {}, "jwt": {},
		"auth": {}, "access_token": {}, "id_token": {}, "refresh_token": {},
	}
	cookiePatternRx = regexp.MustCompile(`auth|token|session|access|jwt|id_token`)
)

// IsAuthHeaderName reports whether a header name is recognizable as
// auth-carrying by name alone (the subset of GuessAuthMethod's clauses that
// key on the header name rather than its value). internal/headerprofile
// uses this to classify headers into the "auth" category (spec.md §4.3).
func IsAuthHeaderName(name string) bool {
	lc := strings.ToLower(name)
	switch {
	case apiKeyNameRx.MatchString(lc):
		return true
	case jwtNameRx.MatchString(lc):
		return true
	case lc == "authorization":
		return true
	case sessionNameRx.MatchString(lc):
		return true
	case amzNameRx.MatchString(lc):
		return true
	case lc == "mudra":
		return true
	case oauthNameRx.MatchString(lc):
		return true
	case authTokenRx.MatchString(lc):
		return true
	}
	return false
}

// GuessAuthMethod labels the dominant auth mechanism from the observed
// headers and cookies, per the 13-clause ordered list in spec.md §4.4. The
// first matching clause wins.
func GuessAuthMethod(authHeaders, cookies map[string]string) string {
	for _, name := range sortedKeys(authHeaders) {
		v := authHeaders[name]
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			return "Bearer Token"
		}
	}
	for _, name := range sortedKeys(authHeaders) {
		if apiKeyNameRx.MatchString(strings.ToLower(name)) {
			return "API Key (" + name + ")"
		}
	}
	for _, name := range sortedKeys(authHeaders) {
		if jwtNameRx.MatchString(strings.ToLower(name)) {
			return "JWT (" + name + ")"
		}
	}
	for _, name := range sortedKeys(authHeaders) {
		v := authHeaders[name]
		if strings.ToLower(name) != "authorization" {
			continue
		}
		switch {
		case strings.HasPrefix(strings.ToLower(v), "basic"):
			return "Basic Auth"
		case strings.HasPrefix(strings.ToLower(v), "digest"):
			return "Digest Auth"
		default:
			return "Authorization Header"
		}
	}
	for _, name := range sortedKeys(authHeaders) {
		if sessionNameRx.MatchString(strings.ToLower(name)) {
			return "Session Token (" + name + ")"
		}
	}
	for _, name := range sortedKeys(authHeaders) {
		if amzNameRx.MatchString(strings.ToLower(name)) {
			return "AWS Signature"
		}
	}
	for _, name := range sortedKeys(authHeaders) {
		if strings.ToLower(name) == "mudra" {
			return "Mudra Token"
		}
	}
	for _, name := range sortedKeys(authHeaders) {
		if oauthNameRx.MatchString(strings.ToLower(name)) {
			return "OAuth (" + name + ")"
		}
	}
	for _, name := range sortedKeys(authHeaders) {
		if authTokenRx.MatchString(strings.ToLower(name)) {
			return "Custom Token (" + name + ")"
		}
	}
	for _, name := range sortedKeys(authHeaders) {
		if strings.HasPrefix(strings.ToLower(name), "x-") {
			return "Custom Header (" + name + ")"
		}
	}
	for _, name := range sortedKeys(cookies) {
		if _, ok := cookieExactNames[strings.ToLower(name)]; ok {
			return "Cookie-based (" + name + ")"
		}
	}
	for _, name := range sortedKeys(cookies) {
		if cookiePatternRx.MatchString(strings.ToLower(name)) {
			return "Cookie-based (" + name + ")"
		}
	}
	return "Unknown (may need login)"
}

// GenerateAuthInfo assembles the structured auth report spec.md §4.4
// describes: mudraToken's userId is the substring before the first "--",
// and outletIds is the comma-split value of authInfo["request_header_outletid"].
func GenerateAuthInfo(service string, data apidata.ApiData) apidata.AuthInfo {
	info := apidata.AuthInfo{
		Service:    service,
		BaseURL:    data.BaseURL,
		AuthMethod: GuessAuthMethod(data.AuthHeaders, data.Cookies),
		Headers:    make(map[string]string),
		Cookies:    make(map[string]string),
	}

	for _, name := range sortedKeys(data.AuthHeaders) {
		v := data.AuthHeaders[name]
		info.Headers[name] = v
		info.Notes = append(info.Notes, categorizeHeaderNote(name))
	}
	for name, v := range data.Cookies {
		info.Cookies[name] = v
	}

	if mudra, ok := data.AuthHeaders["mudra"]; ok {
		info.MudraToken = mudra
		if i := strings.Index(mudra, "--"); i >= 0 {
			info.UserID = mudra[:i]
		}
	}
	if outlet, ok := data.RawAuthInfo["request_header_outletid"]; ok && outlet != "" {
		info.OutletIDs = strings.Split(outlet, ",")
	}
	return info
}

func categorizeHeaderNote(name string) string {
	lc := strings.ToLower(name)
	switch {
	case apiKeyNameRx.MatchString(lc):
		return name + ": API key"
	case jwtNameRx.MatchString(lc), lc == "authorization":
		return name + ": auth token"
	case sessionNameRx.MatchString(lc):
		return name + ": session"
	default:
		return name + ": custom"
	}
}
