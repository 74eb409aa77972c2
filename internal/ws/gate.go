package ws

import (
	"net/http"
	"strings"
)

// AccessTokenCookie is the cookie that carries the bearer token.
const AccessTokenCookie = "access_token"

// Rejection is the HTTP response written instead of upgrading.
type Rejection struct {
	Status int
	Body   string
}

// ExtractAccessToken reads the access token from the Cookie headers of an
// upgrade request. It only checks that a token is present; validating it is
// left to the identity resolver.
func ExtractAccessToken(h http.Header) (string, *Rejection) {
	cookies := make(map[string]string)

	for _, header := range h.Values("Cookie") {
		for _, pair := range strings.Split(header, ";") {
			pair = strings.TrimSpace(pair)
			name, value, ok := strings.Cut(pair, "=")
			if !ok {
				continue
			}
			cookies[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
	}

	token := cookies[AccessTokenCookie]
	if token == "" {
		return "", &Rejection{
			Status: http.StatusUnauthorized,
			Body:   "No Token Provided!",
		}
	}

	return token, nil
}
