package catalog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kursadbilgin/course-relay/internal/domain"
)

// Credentials is the per-batch auth material. It is immutable once parsed and is handed to
// every request explicitly, so concurrent runs never share header state.
type Credentials struct {
	token  string
	userID string
}

// ParseCredentials extracts the user id from the platform's JWT without verifying it.
// A token that cannot be parsed is a fatal configuration error for the run.
func ParseCredentials(token string) (Credentials, error) {
	trimmed := strings.TrimSpace(token)
	trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "Bearer "))
	if trimmed == "" {
		return Credentials{}, fmt.Errorf("%w: empty token", domain.ErrMalformedCredential)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(trimmed, claims); err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", domain.ErrMalformedCredential, err)
	}

	userID := ""
	for _, key := range []string{"id", "user_id", "userid", "sub"} {
		if v, ok := claims[key]; ok {
			userID = claimString(v)
			if userID != "" {
				break
			}
		}
	}
	if userID == "" {
		return Credentials{}, fmt.Errorf("%w: token carries no user id", domain.ErrMalformedCredential)
	}

	return Credentials{token: trimmed, userID: userID}, nil
}

func (c Credentials) UserID() string { return c.userID }

// Headers returns a fresh header map for one request.
func (c Credentials) Headers() map[string]string {
	return map[string]string{
		"Authorization":  c.token,
		"User-ID":        c.userID,
		"Client-Service": "Appx",
		"Auth-Key":       "appxapi",
		"source":         "website",
		"User-Agent":     "okhttp/4.9.1",
		"Accept":         "application/json",
	}
}

func claimString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	}
	return ""
}
