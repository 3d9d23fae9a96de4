package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJWTProviderRoundTrip(t *testing.T) {
	provider := NewJWTProvider("secret", "deepsearch")

	token, err := provider.IssueToken("user-42", time.Minute)
	require.NoError(t, err)

	user, err := provider.Authenticate(token)
	require.NoError(t, err)
	require.Equal(t, "user-42", user.ID)
}

func TestJWTProviderRejects(t *testing.T) {
	provider := NewJWTProvider("secret", "deepsearch")

	expired := NewJWTProvider("secret", "deepsearch")
	expiredToken, err := expired.IssueToken("user-42", -time.Minute)
	require.NoError(t, err)

	otherSecret := NewJWTProvider("other", "deepsearch")
	forged, err := otherSecret.IssueToken("user-42", time.Minute)
	require.NoError(t, err)

	otherIssuer := NewJWTProvider("secret", "someone-else")
	wrongIssuer, err := otherIssuer.IssueToken("user-42", time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"expired", expiredToken},
		{"wrong secret", forged},
		{"wrong issuer", wrongIssuer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := provider.Authenticate(tt.token)
			require.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"missing", "", ""},
		{"bearer", "Bearer abc.def.ghi", "abc.def.ghi"},
		{"lowercase scheme", "bearer abc", "abc"},
		{"wrong scheme", "Basic abc", ""},
		{"scheme only", "Bearer", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/v1/chat", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			require.Equal(t, tt.want, TokenFromRequest(r))
		})
	}
}
