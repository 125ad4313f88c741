package auth

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "workoutstats-test"}

// signToken issues an HS256 token the way the identity provider does.
func signToken(claims Claims, cfg Config) (string, error) {
	scopes := make([]string, 0, len(claims.Scopes))
	for scope := range claims.Scopes {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":       claims.Subject,
		"tenant_id": claims.TenantID,
		"scopes":    scopes,
		"iss":       cfg.Issuer,
		"exp":       jwt.NewNumericDate(claims.ExpiresAt),
	})
	return token.SignedString([]byte(cfg.Secret))
}

func signed(t *testing.T, claims Claims) string {
	t.Helper()
	token, err := signToken(claims, testConfig)
	require.NoError(t, err)
	return token
}

func TestParseClaimsRoundTrip(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signed(t, Claims{
		Subject:   "user-1",
		TenantID:  "tenant-1",
		Scopes:    NewScopes(ScopeWorkoutsRead, ScopeWorkoutsWrite),
		ExpiresAt: exp,
	})

	claims, err := ParseClaims(token, testConfig)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "tenant-1", claims.TenantID)
	require.True(t, claims.HasScope(ScopeWorkoutsRead))
	require.True(t, claims.HasScope(ScopeWorkoutsWrite))
	require.False(t, claims.HasScope(ScopeStatsAdmin))
	require.True(t, exp.Equal(claims.ExpiresAt))
}

func TestParseClaimsRejects(t *testing.T) {
	valid := Claims{Subject: "u", TenantID: "t", ExpiresAt: time.Now().Add(time.Hour)}

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-jwt",
		"wrong secret": mustSign(t, valid, Config{Secret: "other", Issuer: testConfig.Issuer}),
		"wrong issuer": mustSign(t, valid, Config{Secret: testConfig.Secret, Issuer: "someone-else"}),
		"expired":      mustSign(t, Claims{Subject: "u", TenantID: "t", ExpiresAt: time.Now().Add(-time.Minute)}, testConfig),
		"no tenant":    mustSign(t, Claims{Subject: "u", ExpiresAt: time.Now().Add(time.Hour)}, testConfig),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseClaims(token, testConfig)
			require.Error(t, err)
		})
	}
}

func TestParseClaimsRejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub":       "u",
		"tenant_id": "t",
		"iss":       testConfig.Issuer,
		"exp":       jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	raw, err := token.SignedString([]byte(testConfig.Secret))
	require.NoError(t, err)

	_, err = ParseClaims(raw, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func mustSign(t *testing.T, claims Claims, cfg Config) string {
	t.Helper()
	token, err := signToken(claims, cfg)
	require.NoError(t, err)
	return token
}

func TestNormalizeScopesAcceptsSpaceSeparatedString(t *testing.T) {
	scopes := normalizeScopes("workouts:read  stats:admin")
	require.Len(t, scopes, 2)
	require.Contains(t, scopes, ScopeStatsAdmin)
}

func TestMiddleware(t *testing.T) {
	var seen *Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := NewMiddleware(testConfig, nil).Wrap(next)

	t.Run("missing token", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
		require.Equal(t, http.StatusUnauthorized, rr.Code)
		require.Contains(t, rr.Body.String(), `"type":"unauthorized"`)
	})

	t.Run("public path", func(t *testing.T) {
		seen = nil
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusNoContent, rr.Code)
		require.Nil(t, seen)
	})

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
		req.Header.Set("Authorization", "Bearer "+signed(t, Claims{
			Subject:   "user-1",
			TenantID:  "tenant-1",
			Scopes:    NewScopes(ScopeWorkoutsRead),
			ExpiresAt: time.Now().Add(time.Hour),
		}))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusNoContent, rr.Code)
		require.NotNil(t, seen)
		require.Equal(t, "user-1", seen.Subject)
	})

	t.Run("basic scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}
