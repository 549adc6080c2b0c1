package probe

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRateLimit(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		headers   map[string]string
		aliases   RateLimitHeaders
		wantNil   bool
		limit     int
		remaining int
		resetAt   *time.Time
	}{
		{
			name:    "no headers",
			headers: map[string]string{},
			wantNil: true,
		},
		{
			name:    "limit without remaining",
			headers: map[string]string{"X-RateLimit-Limit": "100"},
			wantNil: true,
		},
		{
			name:    "non-numeric limit",
			headers: map[string]string{"X-RateLimit-Limit": "lots", "X-RateLimit-Remaining": "1"},
			wantNil: true,
		},
		{
			name:      "epoch reset",
			headers:   map[string]string{"X-RateLimit-Limit": "100", "X-RateLimit-Remaining": "42", "X-RateLimit-Reset": "1772370000"},
			limit:     100,
			remaining: 42,
			resetAt:   ptrTime(time.Unix(1772370000, 0).UTC()),
		},
		{
			name:      "delta reset",
			headers:   map[string]string{"X-RateLimit-Limit": "10", "X-RateLimit-Remaining": "0", "X-RateLimit-Reset": "30"},
			limit:     10,
			remaining: 0,
			resetAt:   ptrTime(now.Add(30 * time.Second)),
		},
		{
			name:      "http date reset",
			headers:   map[string]string{"X-RateLimit-Limit": "10", "X-RateLimit-Remaining": "9", "X-RateLimit-Reset": "Sun, 01 Mar 2026 13:00:00 GMT"},
			limit:     10,
			remaining: 9,
			resetAt:   ptrTime(time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)),
		},
		{
			name:      "unparseable reset keeps quota",
			headers:   map[string]string{"X-RateLimit-Limit": "10", "X-RateLimit-Remaining": "9", "X-RateLimit-Reset": "soon"},
			limit:     10,
			remaining: 9,
		},
		{
			name:      "structured field value",
			headers:   map[string]string{"RateLimit-Limit": "100, 100;w=60", "RateLimit-Remaining": "7"},
			aliases:   RateLimitHeaders{Limit: []string{"RateLimit-Limit"}, Remaining: []string{"RateLimit-Remaining"}},
			limit:     100,
			remaining: 7,
		},
		{
			name:    "second alias used when first absent",
			headers: map[string]string{"X-Ratelimit-Remaining-Minute": "3", "X-RateLimit-Limit": "5"},
			aliases: RateLimitHeaders{
				Limit:     []string{"X-Ratelimit-Limit-Minute", "X-RateLimit-Limit"},
				Remaining: []string{"X-RateLimit-Remaining", "X-Ratelimit-Remaining-Minute"},
			},
			limit:     5,
			remaining: 3,
		},
		{
			name:    "malformed first alias falls through to next",
			headers: map[string]string{"X-RateLimit-Limit": "n/a", "RateLimit-Limit": "50", "X-RateLimit-Remaining": "49"},
			aliases: RateLimitHeaders{
				Limit: []string{"X-RateLimit-Limit", "RateLimit-Limit"},
			},
			limit:     50,
			remaining: 49,
		},
		{
			name:      "epoch reset beyond year 9999",
			headers:   map[string]string{"X-RateLimit-Limit": "10", "X-RateLimit-Remaining": "9", "X-RateLimit-Reset": "300000000000"},
			limit:     10,
			remaining: 9,
		},
		{
			name:      "huge float reset",
			headers:   map[string]string{"X-RateLimit-Limit": "10", "X-RateLimit-Remaining": "9", "X-RateLimit-Reset": "1e308"},
			limit:     10,
			remaining: 9,
		},
		{
			name:      "NaN reset",
			headers:   map[string]string{"X-RateLimit-Limit": "10", "X-RateLimit-Remaining": "9", "X-RateLimit-Reset": "NaN"},
			limit:     10,
			remaining: 9,
		},
		{
			name:      "delta reset out of range",
			headers:   map[string]string{"X-RateLimit-Limit": "10", "X-RateLimit-Remaining": "9", "X-RateLimit-Reset": "500000000"},
			limit:     10,
			remaining: 9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			got := ParseRateLimit(h, rateLimitAliases(tt.aliases), now)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.limit, got.Limit)
			assert.Equal(t, tt.remaining, got.Remaining)
			if tt.resetAt == nil {
				assert.Nil(t, got.ResetAt)
				return
			}
			require.NotNil(t, got.ResetAt)
			assert.True(t, tt.resetAt.Equal(*got.ResetAt), "reset %v, want %v", *got.ResetAt, *tt.resetAt)
		})
	}
}

func ptrTime(t time.Time) *time.Time {
	return &t
}

func TestAttemptStatusJSON(t *testing.T) {
	encoded, err := StatusOf(503).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "503", string(encoded))

	encoded, err = MarkerOf(MarkerTransportError).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"transport_error"`, string(encoded))

	var status AttemptStatus
	require.NoError(t, status.UnmarshalJSON([]byte(`"canceled"`)))
	assert.False(t, status.HasResponse())
	assert.Equal(t, "canceled", status.String())

	require.NoError(t, status.UnmarshalJSON([]byte(`404`)))
	assert.True(t, status.HasResponse())
	assert.Equal(t, "404", status.String())

	assert.Error(t, status.UnmarshalJSON([]byte(`true`)))
}

func TestAuthModeComplete(t *testing.T) {
	assert.True(t, AuthMode{}.Complete())
	assert.True(t, AuthMode{Kind: AuthNone}.Complete())
	assert.False(t, AuthMode{Kind: AuthBearerToken}.Complete())
	assert.True(t, AuthMode{Kind: AuthBearerToken, Token: "t"}.Complete())
	assert.False(t, AuthMode{Kind: AuthQueryParamSecret, ParamName: "api_secret"}.Complete())
	assert.False(t, AuthMode{Kind: "oauth"}.Complete())
}
