package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, jwtv5.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwtv5.NewNumericDate(exp),
	})
	s, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)
	return s
}

func TestStatic(t *testing.T) {
	token, err := Static("abc").Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	_, err = Static("").Credential(context.Background())
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestRefreshingRefreshesNearExpiry(t *testing.T) {
	now := time.Now()
	fresh := signed(t, now.Add(time.Hour))
	calls := 0

	r := NewRefreshing(signed(t, now.Add(30*time.Second)), time.Minute, func(context.Context) (string, error) {
		calls++
		return fresh, nil
	})

	token, err := r.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, token)
	assert.Equal(t, 1, calls)

	// cached until it nears expiry again
	_, err = r.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRefreshingKeepsValidToken(t *testing.T) {
	initial := signed(t, time.Now().Add(time.Hour))
	r := NewRefreshing(initial, time.Minute, func(context.Context) (string, error) {
		t.Fatal("refresh must not be called")
		return "", nil
	})

	token, err := r.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, initial, token)
}

func TestRefreshingPropagatesRefreshError(t *testing.T) {
	boom := errors.New("refresh endpoint down")
	r := NewRefreshing("", time.Minute, func(context.Context) (string, error) { return "", boom })

	_, err := r.Credential(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestInvalidateForcesRefresh(t *testing.T) {
	calls := 0
	r := NewRefreshing("opaque-token", time.Minute, func(context.Context) (string, error) {
		calls++
		return "next-token", nil
	})

	token, err := r.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "opaque-token", token)

	r.Invalidate()
	token, err = r.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "next-token", token)
	assert.Equal(t, 1, calls)
}

func TestSubjectReadsUnverifiedClaim(t *testing.T) {
	token, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, jwtv5.RegisteredClaims{Subject: "driver-7"}).SignedString([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "driver-7", Subject(token))
	assert.Empty(t, Subject("not-a-token"))
}
