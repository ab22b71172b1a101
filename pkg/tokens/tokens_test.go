package tokens

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	accessSecret  = []byte("test-jwt-secret")
	refreshSecret = []byte("test-refresh-secret")
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()

	s, err := NewSigner(accessSecret, refreshSecret)
	require.NoError(t, err)
	return s
}

func TestNewSigner_RequiresSecrets(t *testing.T) {
	t.Parallel()

	_, err := NewSigner(nil, refreshSecret)
	assert.ErrorIs(t, err, ErrNoSecret)

	_, err = NewSigner(accessSecret, []byte{})
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestSigner_RoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestSigner(t)

	for _, class := range []Class{Access, Refresh} {
		class := class
		t.Run(string(class), func(t *testing.T) {
			t.Parallel()

			before := time.Now().UTC()
			tok, exp, err := s.Issue(42, "a@x.com", class, time.Minute)
			require.NoError(t, err)
			require.NotEmpty(t, tok)
			assert.WithinDuration(t, before.Add(time.Minute), exp, 2*time.Second)

			claims, err := s.Verify(tok, class)
			require.NoError(t, err)
			assert.Equal(t, "42", claims.Subject)
			assert.Equal(t, "a@x.com", claims.Email)
			assert.Equal(t, class, claims.Type)
			assert.NotEmpty(t, claims.ID)

			id, err := claims.UserID()
			require.NoError(t, err)
			assert.Equal(t, uint(42), id)
		})
	}
}

func TestSigner_Expired(t *testing.T) {
	t.Parallel()

	base := time.Now()
	issuer := newTestSigner(t).WithClock(func() time.Time { return base })
	later := issuer.WithClock(func() time.Time { return base.Add(2 * time.Minute) })

	tok, _, err := issuer.Issue(7, "b@x.com", Refresh, time.Minute)
	require.NoError(t, err)

	_, err = issuer.Verify(tok, Refresh)
	require.NoError(t, err)

	_, err = later.Verify(tok, Refresh)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.NotErrorIs(t, err, ErrTokenInvalid)
}

func TestSigner_CrossClassRejected(t *testing.T) {
	t.Parallel()

	s := newTestSigner(t)

	access, _, err := s.Issue(1, "a@x.com", Access, time.Hour)
	require.NoError(t, err)
	refresh, _, err := s.Issue(1, "a@x.com", Refresh, time.Hour)
	require.NoError(t, err)

	_, err = s.Verify(access, Refresh)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = s.Verify(refresh, Access)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestSigner_TypeClaimMustMatch(t *testing.T) {
	t.Parallel()

	// same secret on both classes: only the typ claim tells them apart
	s, err := NewSigner([]byte("shared"), []byte("shared"))
	require.NoError(t, err)

	access, _, err := s.Issue(1, "a@x.com", Access, time.Hour)
	require.NoError(t, err)

	_, err = s.Verify(access, Refresh)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestSigner_InvalidTokens(t *testing.T) {
	t.Parallel()

	s := newTestSigner(t)
	valid, _, err := s.Issue(1, "a@x.com", Access, time.Hour)
	require.NoError(t, err)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Email: "a@x.com",
		Type:  Access,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Type: Access,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(accessSecret)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Type:             Access,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "1"},
	}).SignedString(accessSecret)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-valid-jwt"},
		{name: "empty", token: ""},
		{name: "tampered", token: valid[:len(valid)-2] + "xx"},
		{name: "alg none", token: noneToken},
		{name: "missing subject", token: noSubject},
		{name: "missing expiry", token: noExpiry},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			claims, err := s.Verify(tt.token, Access)
			require.Error(t, err)
			assert.Nil(t, claims)
			assert.ErrorIs(t, err, ErrTokenInvalid)
		})
	}
}

func TestSigner_UnknownClass(t *testing.T) {
	t.Parallel()

	s := newTestSigner(t)
	_, _, err := s.Issue(1, "a@x.com", Class("id"), time.Minute)
	assert.ErrorIs(t, err, ErrUnknownClass)

	_, err = s.Verify("x", Class("id"))
	assert.ErrorIs(t, err, ErrUnknownClass)
}

func TestSigner_PairsDiffer(t *testing.T) {
	t.Parallel()

	s := newTestSigner(t)
	a, _, err := s.Issue(1, "a@x.com", Refresh, time.Hour)
	require.NoError(t, err)
	b, _, err := s.Issue(1, "a@x.com", Refresh, time.Hour)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}
