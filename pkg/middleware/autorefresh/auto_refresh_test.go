package autorefresh

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juanvelozo/gaston-server/internal/middleware"
	"github.com/juanvelozo/gaston-server/pkg/tokens"
	"github.com/juanvelozo/gaston-server/internal/transport"
	"github.com/juanvelozo/gaston-server/pkg/authclient"
)

type fakeRefresher struct {
	signer *tokens.Signer
	err    error
	calls  int
}

func (f *fakeRefresher) Refresh(_ context.Context, _ string) (*authclient.Session, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	access, aexp, err := f.signer.Issue(9, "a@x.com", tokens.Access, time.Minute)
	if err != nil {
		return nil, err
	}
	refresh, rexp, err := f.signer.Issue(9, "a@x.com", tokens.Refresh, time.Hour)
	if err != nil {
		return nil, err
	}
	return &authclient.Session{
		AccessToken: access, AccessExpiresAt: aexp,
		RefreshToken: refresh, RefreshExpiresAt: rexp,
	}, nil
}

func setup(t *testing.T, refErr error) (*tokens.Signer, *fakeRefresher, *echo.Echo, *middleware.Principal) {
	t.Helper()

	signer, err := tokens.NewSigner([]byte("access"), []byte("refresh"))
	require.NoError(t, err)
	ref := &fakeRefresher{signer: signer, err: refErr}
	mw := New(signer, ref, false)

	got := &middleware.Principal{}
	e := echo.New()
	e.GET("/orders", middleware.WithPrincipal(func(c echo.Context, p middleware.Principal) error {
		*got = p
		return c.NoContent(http.StatusOK)
	}), mw.RequireAuth)
	return signer, ref, e, got
}

func request(e *echo.Echo, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRequireAuth_ValidAccess(t *testing.T) {
	t.Parallel()

	signer, ref, e, got := setup(t, nil)
	access, _, err := signer.Issue(3, "a@x.com", tokens.Access, time.Minute)
	require.NoError(t, err)

	rec := request(e, &http.Cookie{Name: transport.AccessCookie, Value: access})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint(3), got.UserID)
	assert.Zero(t, ref.calls)
}

func TestRequireAuth_RefreshesExpiredAccess(t *testing.T) {
	t.Parallel()

	signer, ref, e, got := setup(t, nil)
	past := signer.WithClock(func() time.Time { return time.Now().Add(-time.Hour) })
	expired, _, err := past.Issue(9, "a@x.com", tokens.Access, time.Minute)
	require.NoError(t, err)

	rec := request(e,
		&http.Cookie{Name: transport.AccessCookie, Value: expired},
		&http.Cookie{Name: transport.RefreshCookie, Value: "some-refresh"},
	)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ref.calls)
	assert.Equal(t, uint(9), got.UserID)
	assert.Len(t, rec.Result().Cookies(), 2)
}

func TestRequireAuth_Failures(t *testing.T) {
	t.Parallel()

	signer, _, e, _ := setup(t, errors.New("auth down"))
	past := signer.WithClock(func() time.Time { return time.Now().Add(-time.Hour) })
	expired, _, err := past.Issue(9, "a@x.com", tokens.Access, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, request(e).Code)
	assert.Equal(t, http.StatusUnauthorized, request(e, &http.Cookie{Name: transport.AccessCookie, Value: "junk"}).Code)
	assert.Equal(t, http.StatusUnauthorized, request(e, &http.Cookie{Name: transport.AccessCookie, Value: expired}).Code)

	rec := request(e,
		&http.Cookie{Name: transport.AccessCookie, Value: expired},
		&http.Cookie{Name: transport.RefreshCookie, Value: "r"},
	)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
