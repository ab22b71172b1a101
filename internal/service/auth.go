package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/juanvelozo/gaston-server/internal/config"
	"github.com/juanvelozo/gaston-server/internal/events"
	"github.com/juanvelozo/gaston-server/internal/hash"
	"github.com/juanvelozo/gaston-server/internal/logging"
	"github.com/juanvelozo/gaston-server/internal/metrics"
	"github.com/juanvelozo/gaston-server/internal/models"
	"github.com/juanvelozo/gaston-server/internal/ratelimit"
	"github.com/juanvelozo/gaston-server/internal/repo"
	"github.com/juanvelozo/gaston-server/pkg/tokens"
)

const minPasswordLen = 6

// defaultPublishTimeout caps the audit fan-out of one operation.
const defaultPublishTimeout = 2 * time.Second

// AuthService owns the session lifecycle. It keeps no per-request state;
// the stored refresh digest is the only session record.
type AuthService struct {
	Store  repo.UserStore
	Hasher *hash.Hasher
	Signer *tokens.Signer

	AccessTTL             time.Duration
	RefreshTTL            time.Duration
	ChangePasswordRotates bool

	Events         events.Publisher
	PublishTimeout time.Duration
	Limiter        ratelimit.Limiter
	Metrics        *metrics.Metrics

	dummyHash func() string
}

func New(cfg *config.Config, store repo.UserStore, signer *tokens.Signer, hasher *hash.Hasher) *AuthService {
	s := &AuthService{
		Store:                 store,
		Hasher:                hasher,
		Signer:                signer,
		AccessTTL:             cfg.AccessTTL,
		RefreshTTL:            cfg.RefreshTTL,
		ChangePasswordRotates: cfg.ChangePasswordRotates,
		Events:                events.Nop(),
		Limiter:               ratelimit.Nop(),
	}
	s.dummyHash = sync.OnceValue(func() string {
		h, _ := hasher.HashPassword("gaston-timing-equalizer")
		return h
	})
	return s
}

type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

type SignupResult struct {
	User   *models.User
	Tokens *TokenPair
}

type SigninResult struct {
	UserID uint
	Tokens *TokenPair
}

// issuePair signs both tokens concurrently.
func (s *AuthService) issuePair(u *models.User) (*TokenPair, error) {
	var pair TokenPair
	var g errgroup.Group
	g.Go(func() error {
		var err error
		pair.AccessToken, pair.AccessExpiresAt, err = s.Signer.Issue(u.ID, u.Email, tokens.Access, s.AccessTTL)
		return err
	})
	g.Go(func() error {
		var err error
		pair.RefreshToken, pair.RefreshExpiresAt, err = s.Signer.Issue(u.ID, u.Email, tokens.Refresh, s.RefreshTTL)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("issue token pair: %w", err)
	}
	return &pair, nil
}

// startSession issues a pair and stores its refresh digest, replacing
// whatever session the user had.
func (s *AuthService) startSession(ctx context.Context, u *models.User) (*TokenPair, error) {
	pair, err := s.issuePair(u)
	if err != nil {
		return nil, err
	}
	digest := s.Hasher.TokenDigest(pair.RefreshToken)
	if _, err := s.Store.UpdateHashFields(ctx, u.ID, repo.HashFields{RefreshTokenHash: &digest}); err != nil {
		return nil, storeErr(err)
	}
	return pair, nil
}

func (s *AuthService) publish(ctx context.Context, e events.Event) {
	if s.Events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.publishTimeout())
	defer cancel()
	if err := s.Events.Publish(ctx, e); err != nil {
		logging.FromContext(ctx).Warn("publish_event_failed", "event", e.Type, "error", err)
	}
}

func (s *AuthService) publishTimeout() time.Duration {
	if s.PublishTimeout <= 0 {
		return defaultPublishTimeout
	}
	return s.PublishTimeout
}

func (s *AuthService) limiter() ratelimit.Limiter {
	if s.Limiter == nil {
		return ratelimit.Nop()
	}
	return s.Limiter
}

func (s *AuthService) Signup(ctx context.Context, email, password, fullName string) (res *SignupResult, err error) {
	started := time.Now()
	defer func() { s.Metrics.Observe("signup", resultLabel(err), started) }()
	l := logging.FromContext(ctx).With("svc", "auth.signup")

	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, validationErr("password is required")
	}
	if strings.TrimSpace(fullName) == "" {
		return nil, validationErr("fullName is required")
	}

	if _, err := s.Store.FindByEmail(ctx, email); err == nil {
		l.Info("signup_rejected", "status", 409, "reason", "email taken")
		return nil, ErrEmailTaken
	} else if !errors.Is(err, repo.ErrNotFound) {
		l.Error("signup_error", "status", 503, "error", err)
		return nil, storeErr(err)
	}

	pwHash, err := s.Hasher.HashPassword(password)
	if err != nil {
		l.Error("signup_error", "status", 500, "reason", "cannot hash the password", "error", err)
		return nil, err
	}

	user := &models.User{Email: email, PasswordHash: pwHash, FullName: fullName}
	if err := s.Store.Create(ctx, user); err != nil {
		if errors.Is(err, repo.ErrDuplicateEmail) {
			l.Info("signup_rejected", "status", 409, "reason", "email taken concurrently")
			return nil, ErrEmailTaken
		}
		l.Error("signup_error", "status", 503, "error", err)
		return nil, storeErr(err)
	}

	pair, err := s.startSession(ctx, user)
	if err != nil {
		l.Error("signup_error", "user_id", user.ID, "error", err)
		return nil, err
	}

	l.Info("user_signed_up", "user_id", user.ID)
	s.publish(ctx, events.New(events.UserSignedUp, user.ID, user.Email))
	return &SignupResult{User: user, Tokens: pair}, nil
}

func (s *AuthService) Signin(ctx context.Context, email, password string) (res *SigninResult, err error) {
	started := time.Now()
	defer func() { s.Metrics.Observe("signin", resultLabel(err), started) }()
	l := logging.FromContext(ctx).With("svc", "auth.signin")

	if strings.TrimSpace(email) == "" || password == "" {
		return nil, validationErr("email and password are required")
	}

	lim := s.limiter()
	if wait, err := lim.Check(ctx, email); err != nil {
		if errors.Is(err, ratelimit.ErrLimited) {
			l.Warn("signin_failed", "status", 429, "reason", "rate limited")
			return nil, &RateLimitError{RetryAfter: wait}
		}
		l.Warn("rate_limiter_unavailable", "error", err)
	}

	fail := func(reason string, userID uint) (*SigninResult, error) {
		l.Warn("signin_failed", "status", 403, "reason", reason, "user_id", userID)
		if err := lim.Fail(ctx, email); err != nil {
			l.Warn("rate_limiter_unavailable", "error", err)
		}
		s.publish(ctx, events.New(events.SigninFailed, userID, email).WithReason(reason))
		return nil, ErrInvalidCredentials
	}

	user, err := s.Store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// keep the unknown-email path as slow as a wrong password
			s.Hasher.CheckPassword(s.dummyHash(), password)
			return fail("unknown email", 0)
		}
		l.Error("signin_error", "status", 503, "error", err)
		return nil, storeErr(err)
	}
	if !s.Hasher.CheckPassword(user.PasswordHash, password) {
		return fail("wrong password", user.ID)
	}

	pair, err := s.startSession(ctx, user)
	if err != nil {
		l.Error("signin_error", "user_id", user.ID, "error", err)
		return nil, err
	}
	if err := lim.Reset(ctx, email); err != nil {
		l.Warn("rate_limiter_unavailable", "error", err)
	}

	l.Info("user_signed_in", "user_id", user.ID)
	s.publish(ctx, events.New(events.UserSignedIn, user.ID, user.Email))
	return &SigninResult{UserID: user.ID, Tokens: pair}, nil
}

// Refresh rotates the session: the presented token must be the one whose
// digest is stored, and it stops being valid once this call succeeds.
func (s *AuthService) Refresh(ctx context.Context, presented string) (pair *TokenPair, err error) {
	started := time.Now()
	defer func() { s.Metrics.Observe("refresh", resultLabel(err), started) }()
	l := logging.FromContext(ctx).With("svc", "auth.refresh")

	if presented == "" {
		return nil, fmt.Errorf("%w: no refresh token", ErrRefreshInvalid)
	}

	claims, err := s.Signer.Verify(presented, tokens.Refresh)
	if err != nil {
		l.Info("refresh_rejected", "reason", err.Error())
		return nil, fmt.Errorf("%w: %v", ErrRefreshInvalid, err)
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshInvalid, err)
	}

	user, err := s.Store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Warn("refresh_rejected", "user_id", userID, "reason", "unknown user")
			return nil, ErrAccessDenied
		}
		l.Error("refresh_error", "status", 503, "error", err)
		return nil, storeErr(err)
	}
	if !user.HasSession() {
		l.Info("refresh_rejected", "user_id", userID, "reason", "no active session")
		return nil, ErrAccessDenied
	}

	oldDigest := *user.RefreshTokenHash
	if !s.Hasher.MatchToken(oldDigest, presented) {
		l.Warn("refresh_reuse_detected", "user_id", userID, "jti", claims.ID)
		s.Metrics.RefreshReuse()
		s.publish(ctx, events.New(events.RefreshReuseDetected, userID, user.Email).WithReason("digest mismatch"))
		return nil, fmt.Errorf("%w: token was rotated out", ErrRefreshInvalid)
	}

	pair, err = s.issuePair(user)
	if err != nil {
		l.Error("refresh_error", "user_id", userID, "error", err)
		return nil, err
	}

	newDigest := s.Hasher.TokenDigest(pair.RefreshToken)
	_, err = s.Store.UpdateHashFields(ctx, userID, repo.HashFields{
		RefreshTokenHash:   &newDigest,
		IfRefreshTokenHash: &oldDigest,
	})
	switch {
	case errors.Is(err, repo.ErrStale):
		l.Warn("refresh_rejected", "user_id", userID, "reason", "lost rotation race")
		s.Metrics.RefreshReuse()
		s.publish(ctx, events.New(events.RefreshReuseDetected, userID, user.Email).WithReason("concurrent rotation"))
		return nil, fmt.Errorf("%w: concurrent rotation", ErrRefreshInvalid)
	case errors.Is(err, repo.ErrNotFound):
		return nil, ErrAccessDenied
	case err != nil:
		l.Error("refresh_error", "status", 503, "error", err)
		return nil, storeErr(err)
	}

	l.Debug("token_refreshed", "user_id", userID)
	s.publish(ctx, events.New(events.TokenRefreshed, userID, user.Email))
	return pair, nil
}

// Logout clears the stored refresh digest. Calling it again, or for an
// unknown user, is not an error.
func (s *AuthService) Logout(ctx context.Context, userID uint) (err error) {
	started := time.Now()
	defer func() { s.Metrics.Observe("logout", resultLabel(err), started) }()
	l := logging.FromContext(ctx).With("svc", "auth.logout", "user_id", userID)

	_, err = s.Store.UpdateHashFields(ctx, userID, repo.HashFields{ClearRefreshToken: true})
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		l.Error("logout_error", "status", 503, "error", err)
		return storeErr(err)
	}

	l.Info("user_logged_out")
	s.publish(ctx, events.New(events.UserLoggedOut, userID, ""))
	return nil
}

// ChangePassword verifies the current password and stores the new hash.
// With ChangePasswordRotates set it also starts a fresh session and returns
// its pair; otherwise the pair is nil and the existing session survives.
func (s *AuthService) ChangePassword(ctx context.Context, userID uint, current, next string) (pair *TokenPair, err error) {
	started := time.Now()
	defer func() { s.Metrics.Observe("change_password", resultLabel(err), started) }()
	l := logging.FromContext(ctx).With("svc", "auth.change_password", "user_id", userID)

	if current == "" {
		return nil, validationErr("currentPassword is required")
	}
	if len(next) < minPasswordLen {
		return nil, validationErr(fmt.Sprintf("newPassword must be at least %d characters", minPasswordLen))
	}

	user, err := s.Store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotFound
		}
		l.Error("change_password_error", "status", 503, "error", err)
		return nil, storeErr(err)
	}
	if !s.Hasher.CheckPassword(user.PasswordHash, current) {
		l.Warn("change_password_failed", "status", 403, "reason", "wrong current password")
		return nil, ErrInvalidCredentials
	}

	pwHash, err := s.Hasher.HashPassword(next)
	if err != nil {
		l.Error("change_password_error", "status", 500, "reason", "cannot hash the password", "error", err)
		return nil, err
	}

	fields := repo.HashFields{PasswordHash: &pwHash}
	if s.ChangePasswordRotates {
		pair, err = s.issuePair(user)
		if err != nil {
			l.Error("change_password_error", "error", err)
			return nil, err
		}
		digest := s.Hasher.TokenDigest(pair.RefreshToken)
		fields.RefreshTokenHash = &digest
	}

	if _, err := s.Store.UpdateHashFields(ctx, userID, fields); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotFound
		}
		l.Error("change_password_error", "status", 503, "error", err)
		return nil, storeErr(err)
	}
	if err := s.limiter().Reset(ctx, user.Email); err != nil {
		l.Warn("rate_limiter_unavailable", "error", err)
	}

	l.Info("password_changed", "rotated", pair != nil)
	s.publish(ctx, events.New(events.PasswordChanged, userID, user.Email))
	return pair, nil
}

// Me returns the identity behind an authenticated session.
func (s *AuthService) Me(ctx context.Context, userID uint) (*models.User, error) {
	user, err := s.Store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, storeErr(err)
	}
	return user, nil
}

func validateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return validationErr("email is required")
	}
	if !strings.Contains(email, "@") {
		return validationErr("email is invalid")
	}
	return nil
}
