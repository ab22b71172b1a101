package tokens

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Class selects the secret a token is signed and verified with.
type Class string

const (
	Access  Class = "access"
	Refresh Class = "refresh"
)

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
	ErrUnknownClass = errors.New("unknown token class")
	ErrNoSecret     = errors.New("token secret is empty")
)

type Claims struct {
	Email string `json:"email"`
	Type  Class  `json:"typ"`
	jwt.RegisteredClaims
}

// UserID parses the numeric subject.
func (c *Claims) UserID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, ErrTokenInvalid
	}
	return uint(id), nil
}

// Signer issues and verifies access and refresh JWTs. Each class has its own
// HS256 secret, so a token never verifies under the other class.
type Signer struct {
	secrets map[Class][]byte
	now     func() time.Time
}

func NewSigner(accessSecret, refreshSecret []byte) (*Signer, error) {
	if len(accessSecret) == 0 || len(refreshSecret) == 0 {
		return nil, ErrNoSecret
	}
	return &Signer{
		secrets: map[Class][]byte{
			Access:  accessSecret,
			Refresh: refreshSecret,
		},
		now: time.Now,
	}, nil
}

// WithClock returns a copy of the signer reading time from now.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	return &Signer{secrets: s.secrets, now: now}
}

func (s *Signer) secret(class Class) ([]byte, error) {
	key, ok := s.secrets[class]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}
	return key, nil
}

// Issue signs {sub, email} for class and returns the token with its expiry.
func (s *Signer) Issue(sub uint, email string, class Class, ttl time.Duration) (string, time.Time, error) {
	key, err := s.secret(class)
	if err != nil {
		return "", time.Time{}, err
	}

	now := s.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		Email: email,
		Type:  class,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(sub), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", class, err)
	}
	return signed, exp, nil
}

// Verify checks signature, expiry and class. Expired tokens fail with
// ErrTokenExpired, everything else with ErrTokenInvalid.
func (s *Signer) Verify(tokenStr string, class Class) (*Claims, error) {
	key, err := s.secret(class)
	if err != nil {
		return nil, err
	}

	var claims Claims
	tkn, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !tkn.Valid || claims.Type != class {
		return nil, ErrTokenInvalid
	}
	if _, err := claims.UserID(); err != nil {
		return nil, err
	}
	return &claims, nil
}
