// Package sharetoken issues and verifies signed capability tokens for
// anonymous file downloads.
//
// A token is an HS256 JWT carrying the file id as subject, a fixed purpose
// and the time it was issued. Age is checked against MaxAge at verification,
// so changing the configured window applies to tokens already handed out.
package sharetoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	Purpose = "file-share"

	// DefaultMaxAge is how long a share link stays valid.
	DefaultMaxAge = 24 * time.Hour

	minSecretLen = 32
)

var (
	ErrInvalidSignature = errors.New("invalid share token")
	ErrExpired          = errors.New("share token expired")
	ErrWeakSecret       = fmt.Errorf("share secret must be at least %d bytes", minSecretLen)
)

type Claims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// Token is a freshly issued share token.
type Token struct {
	Value     string
	FileID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Codec struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

type Option func(*Codec)

func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

func WithMaxAge(d time.Duration) Option {
	return func(c *Codec) {
		if d > 0 {
			c.maxAge = d
		}
	}
}

func New(secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) < minSecretLen {
		return nil, ErrWeakSecret
	}

	c := &Codec{
		secret: secret,
		maxAge: DefaultMaxAge,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *Codec) MaxAge() time.Duration {
	return c.maxAge
}

// Issue returns a signed token granting download of fileID.
func (c *Codec) Issue(fileID string) (string, error) {
	t, err := c.Mint(fileID)
	if err != nil {
		return "", err
	}
	return t.Value, nil
}

// Mint is Issue with the token's validity window.
func (c *Codec) Mint(fileID string) (*Token, error) {
	if fileID == "" {
		return nil, errors.New("file id is required")
	}

	issuedAt := jwt.NewNumericDate(c.now())
	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Purpose: Purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  fileID,
			IssuedAt: issuedAt,
		},
	}).SignedString(c.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign share token: %w", err)
	}

	return &Token{
		Value:     value,
		FileID:    fileID,
		IssuedAt:  issuedAt.Time,
		ExpiresAt: issuedAt.Add(c.maxAge),
	}, nil
}

// Verify returns the file id a token grants access to. Any malformed,
// re-signed or repurposed token fails with ErrInvalidSignature; a genuine
// token older than MaxAge fails with ErrExpired.
func (c *Codec) Verify(token string) (string, error) {
	claims := &Claims{}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !parsed.Valid {
		return "", ErrInvalidSignature
	}

	if claims.Purpose != Purpose || claims.Subject == "" || claims.IssuedAt == nil {
		return "", ErrInvalidSignature
	}

	if c.now().Sub(claims.IssuedAt.Time) > c.maxAge {
		return "", ErrExpired
	}

	return claims.Subject, nil
}
