package auth

import (
	"errors"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials is returned for any login failure; callers must not be
// able to distinguish unknown user from wrong password.
var ErrBadCredentials = errors.New("invalid username or password")

// Service issues and verifies tokens for the two built-in accounts. The
// password hashes come from the environment; the daemon has no user store.
type Service struct {
	secret        []byte
	ttl           time.Duration
	internalToken string
	hashes        map[string]accountInfo

	now func() time.Time
}

type accountInfo struct {
	hash string
	role string
}

// NewService builds the auth service. The hashes are bcrypt.
func NewService(secret []byte, ttl time.Duration, userHash, adminHash, internalToken string) *Service {
	return &Service{
		secret:        secret,
		ttl:           ttl,
		internalToken: internalToken,
		hashes: map[string]accountInfo{
			"user":  {hash: userHash, role: RoleUser},
			"admin": {hash: adminHash, role: RoleAdmin},
		},
		now: time.Now,
	}
}

// Login verifies the credentials and returns a signed token.
func (s *Service) Login(username, password string) (string, error) {
	acct, ok := s.hashes[username]
	if !ok {
		// burn comparable time so unknown users are not distinguishable
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000000000000000000000000000000000."), []byte(password))
		return "", ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.hash), []byte(password)); err != nil {
		return "", ErrBadCredentials
	}

	now := s.now()
	return GenerateHS256(s.secret, Claims{
		Iss:  issuer,
		Sub:  username,
		Role: acct.role,
		Iat:  now.Unix(),
		Exp:  now.Add(s.ttl).Unix(),
	})
}

// Verify validates a token and returns its principal.
func (s *Service) Verify(token string) (*Principal, error) {
	if token == "" {
		return nil, ErrTokenMissing
	}
	claims, err := VerifyAt(token, s.secret, s.now().Unix())
	if err != nil {
		return nil, err
	}
	return &Principal{Username: claims.Sub, Role: claims.Role}, nil
}

// Authenticate resolves the request's principal from the internal secret
// header or a bearer token. allowQuery enables the token query parameter
// for WebSocket endpoints.
func (s *Service) Authenticate(r *http.Request, allowQuery bool) (*Principal, error) {
	if AuthorizeInternal(r, s.internalToken) {
		return &Principal{Username: "internal", Role: RoleAdmin}, nil
	}
	return s.Verify(ExtractToken(r, allowQuery))
}
