package staff

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"gymdesk/internal/apperr"
	"gymdesk/internal/caller"
)

// Account is a configured staff login.
type Account struct {
	Username     string `mapstructure:"username"`
	Name         string `mapstructure:"name"`
	PasswordHash string `mapstructure:"password_hash"`
	Salt         string `mapstructure:"salt"`
}

// Login is the result of a successful authentication.
type Login struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Staff     caller.Identity `json:"staff"`
}

// Service authenticates staff against the configured accounts.
type Service struct {
	accounts map[string]Account
	tokens   *TokenManager
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewService creates the staff gate. perMinute caps login attempts across
// all accounts; zero disables the cap.
func NewService(accounts []Account, tokens *TokenManager, perMinute int, logger *zap.Logger) *Service {
	byName := make(map[string]Account, len(accounts))
	for _, a := range accounts {
		byName[strings.ToLower(a.Username)] = a
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if perMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
	return &Service{accounts: byName, tokens: tokens, limiter: limiter, logger: logger}
}

// Authenticate checks a username and password and issues a token.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*Login, error) {
	const op = "staff.Authenticate"
	if !s.limiter.Allow() {
		return nil, apperr.E(apperr.KindRateLimited, op, "too many login attempts, try again later")
	}

	account, ok := s.accounts[strings.ToLower(strings.TrimSpace(username))]
	if !ok || password == "" {
		s.logger.Info("staff login rejected", zap.String("username", username))
		return nil, apperr.E(apperr.KindUnauthorized, op, "invalid username or password")
	}
	match, err := VerifyPassword(password, account.PasswordHash, account.Salt)
	if err != nil {
		s.logger.Error("staff account has a malformed password hash", zap.String("username", account.Username), zap.Error(err))
		return nil, apperr.E(apperr.KindUnauthorized, op, "invalid username or password")
	}
	if !match {
		s.logger.Info("staff login rejected", zap.String("username", username))
		return nil, apperr.E(apperr.KindUnauthorized, op, "invalid username or password")
	}

	id := caller.Identity{Username: account.Username, Name: account.Name}
	token, expires, err := s.tokens.Issue(id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("staff logged in", zap.String("username", account.Username))
	return &Login{Token: token, ExpiresAt: expires, Staff: id}, nil
}
