package auth

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/livsafe-api/internal/model"
	"github.com/jwalitptl/livsafe-api/internal/repository"
	"github.com/jwalitptl/livsafe-api/pkg/auth"
	"github.com/jwalitptl/livsafe-api/pkg/errors"
	"github.com/jwalitptl/livsafe-api/pkg/metrics"
	"github.com/jwalitptl/livsafe-api/pkg/security"
)

const msgInvalidCredentials = "invalid credentials"

type Service struct {
	store   repository.Store
	hasher  security.PasswordHasher
	jwtSvc  auth.JWTService
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(store repository.Store, hasher security.PasswordHasher, jwtSvc auth.JWTService, m *metrics.Metrics) *Service {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Service{
		store:   store,
		hasher:  hasher,
		jwtSvc:  jwtSvc,
		metrics: m,
		now:     time.Now,
	}
}

// Login verifies the credentials and opens a session. Unknown emails and wrong
// passwords fail with the same error after the same amount of hashing work.
func (s *Service) Login(ctx context.Context, email, password string) (*model.LoginResponse, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		s.metrics.LoginResults.WithLabelValues("invalid").Inc()
		return nil, errors.Validation("missing email or password")
	}

	user, err := s.store.Users().GetByEmail(ctx, email)
	if err != nil {
		if !stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.Internal(err)
		}
		// burn the same bcrypt time as a real comparison
		s.hasher.Compare("", password)
		s.metrics.LoginResults.WithLabelValues("failure").Inc()
		return nil, errors.Unauthorized(msgInvalidCredentials, nil)
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		s.metrics.LoginResults.WithLabelValues("failure").Inc()
		return nil, errors.Unauthorized(msgInvalidCredentials, nil)
	}

	token, claims, err := s.jwtSvc.GenerateAccessToken(user.ID, user.Email, user.Type)
	if err != nil {
		return nil, errors.Internal(err)
	}

	identity := model.IdentityFromUser(user)
	data, err := json.Marshal(identity)
	if err != nil {
		return nil, errors.Internal(err)
	}

	err = s.store.Sessions().Create(ctx, &model.Session{
		SessionID: claims.ID,
		UserID:    user.ID,
		Data:      data,
		Expiry:    claims.ExpiresAt.Time,
	})
	if err != nil {
		return nil, errors.Internal(err)
	}

	s.metrics.LoginResults.WithLabelValues("success").Inc()
	log.Info().Int64("user_id", user.ID).Str("user_type", user.Type).Msg("user logged in")

	identity.SessionID = claims.ID
	return &model.LoginResponse{Identity: identity, Token: token}, nil
}

// Authenticate resolves a bearer token to the caller. The token must be valid
// and its session must still exist.
func (s *Service) Authenticate(ctx context.Context, token string) (*model.Identity, error) {
	claims, err := s.jwtSvc.ValidateToken(token)
	if err != nil {
		return nil, errors.Unauthorized("invalid token", err)
	}

	userID, err := claims.UserID()
	if err != nil {
		return nil, errors.Unauthorized("invalid token", err)
	}

	session, err := s.store.Sessions().GetActive(ctx, claims.ID, s.now())
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.Unauthorized("session expired", nil)
		}
		return nil, errors.Internal(err)
	}
	if session.UserID != userID {
		return nil, errors.Unauthorized("invalid token", nil)
	}

	var identity model.Identity
	if err := json.Unmarshal(session.Data, &identity); err != nil {
		return nil, errors.Internal(err)
	}
	identity.SessionID = claims.ID
	return &identity, nil
}

// Me returns the current profile of the user.
func (s *Service) Me(ctx context.Context, userID int64) (*model.Identity, error) {
	user, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.NotFound("user", err)
		}
		return nil, errors.Internal(err)
	}
	return model.IdentityFromUser(user), nil
}

// Logout ends the session with the given token id.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if err := s.store.Sessions().Delete(ctx, sessionID); err != nil {
		return errors.Internal(err)
	}
	return nil
}

// CleanupSessions deletes sessions that expired before now.
func (s *Service) CleanupSessions(ctx context.Context) (int64, error) {
	n, err := s.store.Sessions().DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, errors.Internal(err)
	}
	return n, nil
}
