package account

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/livsafe-api/internal/email"
	"github.com/jwalitptl/livsafe-api/internal/model"
	"github.com/jwalitptl/livsafe-api/internal/repository"
	"github.com/jwalitptl/livsafe-api/internal/tenant"
	"github.com/jwalitptl/livsafe-api/pkg/errors"
	"github.com/jwalitptl/livsafe-api/pkg/messaging"
	"github.com/jwalitptl/livsafe-api/pkg/metrics"
	"github.com/jwalitptl/livsafe-api/pkg/security"
	"github.com/jwalitptl/livsafe-api/pkg/validator"
)

const (
	msgEmailTaken = "email already registered"

	welcomeTimeout = 30 * time.Second
)

// DashboardInvalidator drops an organization's cached dashboard.
type DashboardInvalidator interface {
	InvalidateOrganization(orgID int64)
}

type nopInvalidator struct{}

func (nopInvalidator) InvalidateOrganization(int64) {}

// Service creates doctor and organization accounts together with their
// tenant stores.
type Service struct {
	store     repository.Store
	tenants   *tenant.Provisioner
	hasher    security.PasswordHasher
	mailer    email.Service
	publisher  messaging.Publisher
	dashboards DashboardInvalidator
	metrics    *metrics.Metrics

	background sync.WaitGroup
}

func NewService(store repository.Store, tenants *tenant.Provisioner, hasher security.PasswordHasher,
	mailer email.Service, publisher messaging.Publisher, dashboards DashboardInvalidator, m *metrics.Metrics) *Service {
	if mailer == nil {
		mailer = email.NewNopService()
	}
	if publisher == nil {
		publisher = messaging.NewNopPublisher()
	}
	if dashboards == nil {
		dashboards = nopInvalidator{}
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Service{
		store:      store,
		tenants:    tenants,
		hasher:     hasher,
		mailer:     mailer,
		publisher:  publisher,
		dashboards: dashboards,
		metrics:    m,
	}
}

// Wait blocks until welcome emails queued by earlier signups have been
// handed to the mailer.
func (s *Service) Wait() {
	s.background.Wait()
}

// SignupDoctor creates the user and doctor rows and the doctor's tenant store,
// keyed by the new user id. It returns the user id.
func (s *Service) SignupDoctor(ctx context.Context, req *model.SignupDoctorRequest) (int64, error) {
	req.Email = model.NormalizeEmail(req.Email)
	if err := validator.Validate(req); err != nil {
		s.metrics.Signups.WithLabelValues(model.UserTypeDoctor, "invalid").Inc()
		return 0, errors.BadRequest(err.Error(), err)
	}

	hash, err := s.hashPassword(req.Password)
	if err != nil {
		s.metrics.Signups.WithLabelValues(model.UserTypeDoctor, "invalid").Inc()
		return 0, err
	}

	user := &model.User{
		Email:          req.Email,
		PasswordHash:   hash,
		FirstName:      sql.NullString{String: req.FirstName, Valid: true},
		LastName:       sql.NullString{String: req.LastName, Valid: true},
		Specialization: sql.NullString{String: req.Specialization, Valid: true},
		Type:           model.UserTypeDoctor,
	}

	var created bool
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Users().Create(ctx, user); err != nil {
			return err
		}
		if err := tx.Doctors().Create(ctx, &model.Doctor{UserID: user.ID}); err != nil {
			return err
		}

		store, c, err := s.tenants.EnsureDoctorStore(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("failed to provision doctor store: %w", err)
		}
		created = c
		return store.Close()
	})
	if err != nil {
		if created {
			s.removeStore(tenant.KindDoctor, user.ID)
		}
		return 0, s.signupError(model.UserTypeDoctor, user.Email, err)
	}

	s.metrics.Signups.WithLabelValues(model.UserTypeDoctor, "success").Inc()
	log.Info().Int64("user_id", user.ID).Msg("doctor account created")

	s.afterSignup(ctx, user, tenant.KindDoctor, user.ID)
	return user.ID, nil
}

// SignupOrganization creates the user and organization rows and the
// organization's tenant store, keyed by the new organization id. It returns
// the organization id.
func (s *Service) SignupOrganization(ctx context.Context, req *model.SignupOrganizationRequest) (int64, error) {
	req.Email = model.NormalizeEmail(req.Email)
	if err := validator.Validate(req); err != nil {
		s.metrics.Signups.WithLabelValues(model.UserTypeOrganization, "invalid").Inc()
		return 0, errors.BadRequest(err.Error(), err)
	}

	hash, err := s.hashPassword(req.Password)
	if err != nil {
		s.metrics.Signups.WithLabelValues(model.UserTypeOrganization, "invalid").Inc()
		return 0, err
	}

	user := &model.User{
		Email:        req.Email,
		PasswordHash: hash,
		Type:         model.UserTypeOrganization,
	}
	org := &model.Organization{Name: req.Name, Type: req.Type}

	var created bool
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Users().Create(ctx, user); err != nil {
			return err
		}
		org.UserID = user.ID
		if err := tx.Organizations().Create(ctx, org); err != nil {
			return err
		}

		store, c, err := s.tenants.EnsureOrganizationStore(ctx, org.ID)
		if err != nil {
			return fmt.Errorf("failed to provision organization store: %w", err)
		}
		created = c
		return store.Close()
	})
	if err != nil {
		if created {
			s.removeStore(tenant.KindOrganization, org.ID)
		}
		return 0, s.signupError(model.UserTypeOrganization, user.Email, err)
	}

	s.metrics.Signups.WithLabelValues(model.UserTypeOrganization, "success").Inc()
	log.Info().Int64("user_id", user.ID).Int64("organization_id", org.ID).Msg("organization account created")

	s.afterSignup(ctx, user, tenant.KindOrganization, org.ID)
	return org.ID, nil
}

// AffiliateDoctor links an existing doctor to the organization owned by
// orgUserID and registers the doctor in the organization's tenant store.
func (s *Service) AffiliateDoctor(ctx context.Context, orgUserID int64, doctorEmail string) (*model.DoctorSummary, error) {
	doctorEmail = model.NormalizeEmail(doctorEmail)
	if err := validator.Validate(&model.AffiliateDoctorRequest{Email: doctorEmail}); err != nil {
		return nil, errors.BadRequest(err.Error(), err)
	}

	org, err := s.store.Organizations().GetByUserID(ctx, orgUserID)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.NotFound("organization", err)
		}
		return nil, errors.Internal(err)
	}

	profile, err := s.store.Doctors().GetProfileByEmail(ctx, doctorEmail)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.NotFound("doctor", err)
		}
		return nil, errors.Internal(err)
	}
	if profile.OrganizationID.Valid && profile.OrganizationID.Int64 != org.ID {
		return nil, errors.Conflict("doctor already belongs to another organization", nil)
	}

	orgDoctor := &model.OrgDoctor{
		UserID:         profile.UserID,
		FirstName:      profile.FirstName,
		LastName:       profile.LastName,
		Email:          profile.Email,
		Specialization: profile.Specialization,
	}

	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Doctors().SetOrganization(ctx, profile.ID, org.ID); err != nil {
			return err
		}

		store, _, err := s.tenants.EnsureOrganizationStore(ctx, org.ID)
		if err != nil {
			return fmt.Errorf("failed to open organization store: %w", err)
		}
		defer store.Close()

		return store.AddDoctor(ctx, orgDoctor)
	})
	if err != nil {
		return nil, errors.Internal(err)
	}
	s.dashboards.InvalidateOrganization(org.ID)

	log.Info().
		Int64("organization_id", org.ID).
		Int64("doctor_user_id", profile.UserID).
		Msg("doctor affiliated with organization")

	return &model.DoctorSummary{
		ID:             fmt.Sprintf("DOC-%03d", orgDoctor.ID),
		Name:           "Dr. " + profile.FirstName + " " + profile.LastName,
		Email:          profile.Email,
		Specialization: profile.Specialization.String,
	}, nil
}

func (s *Service) hashPassword(password string) (string, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		if stderrors.Is(err, security.ErrPasswordTooLong) || stderrors.Is(err, security.ErrPasswordEmpty) {
			return "", errors.BadRequest(err.Error(), err)
		}
		return "", errors.Internal(err)
	}
	return hash, nil
}

func (s *Service) signupError(userType, email string, err error) error {
	if stderrors.Is(err, repository.ErrDuplicate) {
		s.metrics.Signups.WithLabelValues(userType, "conflict").Inc()
		return errors.Conflict(msgEmailTaken, err)
	}

	s.metrics.Signups.WithLabelValues(userType, "error").Inc()
	log.Error().Err(err).Str("user_type", userType).Str("email", email).Msg("signup failed")
	return errors.Internal(err)
}

func (s *Service) removeStore(kind tenant.Kind, id int64) {
	if err := s.tenants.Remove(kind, id); err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Int64("tenant_id", id).
			Msg("failed to remove tenant store after aborted signup")
	}
}

// afterSignup runs the best-effort side effects of a committed signup.
func (s *Service) afterSignup(ctx context.Context, user *model.User, kind tenant.Kind, tenantID int64) {
	name := user.DisplayName()
	if name == "" {
		name = user.Email
	}
	s.sendWelcome(ctx, user.ID, user.Email, name)

	events := []struct {
		eventType string
		payload   interface{}
	}{
		{messaging.EventAccountCreated, map[string]interface{}{
			"userId":   user.ID,
			"userType": user.Type,
			"email":    user.Email,
		}},
		{messaging.EventTenantProvisioned, map[string]interface{}{
			"kind":     string(kind),
			"tenantId": tenantID,
		}},
	}
	for _, e := range events {
		if err := s.publisher.Publish(ctx, e.eventType, e.payload); err != nil {
			log.Warn().Err(err).Str("event_type", e.eventType).Msg("failed to publish event")
		}
	}
}

// sendWelcome mails in the background so a slow relay does not hold the
// signup response. The send outlives the request but not welcomeTimeout.
func (s *Service) sendWelcome(ctx context.Context, userID int64, to, name string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), welcomeTimeout)

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer cancel()

		if err := s.mailer.SendWelcome(ctx, to, name); err != nil {
			log.Warn().Err(err).Int64("user_id", userID).Msg("failed to send welcome email")
		}
	}()
}
