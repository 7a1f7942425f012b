package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jwalitptl/livsafe-api/internal/model"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

// All repository interfaces in one file
type (
	// Store is the shared store. Repositories returned inside WithTx share
	// the transaction.
	Store interface {
		Users() UserRepository
		Doctors() DoctorRepository
		Organizations() OrganizationRepository
		Sessions() SessionRepository
		WithTx(ctx context.Context, fn func(tx Store) error) error
		Ping(ctx context.Context) error
	}

	UserRepository interface {
		// Create inserts the user and sets its id. A taken email returns ErrDuplicate.
		Create(ctx context.Context, user *model.User) error
		Get(ctx context.Context, id int64) (*model.User, error)
		GetByEmail(ctx context.Context, email string) (*model.User, error)
	}

	DoctorRepository interface {
		Create(ctx context.Context, doctor *model.Doctor) error
		GetByUserID(ctx context.Context, userID int64) (*model.Doctor, error)
		GetProfileByEmail(ctx context.Context, email string) (*model.DoctorProfile, error)
		SetOrganization(ctx context.Context, doctorID, organizationID int64) error
		List(ctx context.Context) ([]*model.Doctor, error)
	}

	OrganizationRepository interface {
		Create(ctx context.Context, org *model.Organization) error
		Get(ctx context.Context, id int64) (*model.Organization, error)
		GetByUserID(ctx context.Context, userID int64) (*model.Organization, error)
		List(ctx context.Context) ([]*model.Organization, error)
	}

	SessionRepository interface {
		Create(ctx context.Context, session *model.Session) error
		// GetActive returns the session if it exists and has not expired at now.
		GetActive(ctx context.Context, sessionID string, now time.Time) (*model.Session, error)
		Delete(ctx context.Context, sessionID string) error
		DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	}
)
