package tenant

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jwalitptl/livsafe-api/internal/tenant/migrations"
	"github.com/jwalitptl/livsafe-api/pkg/metrics"
)

// Kind selects the schema and file prefix of a tenant store.
type Kind string

const (
	KindDoctor       Kind = "doctor"
	KindOrganization Kind = "organization"
)

var (
	ErrInvalidKind   = errors.New("invalid tenant kind")
	ErrInvalidID     = errors.New("tenant id must be positive")
	ErrStoreNotFound = errors.New("tenant store not found")
)

func (k Kind) prefix() (string, error) {
	switch k {
	case KindDoctor:
		return "doctor", nil
	case KindOrganization:
		return "org", nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, string(k))
}

func (k Kind) migrations() (fs.FS, error) {
	switch k {
	case KindDoctor:
		return fs.Sub(migrations.Doctor, "doctor")
	case KindOrganization:
		return fs.Sub(migrations.Organization, "organization")
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidKind, string(k))
}

// Provisioner creates and opens per-tenant SQLite stores under one root
// directory. Doctor stores are keyed by the doctor's user id, organization
// stores by the organization id.
type Provisioner struct {
	root    string
	log     *zap.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	locks map[string]*keyLock
}

// keyLock is dropped from Provisioner.locks once nobody holds or waits on it.
type keyLock struct {
	sync.Mutex
	refs int
}

func NewProvisioner(root string, log *zap.Logger, m *metrics.Metrics) (*Provisioner, error) {
	if root == "" {
		return nil, errors.New("tenant root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create tenant root: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Provisioner{
		root:    root,
		log:     log,
		metrics: m,
		locks:   make(map[string]*keyLock),
	}, nil
}

// Root returns the directory holding all tenant files.
func (p *Provisioner) Root() string {
	return p.root
}

// Path returns the file of the given tenant. It is the only place the file
// naming scheme lives.
func (p *Provisioner) Path(kind Kind, id int64) (string, error) {
	prefix, err := kind.prefix()
	if err != nil {
		return "", err
	}
	if id <= 0 {
		return "", fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	return filepath.Join(p.root, fmt.Sprintf("%s_%d.db", prefix, id)), nil
}

func (p *Provisioner) lock(key string) func() {
	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &keyLock{}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()

		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, key)
		}
		p.mu.Unlock()
	}
}

// EnsureStore opens the tenant store, creating the file and applying the
// schema when needed. Calling it again for the same tenant leaves existing
// data untouched. created reports whether this call made the file.
func (p *Provisioner) EnsureStore(ctx context.Context, kind Kind, id int64) (store *Store, created bool, err error) {
	path, err := p.Path(kind, id)
	if err != nil {
		return nil, false, err
	}
	source, err := kind.migrations()
	if err != nil {
		return nil, false, err
	}

	unlock := p.lock(path)
	defer unlock()

	start := time.Now()
	defer func() {
		outcome := "existing"
		switch {
		case err != nil:
			outcome = "error"
		case created:
			outcome = "created"
		}
		p.metrics.TenantProvisions.WithLabelValues(string(kind), outcome).Inc()
		p.metrics.TenantProvisionTime.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	}()

	_, statErr := os.Stat(path)
	switch {
	case statErr == nil:
	case errors.Is(statErr, fs.ErrNotExist):
		created = true
	default:
		return nil, false, fmt.Errorf("failed to stat tenant store: %w", statErr)
	}

	store, err = openStore(path, kind, id)
	if err != nil {
		if created {
			removeFiles(path)
		}
		return nil, false, err
	}

	if err = NewMigrator(store, p.log).Up(ctx, source); err != nil {
		store.Close()
		if created {
			removeFiles(path)
		}
		return nil, false, fmt.Errorf("failed to migrate %s store %d: %w", kind, id, err)
	}

	if created {
		p.log.Info("Provisioned tenant store",
			zap.String("kind", string(kind)),
			zap.Int64("tenant_id", id),
			zap.String("path", path))
	}
	return store, created, nil
}

// EnsureDoctorStore provisions the store of the doctor with the given user id.
func (p *Provisioner) EnsureDoctorStore(ctx context.Context, userID int64) (*DoctorStore, bool, error) {
	store, created, err := p.EnsureStore(ctx, KindDoctor, userID)
	if err != nil {
		return nil, false, err
	}
	return &DoctorStore{Store: store}, created, nil
}

// EnsureOrganizationStore provisions the store of the organization with the given id.
func (p *Provisioner) EnsureOrganizationStore(ctx context.Context, orgID int64) (*OrganizationStore, bool, error) {
	store, created, err := p.EnsureStore(ctx, KindOrganization, orgID)
	if err != nil {
		return nil, false, err
	}
	return &OrganizationStore{Store: store}, created, nil
}

// OpenDoctorStore opens an existing doctor store without creating it.
func (p *Provisioner) OpenDoctorStore(ctx context.Context, userID int64) (*DoctorStore, error) {
	ok, err := p.Exists(KindDoctor, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrStoreNotFound
	}
	store, _, err := p.EnsureDoctorStore(ctx, userID)
	return store, err
}

// OpenOrganizationStore opens an existing organization store without creating it.
func (p *Provisioner) OpenOrganizationStore(ctx context.Context, orgID int64) (*OrganizationStore, error) {
	ok, err := p.Exists(KindOrganization, orgID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrStoreNotFound
	}
	store, _, err := p.EnsureOrganizationStore(ctx, orgID)
	return store, err
}

func (p *Provisioner) Exists(kind Kind, id int64) (bool, error) {
	path, err := p.Path(kind, id)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// Remove deletes the tenant file. Removing a missing store is not an error.
func (p *Provisioner) Remove(kind Kind, id int64) error {
	path, err := p.Path(kind, id)
	if err != nil {
		return err
	}

	unlock := p.lock(path)
	defer unlock()

	if err := removeFiles(path); err != nil {
		return fmt.Errorf("failed to remove %s store %d: %w", kind, id, err)
	}
	p.log.Info("Removed tenant store", zap.String("kind", string(kind)), zap.Int64("tenant_id", id))
	return nil
}

// TenantFile is a store file found on disk.
type TenantFile struct {
	Kind Kind
	ID   int64
	Path string
}

// List returns every tenant file under the root.
func (p *Provisioner) List() ([]TenantFile, error) {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenant root: %w", err)
	}

	var files []TenantFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var id int64
		name := e.Name()
		switch {
		case scanName(name, "doctor_%d.db", &id):
			files = append(files, TenantFile{Kind: KindDoctor, ID: id, Path: filepath.Join(p.root, name)})
		case scanName(name, "org_%d.db", &id):
			files = append(files, TenantFile{Kind: KindOrganization, ID: id, Path: filepath.Join(p.root, name)})
		}
	}
	return files, nil
}

func scanName(name, format string, id *int64) bool {
	n, err := fmt.Sscanf(name, format, id)
	if err != nil || n != 1 || *id <= 0 {
		return false
	}
	// reject trailing garbage such as doctor_1.db-journal
	return fmt.Sprintf(format, *id) == name
}

func removeFiles(path string) error {
	var errs []error
	for _, suffix := range []string{"", "-journal", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
