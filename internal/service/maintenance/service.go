// Package maintenance holds the offline jobs run by the worker binary.
package maintenance

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/livsafe-api/internal/repository"
	"github.com/jwalitptl/livsafe-api/internal/tenant"
)

type Service struct {
	store   repository.Store
	tenants *tenant.Provisioner
}

func NewService(store repository.Store, tenants *tenant.Provisioner) *Service {
	return &Service{store: store, tenants: tenants}
}

// Report summarizes one reconcile pass.
type Report struct {
	// Provisioned counts owners whose store was missing and got created.
	Provisioned int
	// Checked counts stores that existed and were migrated to the latest schema.
	Checked int
	// Orphans are store files with no owning row in the shared store.
	Orphans []tenant.TenantFile
	// Pruned counts orphans removed.
	Pruned int
}

// Reconcile makes sure every doctor and organization has an up-to-date tenant
// store and reports files whose owner no longer exists. Orphans are removed
// only when prune is set.
func (s *Service) Reconcile(ctx context.Context, prune bool) (*Report, error) {
	report := &Report{}
	owned := make(map[tenant.Kind]map[int64]bool, 2)

	doctors, err := s.store.Doctors().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list doctors: %w", err)
	}
	owned[tenant.KindDoctor] = make(map[int64]bool, len(doctors))
	for _, d := range doctors {
		owned[tenant.KindDoctor][d.UserID] = true
		if err := s.ensure(ctx, tenant.KindDoctor, d.UserID, report); err != nil {
			return nil, err
		}
	}

	orgs, err := s.store.Organizations().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	owned[tenant.KindOrganization] = make(map[int64]bool, len(orgs))
	for _, o := range orgs {
		owned[tenant.KindOrganization][o.ID] = true
		if err := s.ensure(ctx, tenant.KindOrganization, o.ID, report); err != nil {
			return nil, err
		}
	}

	files, err := s.tenants.List()
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if owned[f.Kind][f.ID] {
			continue
		}
		report.Orphans = append(report.Orphans, f)
		log.Warn().Str("kind", string(f.Kind)).Int64("id", f.ID).Str("path", f.Path).Msg("orphaned tenant store")

		if prune {
			if err := s.tenants.Remove(f.Kind, f.ID); err != nil {
				return nil, fmt.Errorf("failed to remove %s: %w", f.Path, err)
			}
			report.Pruned++
		}
	}

	return report, nil
}

func (s *Service) ensure(ctx context.Context, kind tenant.Kind, id int64, report *Report) error {
	store, created, err := s.tenants.EnsureStore(ctx, kind, id)
	if err != nil {
		return fmt.Errorf("failed to ensure %s store %d: %w", kind, id, err)
	}
	defer store.Close()

	if created {
		report.Provisioned++
		log.Info().Str("kind", string(kind)).Int64("id", id).Msg("provisioned missing tenant store")
	} else {
		report.Checked++
	}
	return nil
}
