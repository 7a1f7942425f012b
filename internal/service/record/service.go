package record

import (
	"context"
	stderrors "errors"

	"github.com/jwalitptl/livsafe-api/internal/model"
	"github.com/jwalitptl/livsafe-api/internal/sample"
	"github.com/jwalitptl/livsafe-api/internal/service/grading"
	"github.com/jwalitptl/livsafe-api/internal/tenant"
	"github.com/jwalitptl/livsafe-api/pkg/errors"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Service reads a doctor's records from the doctor's tenant store.
type Service struct {
	tenants    *tenant.Provisioner
	sampleData bool
}

func NewService(tenants *tenant.Provisioner, sampleData bool) *Service {
	return &Service{tenants: tenants, sampleData: sampleData}
}

// Page normalizes 1-based paging input.
func Page(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// List returns one page of the caller's records, newest first, and the total
// count. Anonymous callers get the demo list when sample data is enabled.
func (s *Service) List(ctx context.Context, caller *model.Identity, page, pageSize int) ([]model.RecordSummary, int, error) {
	if caller == nil {
		if !s.sampleData {
			return nil, 0, errors.Unauthorized("authentication required", nil)
		}
		records := sample.Records()
		return records, len(records), nil
	}

	store, err := s.open(ctx, caller)
	if err != nil {
		return nil, 0, err
	}
	defer store.Close()

	page, pageSize = Page(page, pageSize)
	total, err := store.CountRecords(ctx)
	if err != nil {
		return nil, 0, errors.Internal(err)
	}

	rows, err := store.ListRecords(ctx, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, errors.Internal(err)
	}

	records := make([]model.RecordSummary, 0, len(rows))
	for _, r := range rows {
		records = append(records, model.RecordSummary{
			ID:          r.RecordID,
			PatientName: r.PatientName,
			Date:        r.CreatedAt.Format(model.DateLayout),
			Grade:       r.Grade,
			Confidence:  r.Confidence,
		})
	}
	return records, total, nil
}

// Get returns one of the caller's records with patient and analysis.
func (s *Service) Get(ctx context.Context, caller *model.Identity, recordID string) (*model.RecordDetail, error) {
	store, err := s.open(ctx, caller)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	r, err := store.GetRecord(ctx, recordID)
	if err != nil {
		if stderrors.Is(err, tenant.ErrRecordNotFound) {
			return nil, errors.NotFound("record", err)
		}
		return nil, errors.Internal(err)
	}
	return toDetail(r), nil
}

func toDetail(r *model.RecordWithPatient) *model.RecordDetail {
	return &model.RecordDetail{
		RecordID: r.RecordID,
		PatientInfo: model.PatientInfo{
			ID:     r.RecordID,
			Name:   r.PatientName,
			Age:    r.PatientAge,
			Gender: r.PatientGender,
			Date:   r.CreatedAt.Format(model.DateLayout),
		},
		Fibrosis: model.Fibrosis{
			Grade:      r.Grade,
			Confidence: r.Confidence,
		},
		Analysis:  grading.SplitAnalysis(r.AnalysisText.String),
		ImagePath: r.ImagePath,
	}
}

// open checks the caller is a doctor and opens the doctor's store.
func (s *Service) open(ctx context.Context, caller *model.Identity) (*tenant.DoctorStore, error) {
	if caller == nil {
		return nil, errors.Unauthorized("authentication required", nil)
	}
	if !caller.IsDoctor() {
		return nil, errors.Forbidden("doctor account required")
	}

	store, _, err := s.tenants.EnsureDoctorStore(ctx, caller.ID)
	if err != nil {
		return nil, errors.Internal(err)
	}
	return store, nil
}
