package grading

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/livsafe-api/internal/model"
	"github.com/jwalitptl/livsafe-api/internal/repository"
	"github.com/jwalitptl/livsafe-api/internal/tenant"
	"github.com/jwalitptl/livsafe-api/pkg/errors"
	"github.com/jwalitptl/livsafe-api/pkg/messaging"
	"github.com/jwalitptl/livsafe-api/pkg/metrics"
)

const (
	maxPatientAge = 150

	// A record id has 999 possible suffixes per year.
	maxRecordIDAttempts = 10

	msgProcessingFailed = "error processing image"
)

// Request is one uploaded image with its patient fields as they arrived in
// the form.
type Request struct {
	Image         []byte
	Filename      string
	PatientName   string
	PatientAge    string
	PatientGender string
}

// DashboardInvalidator drops cached dashboards after a new record.
type DashboardInvalidator interface {
	InvalidateDoctor(userID int64)
	InvalidateOrganization(orgID int64)
}

type Config struct {
	UploadDir string
	// MaxPixels caps the decoded size of an upload; zero means DefaultMaxPixels.
	MaxPixels int
	// Seed feeds the record id generator; zero means the clock.
	Seed int64
}

type Service struct {
	store      repository.Store
	tenants    *tenant.Provisioner
	classifier Classifier
	uploadDir  string
	maxPixels  int
	publisher  messaging.Publisher
	dashboards DashboardInvalidator
	metrics    *metrics.Metrics

	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

func NewService(store repository.Store, tenants *tenant.Provisioner, classifier Classifier, cfg Config,
	publisher messaging.Publisher, dashboards DashboardInvalidator, m *metrics.Metrics) *Service {
	if publisher == nil {
		publisher = messaging.NewNopPublisher()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Service{
		store:      store,
		tenants:    tenants,
		classifier: classifier,
		uploadDir:  cfg.UploadDir,
		maxPixels:  cfg.MaxPixels,
		publisher:  publisher,
		dashboards: dashboards,
		metrics:    m,
		rnd:        rand.New(rand.NewSource(seed)),
		now:        time.Now,
	}
}

// Grade stores the upload, classifies it and builds the report. Results for
// an authenticated doctor are also saved to the doctor's tenant store;
// anonymous results are returned without being saved.
func (s *Service) Grade(ctx context.Context, req *Request, caller *model.Identity) (*model.GradeResult, error) {
	age, err := validateRequest(req)
	if err != nil {
		return nil, err
	}

	start := s.now()
	imagePath, err := s.saveUpload(req)
	if err != nil {
		log.Error().Err(err).Str("filename", req.Filename).Msg("failed to store upload")
		return nil, errors.Processing(msgProcessingFailed, err)
	}

	features := ExtractFeatures(req.Image, s.maxPixels)
	switch {
	case features.Oversized:
		log.Warn().Str("path", imagePath).Msg("upload exceeds the pixel limit, using placeholder statistics")
	case !features.Valid:
		log.Warn().Str("path", imagePath).Msg("could not decode upload, using placeholder statistics")
	}

	prediction, err := s.classifier.Classify(ctx, features)
	if err != nil {
		log.Error().Err(err).Str("classifier", s.classifier.Name()).Msg("classification failed")
		return nil, errors.Processing(msgProcessingFailed, err)
	}

	now := s.now()
	analysis := Narrative(prediction.Grade)
	recordID := s.nextRecordID(now)

	result := &model.GradeResult{
		RecordID: recordID,
		PatientInfo: model.PatientInfo{
			ID:     recordID,
			Name:   strings.TrimSpace(req.PatientName),
			Age:    age,
			Gender: strings.TrimSpace(req.PatientGender),
			Date:   now.Format(model.DateLayout),
		},
		Fibrosis: model.Fibrosis{
			Grade:      prediction.Grade,
			Confidence: prediction.Confidence,
		},
		Analysis: analysis,
		Model:    s.classifier.Name(),
	}

	if caller.IsDoctor() {
		if err := s.persist(ctx, caller, result, imagePath, now); err != nil {
			return nil, err
		}
		result.Persisted = true
	}

	s.metrics.Grades.WithLabelValues(string(prediction.Grade), s.classifier.Name()).Inc()
	s.metrics.GradingLatency.Observe(s.now().Sub(start).Seconds())

	log.Info().
		Str("record_id", result.RecordID).
		Str("grade", string(prediction.Grade)).
		Int("confidence", prediction.Confidence).
		Str("classifier", s.classifier.Name()).
		Bool("persisted", result.Persisted).
		Msg("image graded")

	return result, nil
}

func validateRequest(req *Request) (int, error) {
	if len(req.Image) == 0 {
		return 0, errors.Validation("no image provided")
	}
	if strings.TrimSpace(req.Filename) == "" {
		return 0, errors.Validation("no image selected")
	}
	if strings.TrimSpace(req.PatientName) == "" ||
		strings.TrimSpace(req.PatientAge) == "" ||
		strings.TrimSpace(req.PatientGender) == "" {
		return 0, errors.Validation("missing patient information")
	}

	age, err := strconv.Atoi(strings.TrimSpace(req.PatientAge))
	if err != nil {
		return 0, errors.Validation("age must be a number")
	}
	if age < 0 || age > maxPatientAge {
		return 0, errors.Validation(fmt.Sprintf("age must be between 0 and %d", maxPatientAge))
	}
	return age, nil
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename keeps the base name of an upload and replaces anything
// outside [A-Za-z0-9._-]. It never returns an empty or hidden name.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeFilenameChars.ReplaceAllString(strings.TrimSpace(name), "_")
	name = strings.TrimLeft(name, "._")
	if name == "" {
		return "upload"
	}
	return name
}

func (s *Service) saveUpload(req *Request) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload dir: %w", err)
	}

	path := filepath.Join(s.uploadDir, uuid.NewString()+"_"+SanitizeFilename(req.Filename))
	if err := os.WriteFile(path, req.Image, 0o644); err != nil {
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	return path, nil
}

// FormatRecordID renders LIV-<year><NNN>.
func FormatRecordID(year, n int) string {
	return fmt.Sprintf("LIV-%d%03d", year, n)
}

func (s *Service) nextRecordID(now time.Time) string {
	s.mu.Lock()
	n := s.rnd.Intn(999) + 1
	s.mu.Unlock()
	return FormatRecordID(now.Year(), n)
}

// persist writes the patient and record to the doctor's store, drawing a new
// record id when the current one is taken, then updates the organization's
// stats when the doctor is affiliated.
func (s *Service) persist(ctx context.Context, caller *model.Identity, result *model.GradeResult, imagePath string, now time.Time) error {
	store, created, err := s.tenants.EnsureDoctorStore(ctx, caller.ID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", caller.ID).Msg("failed to open doctor store")
		return errors.Processing(msgProcessingFailed, err)
	}
	defer store.Close()
	if created {
		log.Warn().Int64("user_id", caller.ID).Msg("doctor store was missing and has been provisioned")
	}

	patient := &model.Patient{
		Name:      result.PatientInfo.Name,
		Age:       result.PatientInfo.Age,
		Gender:    result.PatientInfo.Gender,
		CreatedAt: now.UTC(),
	}
	record := &model.Record{
		Grade:        result.Fibrosis.Grade,
		Confidence:   result.Fibrosis.Confidence,
		ImagePath:    imagePath,
		AnalysisText: sql.NullString{String: JoinAnalysis(result.Analysis), Valid: true},
		CreatedAt:    now.UTC(),
	}

	for attempt := 1; ; attempt++ {
		record.RecordID = result.RecordID
		err = store.SaveGrading(ctx, patient, record)
		if !stderrors.Is(err, tenant.ErrDuplicateRecordID) {
			break
		}

		s.metrics.RecordIDCollisions.Inc()
		log.Warn().Str("record_id", result.RecordID).Int("attempt", attempt).Msg("record id collision")
		if attempt == maxRecordIDAttempts {
			break
		}
		result.RecordID = s.nextRecordID(now)
		result.PatientInfo.ID = result.RecordID
	}
	if err != nil {
		log.Error().Err(err).Int64("user_id", caller.ID).Msg("failed to save record")
		return errors.Processing(msgProcessingFailed, err)
	}
	s.metrics.RecordsPersisted.Inc()

	if s.dashboards != nil {
		s.dashboards.InvalidateDoctor(caller.ID)
	}
	s.updateOrganizationStats(ctx, caller.ID, result.Fibrosis.Grade, now)

	err = s.publisher.Publish(ctx, messaging.EventRecordGraded, map[string]interface{}{
		"userId":   caller.ID,
		"recordId": result.RecordID,
		"grade":    result.Fibrosis.Grade,
	})
	if err != nil {
		log.Warn().Err(err).Str("record_id", result.RecordID).Msg("failed to publish event")
	}
	return nil
}

// updateOrganizationStats is best effort: the record is already saved.
func (s *Service) updateOrganizationStats(ctx context.Context, userID int64, grade model.Grade, now time.Time) {
	doctor, err := s.store.Doctors().GetByUserID(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("failed to load doctor")
		return
	}
	if !doctor.OrganizationID.Valid {
		return
	}
	orgID := doctor.OrganizationID.Int64

	store, err := s.tenants.OpenOrganizationStore(ctx, orgID)
	if err != nil {
		log.Warn().Err(err).Int64("organization_id", orgID).Msg("failed to open organization store")
		return
	}
	defer store.Close()

	if err := store.RecordGraded(ctx, userID, grade, now); err != nil {
		log.Warn().Err(err).Int64("organization_id", orgID).Int64("user_id", userID).
			Msg("failed to update organization stats")
		return
	}
	if s.dashboards != nil {
		s.dashboards.InvalidateOrganization(orgID)
	}
}
