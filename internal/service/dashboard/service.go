package dashboard

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/livsafe-api/internal/model"
	"github.com/jwalitptl/livsafe-api/internal/repository"
	"github.com/jwalitptl/livsafe-api/internal/sample"
	"github.com/jwalitptl/livsafe-api/internal/tenant"
	"github.com/jwalitptl/livsafe-api/pkg/errors"
)

const recentRecordsLimit = 10

type Config struct {
	// TTL of a cached dashboard; zero disables caching.
	TTL time.Duration
	// SampleData serves the demo payloads to anonymous callers.
	SampleData bool
}

// Service builds the doctor and organization dashboards from tenant stores.
// Built dashboards are cached per tenant until they expire or a new record
// invalidates them.
type Service struct {
	store      repository.Store
	tenants    *tenant.Provisioner
	cache      *cache.Cache
	ttl        time.Duration
	sampleData bool
	now        func() time.Time
}

func NewService(store repository.Store, tenants *tenant.Provisioner, cfg Config) *Service {
	cleanup := 2 * cfg.TTL
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &Service{
		store:      store,
		tenants:    tenants,
		cache:      cache.New(cfg.TTL, cleanup),
		ttl:        cfg.TTL,
		sampleData: cfg.SampleData,
		now:        time.Now,
	}
}

func doctorKey(userID int64) string { return "doctor:" + strconv.FormatInt(userID, 10) }
func orgKey(orgID int64) string     { return "org:" + strconv.FormatInt(orgID, 10) }

func (s *Service) InvalidateDoctor(userID int64) { s.cache.Delete(doctorKey(userID)) }

func (s *Service) InvalidateOrganization(orgID int64) { s.cache.Delete(orgKey(orgID)) }

// anonymous decides what a caller without a token gets.
func (s *Service) anonymous() error {
	if s.sampleData {
		return nil
	}
	return errors.Unauthorized("authentication required", nil)
}

// DoctorDashboard returns the caller's dashboard, or the demo payload for an
// anonymous caller.
func (s *Service) DoctorDashboard(ctx context.Context, caller *model.Identity) (*model.DoctorDashboard, error) {
	if caller == nil {
		if err := s.anonymous(); err != nil {
			return nil, err
		}
		return sample.DoctorDashboard(), nil
	}
	if !caller.IsDoctor() {
		return nil, errors.Forbidden("doctor account required")
	}

	key := doctorKey(caller.ID)
	if cached, ok := s.cache.Get(key); ok {
		return cached.(*model.DoctorDashboard), nil
	}

	store, _, err := s.tenants.EnsureDoctorStore(ctx, caller.ID)
	if err != nil {
		return nil, errors.Internal(err)
	}
	defer store.Close()

	dashboard, err := s.buildDoctorDashboard(ctx, store)
	if err != nil {
		return nil, errors.Internal(err)
	}

	if s.ttl > 0 {
		s.cache.Set(key, dashboard, cache.DefaultExpiration)
	}
	return dashboard, nil
}

func (s *Service) buildDoctorDashboard(ctx context.Context, store *tenant.DoctorStore) (*model.DoctorDashboard, error) {
	w := windowsAt(s.now())

	total, err := store.CountRecords(ctx)
	if err != nil {
		return nil, err
	}
	thisMonth, err := store.CountRecordsBetween(ctx, w.monthStart, w.nextMonth)
	if err != nil {
		return nil, err
	}
	lastMonth, err := store.CountRecordsBetween(ctx, w.lastMonth, w.monthStart)
	if err != nil {
		return nil, err
	}

	// the simulated classifier has no ground truth, so the accuracy tile
	// shows the mean reported confidence
	accuracy, err := store.AverageConfidenceBetween(ctx, time.Time{}, w.nextMonth)
	if err != nil {
		return nil, err
	}
	accuracyThisMonth, err := store.AverageConfidenceBetween(ctx, w.monthStart, w.nextMonth)
	if err != nil {
		return nil, err
	}
	accuracyLastMonth, err := store.AverageConfidenceBetween(ctx, w.lastMonth, w.monthStart)
	if err != nil {
		return nil, err
	}
	accuracyChange := 0.0
	if thisMonth > 0 && lastMonth > 0 {
		accuracyChange = accuracyThisMonth - accuracyLastMonth
	}

	records, err := store.ListRecords(ctx, recentRecordsLimit, 0)
	if err != nil {
		return nil, err
	}
	recent := make([]model.RecordSummary, 0, len(records))
	for _, r := range records {
		recent = append(recent, model.RecordSummary{
			ID:          r.RecordID,
			PatientName: r.PatientName,
			Date:        r.CreatedAt.Format(model.DateLayout),
			Grade:       r.Grade,
			Confidence:  r.Confidence,
		})
	}

	counts, err := store.GradeCounts(ctx)
	if err != nil {
		return nil, err
	}

	return &model.DoctorDashboard{
		Stats: model.DoctorStatsSummary{
			TotalRecords:   total,
			TotalChange:    fmt.Sprintf("%+d from last month", thisMonth),
			MonthlyRecords: thisMonth,
			MonthlyChange:  fmt.Sprintf("%+d from previous month", thisMonth-lastMonth),
			Accuracy:       round1(accuracy),
			AccuracyChange: fmt.Sprintf("%+.1f%% from last month", round1(accuracyChange)),
		},
		RecentRecords:     recent,
		GradeDistribution: distribution(counts),
	}, nil
}

// OrganizationDashboard returns the dashboard of the organization owned by
// the caller, or the demo payload for an anonymous caller.
func (s *Service) OrganizationDashboard(ctx context.Context, caller *model.Identity) (*model.OrganizationDashboard, error) {
	if caller == nil {
		if err := s.anonymous(); err != nil {
			return nil, err
		}
		return sample.OrganizationDashboard(), nil
	}
	if !caller.IsOrganization() {
		return nil, errors.Forbidden("organization account required")
	}

	org, err := s.store.Organizations().GetByUserID(ctx, caller.ID)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.NotFound("organization", err)
		}
		return nil, errors.Internal(err)
	}

	key := orgKey(org.ID)
	if cached, ok := s.cache.Get(key); ok {
		return cached.(*model.OrganizationDashboard), nil
	}

	store, _, err := s.tenants.EnsureOrganizationStore(ctx, org.ID)
	if err != nil {
		return nil, errors.Internal(err)
	}
	defer store.Close()

	dashboard, err := s.buildOrganizationDashboard(ctx, store)
	if err != nil {
		return nil, errors.Internal(err)
	}

	if s.ttl > 0 {
		s.cache.Set(key, dashboard, cache.DefaultExpiration)
	}
	return dashboard, nil
}

func (s *Service) buildOrganizationDashboard(ctx context.Context, store *tenant.OrganizationStore) (*model.OrganizationDashboard, error) {
	w := windowsAt(s.now())

	doctors, err := store.ListDoctors(ctx)
	if err != nil {
		return nil, err
	}

	var (
		newDoctors                           int
		today, yesterday, thisMonth, lastMon int
		counts                               = make(map[model.Grade]int, len(model.Grades))
		summaries                            = make([]model.DoctorSummary, 0, len(doctors))
	)
	for _, d := range doctors {
		if !d.CreatedAt.Before(w.monthStart) {
			newDoctors++
		}
		for _, g := range model.Grades {
			counts[g] += d.GradeCount(g)
		}
		summaries = append(summaries, model.DoctorSummary{
			ID:             fmt.Sprintf("DOC-%03d", d.ID),
			Name:           "Dr. " + d.FirstName + " " + d.LastName,
			Email:          d.Email,
			Specialization: d.Specialization.String,
			RecordCount:    d.TotalRecords,
		})

		c, err := s.doctorCounts(ctx, d.UserID, w)
		if err != nil {
			log.Warn().Err(err).Int64("user_id", d.UserID).Msg("skipping doctor in organization totals")
			continue
		}
		today += c[0]
		yesterday += c[1]
		thisMonth += c[2]
		lastMon += c[3]
	}

	return &model.OrganizationDashboard{
		Stats: model.OrganizationStatsSummary{
			TotalDoctors:       len(doctors),
			DoctorsChange:      fmt.Sprintf("%+d from last month", newDoctors),
			TotalRecordsToday:  today,
			RecordsTodayChange: fmt.Sprintf("%+d from yesterday", today-yesterday),
			TotalRecordsMonth:  thisMonth,
			RecordsMonthChange: fmt.Sprintf("%+d from last month", thisMonth-lastMon),
		},
		Doctors:           summaries,
		GradeDistribution: distribution(counts),
	}, nil
}

// doctorCounts reads today, yesterday, this month and last month from one
// doctor's store.
func (s *Service) doctorCounts(ctx context.Context, userID int64, w windows) ([4]int, error) {
	var out [4]int

	store, err := s.tenants.OpenDoctorStore(ctx, userID)
	if err != nil {
		return out, err
	}
	defer store.Close()

	ranges := [4][2]time.Time{
		{w.dayStart, w.nextDay},
		{w.yesterday, w.dayStart},
		{w.monthStart, w.nextMonth},
		{w.lastMonth, w.monthStart},
	}
	for i, r := range ranges {
		n, err := store.CountRecordsBetween(ctx, r[0], r[1])
		if err != nil {
			return out, err
		}
		out[i] = n
	}
	return out, nil
}

// windows are the UTC day and month boundaries around a moment.
type windows struct {
	dayStart, nextDay, yesterday      time.Time
	monthStart, nextMonth, lastMonth time.Time
}

func windowsAt(now time.Time) windows {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return windows{
		dayStart:   day,
		nextDay:    day.AddDate(0, 0, 1),
		yesterday:  day.AddDate(0, 0, -1),
		monthStart: month,
		nextMonth:  month.AddDate(0, 1, 0),
		lastMonth:  month.AddDate(0, -1, 0),
	}
}

func distribution(counts map[model.Grade]int) []model.GradeCount {
	out := make([]model.GradeCount, 0, len(model.Grades))
	for _, g := range model.Grades {
		out = append(out, model.GradeCount{Name: g, Value: counts[g], Color: model.GradeColors[g]})
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
