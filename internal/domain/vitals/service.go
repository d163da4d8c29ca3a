package vitals

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	recentPressureDays = 7
	recentWeightDays   = 30
	allYears           = 10
)

type Service struct {
	store  SampleStore
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(store SampleStore, logger zerolog.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// Window selects how far back a listing reaches.
type Window string

const (
	WindowRecent Window = "recent"
	WindowAll    Window = "all"
)

func (s *Service) since(w Window, recentDays int) time.Time {
	now := s.now()
	if w == WindowAll {
		return now.AddDate(-allYears, 0, 0)
	}
	return now.AddDate(0, 0, -recentDays)
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// -- Blood Pressure --

// RecordBloodPressure validates and stores a reading. A zero at means now.
// A non-positive heart rate is treated as not measured.
func (s *Service) RecordBloodPressure(ctx context.Context, systolic, diastolic float64, heartRate *float64, at time.Time) (*BloodPressureReading, error) {
	if !positive(systolic) || !positive(diastolic) {
		return nil, fmt.Errorf("%w: pressures must be positive", ErrInvalidReading)
	}
	if systolic <= diastolic {
		return nil, fmt.Errorf("%w: systolic must be greater than diastolic", ErrInvalidReading)
	}
	if heartRate != nil && !positive(*heartRate) {
		heartRate = nil
	}
	if at.IsZero() {
		at = s.now()
	}
	r := &BloodPressureReading{
		ID:        uuid.New(),
		Time:      at,
		Systolic:  systolic,
		Diastolic: diastolic,
		HeartRate: heartRate,
	}
	if err := s.store.SaveBloodPressure(ctx, r); err != nil {
		return nil, fmt.Errorf("save blood pressure: %w", err)
	}
	s.logger.Debug().Str("id", r.ID.String()).Str("status", string(r.Status())).Msg("blood pressure recorded")
	return r, nil
}

func (s *Service) DeleteBloodPressure(ctx context.Context, id uuid.UUID) error {
	return s.store.DeleteBloodPressure(ctx, id)
}

func (s *Service) ListBloodPressure(ctx context.Context, w Window) ([]*BloodPressureReading, error) {
	return s.store.QueryBloodPressure(ctx, s.since(w, recentPressureDays), s.now())
}

// PressureSummary counts readings by status.
type PressureSummary struct {
	Total    int                   `json:"total"`
	Normal   int                   `json:"normal"`
	Abnormal int                   `json:"abnormal"`
	ByStatus map[BPStatus]int      `json:"by_status"`
	Latest   *BloodPressureReading `json:"latest,omitempty"`
}

func (s *Service) SummarizeBloodPressure(ctx context.Context, w Window) (*PressureSummary, error) {
	readings, err := s.ListBloodPressure(ctx, w)
	if err != nil {
		return nil, err
	}
	sum := &PressureSummary{Total: len(readings), ByStatus: map[BPStatus]int{}}
	for _, r := range readings {
		st := r.Status()
		sum.ByStatus[st]++
		if st == BPNormal {
			sum.Normal++
		} else {
			sum.Abnormal++
		}
	}
	if len(readings) > 0 {
		sum.Latest = readings[0]
	}
	return sum, nil
}

// -- Weight --

// RecordWeight validates and stores a reading. A zero at means now.
func (s *Service) RecordWeight(ctx context.Context, kilograms float64, at time.Time) (*WeightReading, error) {
	if !positive(kilograms) {
		return nil, fmt.Errorf("%w: weight must be positive", ErrInvalidReading)
	}
	if at.IsZero() {
		at = s.now()
	}
	r := &WeightReading{ID: uuid.New(), Time: at, Kilograms: kilograms}
	if err := s.store.SaveWeight(ctx, r); err != nil {
		return nil, fmt.Errorf("save weight: %w", err)
	}
	s.logger.Debug().Str("id", r.ID.String()).Str("status", string(r.Status())).Msg("weight recorded")
	return r, nil
}

func (s *Service) DeleteWeight(ctx context.Context, id uuid.UUID) error {
	return s.store.DeleteWeight(ctx, id)
}

func (s *Service) ListWeight(ctx context.Context, w Window) ([]*WeightReading, error) {
	return s.store.QueryWeight(ctx, s.since(w, recentWeightDays), s.now())
}
