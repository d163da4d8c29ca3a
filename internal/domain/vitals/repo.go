package vitals

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SampleStore is the health platform that owns vitals samples. Query
// bounds are inclusive; results are newest first.
type SampleStore interface {
	SaveBloodPressure(ctx context.Context, r *BloodPressureReading) error
	DeleteBloodPressure(ctx context.Context, id uuid.UUID) error
	QueryBloodPressure(ctx context.Context, from, to time.Time) ([]*BloodPressureReading, error)

	SaveWeight(ctx context.Context, r *WeightReading) error
	DeleteWeight(ctx context.Context, id uuid.UUID) error
	QueryWeight(ctx context.Context, from, to time.Time) ([]*WeightReading, error)
}
