package vitals

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidReading = errors.New("invalid reading")
	ErrSampleNotFound = errors.New("sample not found")
)

// BPStatus classifies a blood pressure reading.
type BPStatus string

const (
	BPLow      BPStatus = "low"
	BPNormal   BPStatus = "normal"
	BPElevated BPStatus = "elevated"
	BPHigh     BPStatus = "high"
)

var bpStatusNames = map[BPStatus]string{
	BPLow:      "偏低",
	BPNormal:   "正常",
	BPElevated: "偏高",
	BPHigh:     "高血压",
}

func (s BPStatus) DisplayName() string { return bpStatusNames[s] }

// BloodPressureReading is one cuff measurement in mmHg, optionally with the
// pulse taken at the same time.
type BloodPressureReading struct {
	ID        uuid.UUID `json:"id"`
	Time      time.Time `json:"time"`
	Systolic  float64   `json:"systolic"`
	Diastolic float64   `json:"diastolic"`
	HeartRate *float64  `json:"heart_rate,omitempty"`
}

// Status applies the thresholds in order: low, normal, elevated, high.
func (r BloodPressureReading) Status() BPStatus {
	switch {
	case r.Systolic < 90 || r.Diastolic < 60:
		return BPLow
	case r.Systolic < 120 && r.Diastolic < 80:
		return BPNormal
	case r.Systolic < 140 || r.Diastolic < 90:
		return BPElevated
	default:
		return BPHigh
	}
}

// WeightStatus is a coarse band over body mass.
type WeightStatus string

const (
	WeightUnder  WeightStatus = "underweight"
	WeightNormal WeightStatus = "normal"
	WeightOver   WeightStatus = "overweight"
	WeightObese  WeightStatus = "obese"
)

var weightStatusNames = map[WeightStatus]string{
	WeightUnder:  "偏轻",
	WeightNormal: "正常",
	WeightOver:   "偏重",
	WeightObese:  "肥胖",
}

func (s WeightStatus) DisplayName() string { return weightStatusNames[s] }

// WeightReading is one body-mass measurement in kilograms.
type WeightReading struct {
	ID        uuid.UUID `json:"id"`
	Time      time.Time `json:"time"`
	Kilograms float64   `json:"kilograms"`
}

func (r WeightReading) Status() WeightStatus {
	switch {
	case r.Kilograms < 45:
		return WeightUnder
	case r.Kilograms < 65:
		return WeightNormal
	case r.Kilograms < 80:
		return WeightOver
	default:
		return WeightObese
	}
}
