package labtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service owns the record collection. Writes are serialised: each one loads
// a fresh snapshot from the repository, applies its change, and replaces the
// persisted collection as a unit. Reads are served from the cached view,
// which is replaced only after a successful write or load.
type Service struct {
	repo        Repository
	logger      zerolog.Logger
	loc         *time.Location
	now         func() time.Time
	strictDates bool

	writeMu sync.Mutex

	mu      sync.RWMutex
	records []*Record // date descending
}

// Option configures a Service.
type Option func(*Service)

// WithLocation sets the calendar used for day boundaries.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStrictDates makes imports report unparseable dates instead of falling
// back to the import day.
func WithStrictDates(strict bool) Option {
	return func(s *Service) { s.strictDates = strict }
}

func NewService(repo Repository, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		logger:  logger,
		loc:     time.Local,
		now:     time.Now,
		records: []*Record{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location returns the calendar the service uses.
func (s *Service) Location() *time.Location { return s.loc }

func (s *Service) clock() time.Time { return s.now().In(s.loc) }

// ParseOptions returns the options imports are parsed with.
func (s *Service) ParseOptions() ParseOptions {
	return ParseOptions{Now: s.clock(), StrictDates: s.strictDates}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// LoadAll reads the persisted collection, refreshes the cache and returns
// the records sorted by date descending. It holds the write lock so a load
// that started before a write cannot install a stale cache after it.
func (s *Service) LoadAll(ctx context.Context) ([]*Record, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	records, err := s.repo.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	s.setCache(records)
	return cloneRecords(s.snapshot()), nil
}

// Refresh reloads the cache from the repository.
func (s *Service) Refresh(ctx context.Context) error {
	_, err := s.LoadAll(ctx)
	return err
}

func (s *Service) setCache(records []*Record) {
	sorted := append([]*Record(nil), records...)
	sortByDateDesc(sorted)
	s.mu.Lock()
	s.records = sorted
	s.mu.Unlock()
}

func (s *Service) snapshot() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records
}

func sortByDateDesc(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Date.After(records[j].Date)
	})
}

func cloneRecords(records []*Record) []*Record {
	out := make([]*Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// mutate runs fn against a fresh snapshot and persists the result.
func (s *Service) mutate(ctx context.Context, op string, fn func([]*Record) ([]*Record, error)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, err := s.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	if err := s.repo.WriteAll(ctx, next); err != nil {
		s.logger.Error().Err(err).Str("op", op).Int("records", len(next)).Msg("persisting records failed")
		return fmt.Errorf("%s: %w", op, err)
	}
	s.setCache(next)
	s.logger.Debug().Str("op", op).Int("records", len(next)).Msg("records persisted")
	return nil
}

// Save inserts the record, or replaces the stored record with the same ID.
func (s *Service) Save(ctx context.Context, r *Record) error {
	stored := r.Clone()
	return s.mutate(ctx, "save", func(records []*Record) ([]*Record, error) {
		for i, existing := range records {
			if existing.Equal(stored) {
				records[i] = stored
				return records, nil
			}
		}
		return append(records, stored), nil
	})
}

// Update replaces the stored record with the same ID. It fails with
// ErrRecordNotFound when there is none.
func (s *Service) Update(ctx context.Context, r *Record) error {
	stored := r.Clone()
	return s.mutate(ctx, "update", func(records []*Record) ([]*Record, error) {
		for i, existing := range records {
			if existing.Equal(stored) {
				records[i] = stored
				return records, nil
			}
		}
		return nil, fmt.Errorf("update %s: %w", r.ID, ErrRecordNotFound)
	})
}

// Delete removes the record with id. Deleting an absent record is not an
// error.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.mutate(ctx, "delete", func(records []*Record) ([]*Record, error) {
		kept := records[:0]
		for _, r := range records {
			if r.ID != id {
				kept = append(kept, r)
			}
		}
		return kept, nil
	})
}

// ApplyImport appends records to the collection. When replaceDuplicates is
// set, every stored record falling on the calendar day of any record in
// duplicatesToReplace is removed first. It returns how many stored records
// were removed.
func (s *Service) ApplyImport(ctx context.Context, records []*Record, replaceDuplicates bool, duplicatesToReplace []*Record) (int, error) {
	incoming := cloneRecords(records)
	removed := 0
	err := s.mutate(ctx, "apply import", func(current []*Record) ([]*Record, error) {
		if replaceDuplicates && len(duplicatesToReplace) > 0 {
			kept := current[:0]
			for _, r := range current {
				if s.onAnyDay(r, duplicatesToReplace) {
					removed++
					continue
				}
				kept = append(kept, r)
			}
			current = kept
		}
		return append(current, incoming...), nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info().
		Int("inserted", len(incoming)).
		Int("removed", removed).
		Msg("import applied")
	return removed, nil
}

func (s *Service) onAnyDay(r *Record, days []*Record) bool {
	for _, d := range days {
		if SameDay(r.Date, d.Date, s.loc) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Import workflow
// ---------------------------------------------------------------------------

// PlanImport classifies a JSON payload against a freshly loaded snapshot.
// Nothing is written.
func (s *Service) PlanImport(ctx context.Context, raw []byte) (*ImportResult, error) {
	entries, err := DecodeImport(raw)
	if err != nil {
		return nil, err
	}
	return s.planEntries(ctx, entries)
}

// PlanImportFields classifies already-decoded rows, such as spreadsheet rows,
// against a freshly loaded snapshot.
func (s *Service) PlanImportFields(ctx context.Context, rows []Fields) (*ImportResult, error) {
	existing, err := s.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("plan import: %w", err)
	}
	return s.logPlan(PlanImportFields(rows, existing, s.ParseOptions())), nil
}

func (s *Service) planEntries(ctx context.Context, entries []ImportEntry) (*ImportResult, error) {
	existing, err := s.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("plan import: %w", err)
	}
	return s.logPlan(PlanEntries(entries, existing, s.ParseOptions())), nil
}

func (s *Service) logPlan(result *ImportResult) *ImportResult {
	s.logger.Info().
		Int("new", len(result.NewRecords)).
		Int("duplicates", len(result.DuplicateRecords)).
		Int("failed", result.FailedCount()).
		Msg("import planned")
	return result
}

// ImportSummary reports what an import did.
type ImportSummary struct {
	Policy      MergePolicy    `json:"policy"`
	Inserted    int            `json:"inserted"`
	Replaced    int            `json:"replaced"`
	Skipped     int            `json:"skipped"`
	Failed      int            `json:"failed"`
	Failures    []ParseFailure `json:"failures"`
	Warnings    []ParseFailure `json:"warnings"`
	InsertedIDs []uuid.UUID    `json:"inserted_ids"`
}

// Apply persists plan under policy.
func (s *Service) Apply(ctx context.Context, plan *ImportResult, policy MergePolicy) (*ImportSummary, error) {
	sel := plan.Selection(policy)
	summary := &ImportSummary{
		Policy:      policy,
		Skipped:     plan.TotalParsed() - len(sel.Records),
		Failed:      plan.FailedCount(),
		Failures:    plan.Failures,
		Warnings:    plan.Warnings,
		InsertedIDs: []uuid.UUID{},
	}
	if len(sel.Records) == 0 {
		return summary, nil
	}
	removed, err := s.ApplyImport(ctx, sel.Records, sel.ReplaceDuplicates, sel.DuplicatesToReplace)
	if err != nil {
		return nil, err
	}
	summary.Inserted = len(sel.Records)
	summary.Replaced = removed
	for _, r := range sel.Records {
		summary.InsertedIDs = append(summary.InsertedIDs, r.ID)
	}
	return summary, nil
}

// ImportJSON plans raw against the current collection and applies policy.
func (s *Service) ImportJSON(ctx context.Context, raw []byte, policy MergePolicy) (*ImportSummary, error) {
	plan, err := s.PlanImport(ctx, raw)
	if err != nil {
		return nil, err
	}
	return s.Apply(ctx, plan, policy)
}

// ---------------------------------------------------------------------------
// Read views
// ---------------------------------------------------------------------------

// Records returns copies of every cached record, date descending.
func (s *Service) Records() []*Record {
	return cloneRecords(s.snapshot())
}

// Get returns a copy of the record with id.
func (s *Service) Get(id uuid.UUID) (*Record, error) {
	for _, r := range s.snapshot() {
		if r.ID == id {
			return r.Clone(), nil
		}
	}
	return nil, fmt.Errorf("get %s: %w", id, ErrRecordNotFound)
}

// Latest returns the most recent record.
func (s *Service) Latest() (*Record, bool) {
	records := s.snapshot()
	if len(records) == 0 {
		return nil, false
	}
	return records[0].Clone(), true
}

// RecordsWithin returns records dated on or after the start of the day
// days before today. days <= 0 returns everything.
func (s *Service) RecordsWithin(days int) []*Record {
	return cloneRecords(s.within(days))
}

func (s *Service) within(days int) []*Record {
	records := s.snapshot()
	if days <= 0 {
		return records
	}
	cutoff := StartOfDay(s.clock(), s.loc).AddDate(0, 0, -days)
	out := make([]*Record, 0, len(records))
	for _, r := range records {
		if !r.Date.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

// RecordsByScheme returns records whose scheme equals scheme, ignoring case.
func (s *Service) RecordsByScheme(scheme string) []*Record {
	var out []*Record
	for _, r := range s.snapshot() {
		if sc := r.Tags().Scheme; sc != nil && strings.EqualFold(*sc, scheme) {
			out = append(out, r.Clone())
		}
	}
	return out
}

// AllSchemes lists distinct schemes, compared without case, in the casing
// of the most recent record that uses each, sorted.
func (s *Service) AllSchemes() []string {
	seen := make(map[string]bool)
	schemes := []string{}
	for _, r := range s.snapshot() {
		sc := r.Tags().Scheme
		if sc == nil {
			continue
		}
		folded := strings.ToLower(*sc)
		if seen[folded] {
			continue
		}
		seen[folded] = true
		schemes = append(schemes, *sc)
	}
	sort.Strings(schemes)
	return schemes
}

// Point is one dated metric value.
type Point struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// MarshalJSON writes the date as a calendar day.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Date  string  `json:"date"`
		Value float64 `json:"value"`
	}{p.Date.Format(DateLayout), p.Value})
}

// History returns the values of key in date order, oldest first. Records
// without the metric are skipped.
func (s *Service) History(key MetricKey, days int) ([]Point, error) {
	if _, ok := LookupByKey(key); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMetric, key)
	}
	records := s.within(days)
	points := make([]Point, 0, len(records))
	for _, r := range records {
		if v, ok := r.Value(key); ok {
			points = append(points, Point{Date: r.Date, Value: v})
		}
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points, nil
}

// Stats summarises a metric's history.
type Stats struct {
	Key     MetricKey `json:"key"`
	Count   int       `json:"count"`
	Average *float64  `json:"average"`
	Min     *float64  `json:"min"`
	Max     *float64  `json:"max"`
	Latest  *float64  `json:"latest"`
	Change  *float64  `json:"change"`
}

// Stats computes mean, minimum and maximum of key over the window, plus the
// latest value and its change from the previous record.
func (s *Service) Stats(key MetricKey, days int) (Stats, error) {
	points, err := s.History(key, days)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Key: key, Count: len(points)}
	if len(points) > 0 {
		sum, lo, hi := 0.0, points[0].Value, points[0].Value
		for _, p := range points {
			sum += p.Value
			if p.Value < lo {
				lo = p.Value
			}
			if p.Value > hi {
				hi = p.Value
			}
		}
		avg := sum / float64(len(points))
		latest := points[len(points)-1].Value
		st.Average, st.Min, st.Max, st.Latest = &avg, &lo, &hi, &latest
	}
	if change, ok := s.MetricChange(key); ok {
		st.Change = &change
	}
	return st, nil
}

// Average returns the mean of key over the window. ok is false when no
// record carries the metric.
func (s *Service) Average(key MetricKey, days int) (avg float64, ok bool) {
	st, err := s.Stats(key, days)
	if err != nil || st.Average == nil {
		return 0, false
	}
	return *st.Average, true
}

// Min returns the smallest value of key over the window.
func (s *Service) Min(key MetricKey, days int) (float64, bool) {
	st, err := s.Stats(key, days)
	if err != nil || st.Min == nil {
		return 0, false
	}
	return *st.Min, true
}

// Max returns the largest value of key over the window.
func (s *Service) Max(key MetricKey, days int) (float64, bool) {
	st, err := s.Stats(key, days)
	if err != nil || st.Max == nil {
		return 0, false
	}
	return *st.Max, true
}

// MetricChange returns the latest record's value of key minus the previous
// record's. Both records must carry the metric.
func (s *Service) MetricChange(key MetricKey) (float64, bool) {
	records := s.snapshot()
	if len(records) < 2 {
		return 0, false
	}
	latest, ok := records[0].Value(key)
	if !ok {
		return 0, false
	}
	previous, ok := records[1].Value(key)
	if !ok {
		return 0, false
	}
	return latest - previous, true
}
