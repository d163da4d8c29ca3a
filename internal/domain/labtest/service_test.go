package labtest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/roysummy-dev/BPRecorder/internal/platform/filestore"
)

const dataPath = "/data/blood_tests.json"

type renameFailFs struct{ afero.Fs }

func (renameFailFs) Rename(oldname, newname string) error {
	return errors.New("rename refused")
}

func newServiceOn(fs afero.Fs) *Service {
	repo := NewFileRepository(filestore.NewAtomicFile(fs, dataPath), time.UTC)
	return NewService(repo, zerolog.Nop(),
		WithLocation(time.UTC),
		WithClock(func() time.Time { return testNow }),
	)
}

func newTestService(t *testing.T) (*Service, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	svc := newServiceOn(fs)
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return svc, fs
}

func mustSave(t *testing.T, svc *Service, records ...*Record) {
	t.Helper()
	for _, r := range records {
		if err := svc.Save(context.Background(), r); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
}

func wbc(date time.Time, event string, v float64) *Record {
	return NewRecord(date, event, map[MetricKey]float64{MetricWBC: v})
}

// -- Persistence --

func TestService_EmptyStore(t *testing.T) {
	svc, _ := newTestService(t)
	if len(svc.Records()) != 0 {
		t.Error("expected no records before the first write")
	}
	if _, ok := svc.Latest(); ok {
		t.Error("expected no latest record")
	}
}

func TestService_SaveAndReload(t *testing.T) {
	svc, fs := newTestService(t)
	r := NewRecord(day(2024, 3, 1), "FOLFOX C1 D1", map[MetricKey]float64{MetricWBC: 5.2, MetricPLT: 210},
		WithNotes("空腹"))
	mustSave(t, svc, r)

	reloaded := newServiceOn(fs)
	records, err := reloaded.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	got := records[0]
	if got.ID != r.ID || !got.Date.Equal(r.Date) || got.Event() != r.Event() {
		t.Errorf("reloaded record differs: %+v", got)
	}
	if v, _ := got.Value(MetricPLT); v != 210 {
		t.Errorf("plt = %v", v)
	}
	if got.Notes == nil || *got.Notes != "空腹" {
		t.Errorf("notes = %v", got.Notes)
	}
}

func TestService_SaveUpserts(t *testing.T) {
	svc, _ := newTestService(t)
	r := wbc(day(2024, 3, 1), "", 5)
	mustSave(t, svc, r)

	_ = r.SetValue(MetricWBC, 6)
	mustSave(t, svc, r)

	records := svc.Records()
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	if v, _ := records[0].Value(MetricWBC); v != 6 {
		t.Errorf("expected updated value, got %v", v)
	}
}

func TestService_SaveStoresCopy(t *testing.T) {
	svc, _ := newTestService(t)
	r := wbc(day(2024, 3, 1), "", 5)
	mustSave(t, svc, r)

	_ = r.SetValue(MetricWBC, 99)
	got, err := svc.Get(r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v, _ := got.Value(MetricWBC); v != 5 {
		t.Error("caller mutations must not reach the stored record")
	}
}

func TestService_Update(t *testing.T) {
	svc, _ := newTestService(t)
	r := wbc(day(2024, 3, 1), "", 5)
	mustSave(t, svc, r)

	r.UpdateEvent("XELOX C2")
	if err := svc.Update(context.Background(), r); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := svc.Get(r.ID)
	if got.Event() != "XELOX C2" {
		t.Errorf("expected updated event, got %q", got.Event())
	}

	err := svc.Update(context.Background(), wbc(day(2024, 3, 2), "", 1))
	if !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestService_Delete(t *testing.T) {
	svc, _ := newTestService(t)
	a := wbc(day(2024, 3, 1), "", 5)
	b := wbc(day(2024, 3, 8), "", 4)
	mustSave(t, svc, a, b)

	if err := svc.Delete(context.Background(), a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(a.ID); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("expected deleted record to be gone, got %v", err)
	}
	if err := svc.Delete(context.Background(), uuid.New()); err != nil {
		t.Errorf("deleting an absent record must succeed, got %v", err)
	}
	if len(svc.Records()) != 1 {
		t.Errorf("expected one record left, got %d", len(svc.Records()))
	}
}

func TestService_WriteFailureKeepsState(t *testing.T) {
	mem := afero.NewMemMapFs()
	svc := newServiceOn(mem)
	first := wbc(day(2024, 3, 1), "", 5)
	mustSave(t, svc, first)
	before, _ := afero.ReadFile(mem, dataPath)

	failing := newServiceOn(renameFailFs{mem})
	if err := failing.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	err := failing.Save(context.Background(), wbc(day(2024, 3, 8), "", 4))
	if !errors.Is(err, filestore.ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}

	after, _ := afero.ReadFile(mem, dataPath)
	if string(before) != string(after) {
		t.Error("failed write must leave the stored collection untouched")
	}
	if len(failing.Records()) != 1 {
		t.Errorf("failed write must not change the cached view, got %d records", len(failing.Records()))
	}
	if exists, _ := afero.Exists(mem, "/data/blood_tests_temp.json"); exists {
		t.Error("temporary file must be removed after a failed write")
	}
}

func TestService_CorruptStore(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, dataPath, []byte(`{"not":"an array"}`), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := newServiceOn(fs)
	if err := svc.Refresh(context.Background()); !errors.Is(err, ErrCorruptStore) {
		t.Errorf("expected ErrCorruptStore, got %v", err)
	}
}

func TestService_ConcurrentSaves(t *testing.T) {
	svc, fs := newTestService(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := svc.Save(context.Background(), wbc(day(2024, 1, 1).AddDate(0, 0, i), "", float64(i))); err != nil {
				t.Errorf("save %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	records, err := newServiceOn(fs).LoadAll(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != 20 {
		t.Errorf("expected 20 persisted records, got %d", len(records))
	}
}

// gatedRepo pauses the next LoadAll after arm until release is closed.
type gatedRepo struct {
	Repository
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedRepo) arm() {
	g.entered = make(chan struct{})
	g.release = make(chan struct{})
	g.armed.Store(true)
}

func (g *gatedRepo) LoadAll(ctx context.Context) ([]*Record, error) {
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return g.Repository.LoadAll(ctx)
}

func TestService_LoadDoesNotOverwriteNewerWrite(t *testing.T) {
	fs := afero.NewMemMapFs()
	gate := &gatedRepo{Repository: NewFileRepository(filestore.NewAtomicFile(fs, dataPath), time.UTC)}
	svc := NewService(gate, zerolog.Nop(), WithLocation(time.UTC), WithClock(func() time.Time { return testNow }))
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	gate.arm()
	planDone := make(chan error, 1)
	go func() {
		_, err := svc.PlanImport(context.Background(), []byte(importPayload))
		planDone <- err
	}()
	<-gate.entered

	saveDone := make(chan error, 1)
	go func() {
		saveDone <- svc.Save(context.Background(), wbc(day(2024, 3, 5), "FOLFOX C1 D1", 5.0))
	}()

	select {
	case err := <-saveDone:
		t.Fatalf("save finished while a load was in flight (err=%v)", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate.release)
	if err := <-planDone; err != nil {
		t.Fatalf("plan: %v", err)
	}
	if err := <-saveDone; err != nil {
		t.Fatalf("save: %v", err)
	}

	if got := len(svc.Records()); got != 1 {
		t.Errorf("expected 1 cached record, got %d", got)
	}
	persisted, err := newServiceOn(fs).LoadAll(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(persisted) != 1 {
		t.Errorf("expected 1 persisted record, got %d", len(persisted))
	}
}

// -- Import --

func TestService_ApplyImportCounts(t *testing.T) {
	svc, _ := newTestService(t)
	mustSave(t, svc,
		wbc(day(2024, 3, 1), "morning", 5),
		wbc(day(2024, 3, 1), "evening", 5.5),
		wbc(day(2024, 3, 2), "", 6),
	)

	incoming := []*Record{wbc(day(2024, 3, 1), "reimport", 4.9), wbc(day(2024, 3, 9), "", 4)}
	dups := incoming[:1]
	before := len(svc.Records())

	removed, err := svc.ApplyImport(context.Background(), incoming, true, dups)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected both records on 03-01 to be removed, got %d", removed)
	}
	if got := len(svc.Records()); got != before-removed+len(incoming) {
		t.Errorf("expected %d records, got %d", before-removed+len(incoming), got)
	}
}

func TestService_ApplyImportWithoutReplace(t *testing.T) {
	svc, _ := newTestService(t)
	mustSave(t, svc, wbc(day(2024, 3, 1), "", 5))

	removed, err := svc.ApplyImport(context.Background(), []*Record{wbc(day(2024, 3, 1), "", 6)}, false, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if removed != 0 || len(svc.Records()) != 2 {
		t.Errorf("expected append only, removed=%d records=%d", removed, len(svc.Records()))
	}
}

const importPayload = `[
	{"日期": "2024-03-01", "EVENT": "FOLFOX C1 D1", "白细胞计数": "4.9"},
	{"日期": "2024-03-08", "EVENT": "FOLFOX C1 D8", "白细胞计数": "3.8"},
	{"日期": "2024-03-09", "备注": "only notes"}
]`

func TestService_ImportJSON_Policies(t *testing.T) {
	tests := []struct {
		policy   MergePolicy
		inserted int
		replaced int
		skipped  int
		total    int
	}{
		{PolicySkip, 1, 0, 1, 2},
		{PolicyReplace, 2, 1, 0, 2},
		{PolicyAuto, 1, 0, 1, 2},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			svc, _ := newTestService(t)
			mustSave(t, svc, wbc(day(2024, 3, 1), "stored", 5))

			summary, err := svc.ImportJSON(context.Background(), []byte(importPayload), tt.policy)
			if err != nil {
				t.Fatalf("import: %v", err)
			}
			if summary.Inserted != tt.inserted || summary.Replaced != tt.replaced || summary.Skipped != tt.skipped {
				t.Errorf("unexpected summary %+v", summary)
			}
			if summary.Failed != 1 || summary.Failures[0].Index != 3 {
				t.Errorf("expected entry 3 to fail, got %+v", summary.Failures)
			}
			if len(summary.InsertedIDs) != tt.inserted {
				t.Errorf("expected %d inserted ids, got %d", tt.inserted, len(summary.InsertedIDs))
			}
			if got := len(svc.Records()); got != tt.total {
				t.Errorf("expected %d records, got %d", tt.total, got)
			}
		})
	}
}

func TestService_ImportJSON_AutoReplacesWhenOnlyDuplicates(t *testing.T) {
	svc, _ := newTestService(t)
	stored := wbc(day(2024, 3, 1), "stored", 5)
	mustSave(t, svc, stored)

	summary, err := svc.ImportJSON(context.Background(), []byte(`{"日期": "2024-03-01", "白细胞计数": "4.2"}`), PolicyAuto)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if summary.Inserted != 1 || summary.Replaced != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if _, err := svc.Get(stored.ID); !errors.Is(err, ErrRecordNotFound) {
		t.Error("expected the stored record to be replaced")
	}
}

func TestService_ImportJSON_DecodeError(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.ImportJSON(context.Background(), []byte(`nope`), PolicySkip); !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}

func TestService_PlanImportDoesNotWrite(t *testing.T) {
	svc, fs := newTestService(t)
	plan, err := svc.PlanImport(context.Background(), []byte(importPayload))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.NewRecords) != 2 {
		t.Errorf("expected two new records, got %d", len(plan.NewRecords))
	}
	if exists, _ := afero.Exists(fs, dataPath); exists {
		t.Error("planning must not write")
	}
}

func TestService_StrictDates(t *testing.T) {
	repo := NewFileRepository(filestore.NewAtomicFile(afero.NewMemMapFs(), dataPath), time.UTC)
	svc := NewService(repo, zerolog.Nop(),
		WithLocation(time.UTC),
		WithClock(func() time.Time { return testNow }),
		WithStrictDates(true),
	)

	plan, err := svc.PlanImport(context.Background(), []byte(`{"日期": "someday", "白细胞计数": "5"}`))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Warnings) != 1 {
		t.Errorf("expected the bad date to be reported, got %+v", plan.Warnings)
	}
}

// -- Queries --

func seedQueries(t *testing.T) *Service {
	t.Helper()
	svc, _ := newTestService(t)
	mustSave(t, svc,
		NewRecord(day(2024, 1, 5), "FOLFOX C1 D1", map[MetricKey]float64{MetricWBC: 6, MetricHGB: 130}),
		NewRecord(day(2024, 2, 20), "folfox C2 D1", map[MetricKey]float64{MetricWBC: 4, MetricHGB: 121}),
		NewRecord(day(2024, 3, 3), "XELOX C1 D1", map[MetricKey]float64{MetricWBC: 3.5}),
		NewRecord(day(2024, 3, 9), "复查", map[MetricKey]float64{MetricWBC: 5, MetricHGB: 118}),
	)
	return svc
}

func TestService_RecordsSortedDescending(t *testing.T) {
	svc := seedQueries(t)
	records := svc.Records()
	for i := 1; i < len(records); i++ {
		if records[i].Date.After(records[i-1].Date) {
			t.Fatalf("records are not date descending at %d", i)
		}
	}
	latest, ok := svc.Latest()
	if !ok || !latest.Date.Equal(day(2024, 3, 9)) {
		t.Errorf("unexpected latest record %v", latest)
	}
}

func TestService_RecordsWithin(t *testing.T) {
	svc := seedQueries(t)
	if got := len(svc.RecordsWithin(7)); got != 2 {
		t.Errorf("expected 2 records in the last 7 days, got %d", got)
	}
	if got := len(svc.RecordsWithin(0)); got != 4 {
		t.Errorf("expected all records for days=0, got %d", got)
	}
}

func TestService_Schemes(t *testing.T) {
	svc := seedQueries(t)

	if got := len(svc.RecordsByScheme("folfox")); got != 1 {
		t.Errorf("expected one FOLFOX record, got %d", got)
	}
	schemes := svc.AllSchemes()
	if len(schemes) != 2 || schemes[0] != "FOLFOX" || schemes[1] != "XELOX" {
		t.Errorf("unexpected schemes %v", schemes)
	}
}

func TestService_HistoryAndStats(t *testing.T) {
	svc := seedQueries(t)

	points, err := svc.History(MetricHGB, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(points) != 3 || points[0].Value != 130 || points[2].Value != 118 {
		t.Errorf("unexpected history %+v", points)
	}

	st, err := svc.Stats(MetricWBC, 0)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Count != 4 || *st.Average != 4.625 || *st.Min != 3.5 || *st.Max != 6 || *st.Latest != 5 {
		t.Errorf("unexpected stats %+v", st)
	}
	if st.Change == nil || *st.Change != 1.5 {
		t.Errorf("expected change 1.5, got %v", st.Change)
	}

	if avg, ok := svc.Average(MetricWBC, 10); !ok || avg != 4.25 {
		t.Errorf("expected 10-day average 4.25, got %v %v", avg, ok)
	}
	if lo, ok := svc.Min(MetricHGB, 0); !ok || lo != 118 {
		t.Errorf("min hgb = %v %v", lo, ok)
	}
	if hi, ok := svc.Max(MetricHGB, 0); !ok || hi != 130 {
		t.Errorf("max hgb = %v %v", hi, ok)
	}
	if _, ok := svc.Average(MetricCEA, 0); ok {
		t.Error("expected no average for an unmeasured metric")
	}
}

func TestService_MetricChangeNeedsBothValues(t *testing.T) {
	svc := seedQueries(t)
	// The record before the latest has no HGB.
	if _, ok := svc.MetricChange(MetricHGB); ok {
		t.Error("expected no change when the previous record lacks the metric")
	}
}

func TestService_UnknownMetric(t *testing.T) {
	svc := seedQueries(t)
	if _, err := svc.History("glucose", 0); !errors.Is(err, ErrUnknownMetric) {
		t.Errorf("expected ErrUnknownMetric, got %v", err)
	}
	if _, err := svc.Stats("glucose", 0); !errors.Is(err, ErrUnknownMetric) {
		t.Errorf("expected ErrUnknownMetric, got %v", err)
	}
}
