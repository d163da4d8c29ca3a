package labtest

import (
	"context"
	"fmt"
	"time"

	"github.com/roysummy-dev/BPRecorder/internal/platform/filestore"
)

// FileRepository stores records as a JSON array on a filestore.Medium.
type FileRepository struct {
	medium filestore.Medium
	loc    *time.Location
}

// NewFileRepository reads and writes records through medium, interpreting
// stored dates as calendar days in loc.
func NewFileRepository(medium filestore.Medium, loc *time.Location) *FileRepository {
	if loc == nil {
		loc = time.Local
	}
	return &FileRepository{medium: medium, loc: loc}
}

func (r *FileRepository) LoadAll(ctx context.Context) ([]*Record, error) {
	data, err := r.medium.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	records, err := DecodeRecords(data, r.loc)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	if records == nil {
		records = []*Record{}
	}
	return records, nil
}

func (r *FileRepository) WriteAll(ctx context.Context, records []*Record) error {
	data, err := EncodeRecords(records)
	if err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	if err := r.medium.WriteAll(ctx, data); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	return nil
}
