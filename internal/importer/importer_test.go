package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/mongo-items-api/internal/model"
	"github.com/vyrodovalexey/mongo-items-api/internal/repository"
	"github.com/vyrodovalexey/mongo-items-api/internal/store"
)

// stringSource serves CSV content from memory.
type stringSource struct {
	name    string
	content string
	openErr error
}

func (s stringSource) Name() string { return s.name }

func (s stringSource) Open(context.Context) (io.ReadCloser, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return io.NopCloser(strings.NewReader(s.content)), nil
}

// flakyRepository fails BulkCreate after a number of successful calls.
type flakyRepository struct {
	*repository.Repository
	okCalls int
	calls   int
	dropErr error
}

func (f *flakyRepository) BulkCreate(ctx context.Context, inputs []model.ItemInput) ([]model.BulkResult, error) {
	f.calls++
	if f.calls > f.okCalls {
		return nil, fmt.Errorf("bulk create items: %w: connection reset", model.ErrStoreUnavailable)
	}
	return f.Repository.BulkCreate(ctx, inputs)
}

func (f *flakyRepository) DropAll(ctx context.Context) (int64, error) {
	if f.dropErr != nil {
		return 0, f.dropErr
	}
	return f.Repository.DropAll(ctx)
}

func newTestRepository(t *testing.T) (*repository.Repository, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	return repository.New(s, zap.NewNop()), s
}

func newTestImporter(t *testing.T, repo repository.ItemRepository, opts Options) *Importer {
	t.Helper()
	im, err := New(repo, opts, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return im
}

func TestNew(t *testing.T) {
	repo, _ := newTestRepository(t)

	tests := []struct {
		name      string
		opts      Options
		wantBatch int
		wantErr   bool
	}{
		{"default batch size", Options{}, DefaultBatchSize, false},
		{"explicit batch size", Options{BatchSize: 7}, 7, false},
		{"batch size of one", Options{BatchSize: 1}, 1, false},
		{"negative batch size", Options{BatchSize: -1}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im, err := New(repo, tt.opts, zap.NewNop())
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidBatchSize) {
					t.Fatalf("New() error = %v, want ErrInvalidBatchSize", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if im.opts.BatchSize != tt.wantBatch {
				t.Errorf("BatchSize = %d, want %d", im.opts.BatchSize, tt.wantBatch)
			}
			if im.State() != StateIdle {
				t.Errorf("State() = %s, want idle", im.State())
			}
		})
	}
}

func TestImporter_Run_SkipsInvalidRows(t *testing.T) {
	// Arrange
	repo, s := newTestRepository(t)
	im := newTestImporter(t, repo, Options{BatchSize: 2})
	src := stringSource{name: "items.csv", content: "name,description\n" +
		"Alpha,first\n" +
		",no name here\n" +
		"Beta,second\n" +
		"Gamma,\n"}

	// Act
	report, err := im.Run(context.Background(), src)

	// Assert
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", report.Status)
	}
	if report.TotalRows != 4 {
		t.Errorf("TotalRows = %d, want 4", report.TotalRows)
	}
	if report.ImportedCount != 3 {
		t.Errorf("ImportedCount = %d, want 3", report.ImportedCount)
	}
	if report.SkippedCount != 1 {
		t.Errorf("SkippedCount = %d, want 1", report.SkippedCount)
	}
	if len(report.Errors) != 1 || report.Errors[0].Line != 3 {
		t.Fatalf("Errors = %+v, want one entry for line 3", report.Errors)
	}
	if !strings.Contains(report.Errors[0].Reason, "name") {
		t.Errorf("Reason = %q, should name the field", report.Errors[0].Reason)
	}
	if s.Len() != 3 {
		t.Errorf("store Len() = %d, want 3", s.Len())
	}
	if im.State() != StateDone {
		t.Errorf("State() = %s, want done", im.State())
	}
	if report.SuccessRate() != 100 {
		t.Errorf("SuccessRate() = %v, want 100", report.SuccessRate())
	}
}

func TestImporter_Run_HeaderNormalization(t *testing.T) {
	// Arrange
	repo, _ := newTestRepository(t)
	im := newTestImporter(t, repo, Options{})
	src := stringSource{name: "bom.csv", content: "\uFEFF Name ,DESCRIPTION,Unit Price\n" +
		"  Widget  ,Blue one,9.99\n"}

	// Act
	report, err := im.Run(context.Background(), src)

	// Assert
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.ImportedCount != 1 {
		t.Fatalf("ImportedCount = %d, want 1", report.ImportedCount)
	}
	page, _ := repo.List(context.Background(), model.ListParams{})
	if got := page.Items[0]; got.Name != "Widget" || got.Description != "Blue one" {
		t.Errorf("item = %+v, want trimmed Widget / Blue one", got)
	}
}

func TestImporter_Run_BlankRowsIgnored(t *testing.T) {
	// Arrange
	repo, _ := newTestRepository(t)
	im := newTestImporter(t, repo, Options{})
	src := stringSource{name: "blank.csv", content: "name,description\n" +
		"A,\n" +
		",\n" +
		"\n" +
		"  ,  \n" +
		"B,\n"}

	// Act
	report, err := im.Run(context.Background(), src)

	// Assert
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.TotalRows != 2 || report.ImportedCount != 2 || report.SkippedCount != 0 {
		t.Errorf("report = %+v, want 2 rows all imported", report)
	}
}

func TestImporter_Run_LineNumbersFollowPhysicalLines(t *testing.T) {
	// Arrange
	repo, _ := newTestRepository(t)
	im := newTestImporter(t, repo, Options{})
	src := stringSource{name: "multiline.csv", content: "name,description\n" +
		"A,\"spans\ntwo lines\"\n" +
		",missing name\n"}

	// Act
	report, err := im.Run(context.Background(), src)

	// Assert
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.Errors) != 1 || report.Errors[0].Line != 4 {
		t.Errorf("Errors = %+v, want one entry for line 4", report.Errors)
	}
}

func TestImporter_Run_ShortRowMissingName(t *testing.T) {
	// Arrange
	repo, _ := newTestRepository(t)
	im := newTestImporter(t, repo, Options{})
	src := stringSource{name: "short.csv", content: "description,name\nonly description\nok,Named\n"}

	// Act
	report, err := im.Run(context.Background(), src)

	// Assert
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.SkippedCount != 1 || report.ImportedCount != 1 {
		t.Errorf("report = %+v, want 1 skipped and 1 imported", report)
	}
}

func TestImporter_Run_DropExisting(t *testing.T) {
	// Arrange
	repo, s := newTestRepository(t)
	ctx := context.Background()
	for i := range 3 {
		if _, err := repo.Create(ctx, model.ItemInput{Name: fmt.Sprintf("old-%d", i)}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	im := newTestImporter(t, repo, Options{DropExisting: true})
	src := stringSource{name: "new.csv", content: "name\nnew-1\nnew-2\n"}

	// Act
	report, err := im.Run(ctx, src)

	// Assert
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.DroppedCount != 3 {
		t.Errorf("DroppedCount = %d, want 3", report.DroppedCount)
	}
	if s.Len() != 2 {
		t.Errorf("store Len() = %d, want 2", s.Len())
	}
	page, _ := repo.List(ctx, model.ListParams{Search: "old"})
	if page.Total != 0 {
		t.Errorf("old items remaining = %d, want 0", page.Total)
	}
}

func TestImporter_Run_SourceUnreadable(t *testing.T) {
	tests := []struct {
		name       string
		src        Source
		wantNoRows bool
	}{
		{"open fails", stringSource{name: "gone.csv", openErr: os.ErrNotExist}, false},
		{"empty file", stringSource{name: "empty.csv", content: ""}, false},
		{"no name column", stringSource{name: "wrong.csv", content: "title,description\nx,y\n"}, false},
		{"header only", stringSource{name: "header.csv", content: "name,description\n"}, true},
		{"header and blank rows", stringSource{name: "blanks.csv", content: "name,description\n\n , \n"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			repo, s := newTestRepository(t)
			ctx := context.Background()
			_, _ = repo.Create(ctx, model.ItemInput{Name: "keep me"})
			im := newTestImporter(t, repo, Options{DropExisting: true})

			// Act
			report, err := im.Run(ctx, tt.src)

			// Assert
			if !errors.Is(err, model.ErrSourceUnreadable) {
				t.Fatalf("Run() error = %v, want ErrSourceUnreadable", err)
			}
			if errors.Is(err, model.ErrIncompleteImport) {
				t.Error("unreadable source should not be reported as incomplete")
			}
			if got := errors.Is(err, ErrNoRows); got != tt.wantNoRows {
				t.Errorf("errors.Is(err, ErrNoRows) = %v, want %v", got, tt.wantNoRows)
			}
			if report.Status != StatusFailed {
				t.Errorf("Status = %s, want failed", report.Status)
			}
			if s.Len() != 1 {
				t.Errorf("store Len() = %d, want 1 (nothing dropped)", s.Len())
			}
			if im.State() != StateFailed {
				t.Errorf("State() = %s, want failed", im.State())
			}
		})
	}
}

func TestImporter_Run_RecordsImportOrigin(t *testing.T) {
	// Arrange
	repo, s := newTestRepository(t)
	im := newTestImporter(t, repo, Options{BatchSize: 2})
	src := stringSource{name: "origin.csv", content: "name,description\n" +
		"first,1\n" +
		"\n" +
		",skipped\n" +
		"second,2\n"}

	// Act
	report, err := im.Run(context.Background(), src)

	// Assert
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.ImportedCount != 2 {
		t.Fatalf("ImportedCount = %d, want 2", report.ImportedCount)
	}

	docs, err := s.Find(context.Background(), store.Query{})
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	want := map[string]int{"first": 2, "second": 5}
	for _, doc := range docs {
		name, _ := doc[store.FieldName].(string)
		if got := doc[store.FieldImportSource]; got != "origin.csv" {
			t.Errorf("%s: %s = %v, want origin.csv", name, store.FieldImportSource, got)
		}
		if got := doc[store.FieldImportRowNumber]; got != want[name] {
			t.Errorf("%s: %s = %v, want %d", name, store.FieldImportRowNumber, got, want[name])
		}
	}
}

func TestImporter_Run_StoreUnavailableMidRun(t *testing.T) {
	// Arrange
	base, s := newTestRepository(t)
	repo := &flakyRepository{Repository: base, okCalls: 1}
	im := newTestImporter(t, repo, Options{BatchSize: 2})
	src := stringSource{name: "big.csv", content: "name\na\nb\nc\nd\ne\n"}

	// Act
	report, err := im.Run(context.Background(), src)

	// Assert
	if !errors.Is(err, model.ErrIncompleteImport) {
		t.Fatalf("Run() error = %v, want ErrIncompleteImport", err)
	}
	if !errors.Is(err, model.ErrStoreUnavailable) {
		t.Errorf("Run() error = %v, should wrap ErrStoreUnavailable", err)
	}
	if report.Status != StatusIncomplete {
		t.Errorf("Status = %s, want incomplete", report.Status)
	}
	if report.ImportedCount != 2 {
		t.Errorf("ImportedCount = %d, want 2", report.ImportedCount)
	}
	if report.FailedCount != 2 {
		t.Errorf("FailedCount = %d, want 2", report.FailedCount)
	}
	if report.TotalRows != 4 {
		t.Errorf("TotalRows = %d, want 4 (reading stops at the failure)", report.TotalRows)
	}
	if repo.calls != 2 {
		t.Errorf("BulkCreate calls = %d, want 2", repo.calls)
	}
	if s.Len() != 2 {
		t.Errorf("store Len() = %d, want 2 committed items", s.Len())
	}
}

func TestImporter_Run_DropFailureStopsRun(t *testing.T) {
	// Arrange
	base, _ := newTestRepository(t)
	repo := &flakyRepository{
		Repository: base,
		okCalls:    10,
		dropErr:    fmt.Errorf("drop items: %w", model.ErrStoreUnavailable),
	}
	im := newTestImporter(t, repo, Options{DropExisting: true})

	// Act
	report, err := im.Run(context.Background(), stringSource{name: "x.csv", content: "name\na\n"})

	// Assert
	if !errors.Is(err, model.ErrIncompleteImport) {
		t.Fatalf("Run() error = %v, want ErrIncompleteImport", err)
	}
	if repo.calls != 0 {
		t.Errorf("BulkCreate calls = %d, want 0", repo.calls)
	}
	if report.ImportedCount != 0 {
		t.Errorf("ImportedCount = %d, want 0", report.ImportedCount)
	}
}

func TestImporter_Run_PerItemRejections(t *testing.T) {
	// Arrange
	base, _ := newTestRepository(t)
	repo := &rejectSecondRepository{Repository: base}
	im := newTestImporter(t, repo, Options{BatchSize: 3})

	// Act
	report, err := im.Run(context.Background(), stringSource{name: "x.csv", content: "name\na\nb\nc\n"})

	// Assert
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.ImportedCount != 2 || report.FailedCount != 1 {
		t.Errorf("report = %+v, want 2 imported and 1 failed", report)
	}
	if len(report.Errors) != 1 || report.Errors[0].Line != 3 {
		t.Errorf("Errors = %+v, want one entry for line 3", report.Errors)
	}
}

// rejectSecondRepository rejects the second input of every batch.
type rejectSecondRepository struct {
	*repository.Repository
}

func (r *rejectSecondRepository) BulkCreate(ctx context.Context, inputs []model.ItemInput) ([]model.BulkResult, error) {
	results := make([]model.BulkResult, len(inputs))
	for i, in := range inputs {
		results[i].Index = i
		if i == 1 {
			results[i].Err = fmt.Errorf("duplicate: %w", model.ErrAlreadyExists)
			continue
		}
		item, err := r.Create(ctx, in)
		if err != nil {
			return nil, err
		}
		results[i].Item = item
	}
	return results, nil
}

func TestImporter_Run_FileSource(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	path := filepath.Join(dir, "items.CSV")
	if err := os.WriteFile(path, []byte("name,description\nFile item,from disk\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	repo, s := newTestRepository(t)
	im := newTestImporter(t, repo, Options{})

	// Act
	report, err := im.Run(context.Background(), FileSource{Path: path})

	// Assert
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Source != path {
		t.Errorf("Source = %s, want %s", report.Source, path)
	}
	if s.Len() != 1 {
		t.Errorf("store Len() = %d, want 1", s.Len())
	}
}
