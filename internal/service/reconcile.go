package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sealbox/sealbox/internal/checksum"
	"github.com/sealbox/sealbox/internal/metrics"
	"github.com/sealbox/sealbox/internal/model"
	"github.com/sealbox/sealbox/internal/repository"
	"github.com/sealbox/sealbox/internal/storage"
)

var ErrReconcileInProgress = errors.New("reconciliation already in progress")

// ReconcileService compares the catalog with blob storage and reports blobs
// no record points to, records whose blob is gone and, in deep mode, blobs
// whose content no longer matches the recorded checksum. It only reports;
// nothing is repaired.
type ReconcileService struct {
	fileRepo repository.FileRepository
	storage  storage.Storage
	interval time.Duration

	mu         sync.Mutex
	inProgress bool
	last       *model.ReconcileReport
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewReconcileService(fileRepo repository.FileRepository, storage storage.Storage, interval time.Duration) *ReconcileService {
	return &ReconcileService{
		fileRepo: fileRepo,
		storage:  storage,
		interval: interval,
	}
}

// Start runs a shallow pass every interval until Stop. A zero interval
// disables the background loop.
func (s *ReconcileService) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Run(ctx, false); err != nil && !errors.Is(err, ErrReconcileInProgress) {
					slog.Error("scheduled reconciliation failed", "error", err)
				}
			}
		}
	}()

	slog.Info("reconciliation scheduled", "interval", s.interval.String())
}

func (s *ReconcileService) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("reconciliation stopped")
}

// Last returns the report of the most recent completed pass, if any.
func (s *ReconcileService) Last() *model.ReconcileReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Run performs one pass. Overlapping passes are refused with
// ErrReconcileInProgress.
func (s *ReconcileService) Run(ctx context.Context, deep bool) (*model.ReconcileReport, error) {
	s.mu.Lock()
	if s.inProgress {
		s.mu.Unlock()
		return nil, ErrReconcileInProgress
	}
	s.inProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inProgress = false
		s.mu.Unlock()
	}()

	report := &model.ReconcileReport{
		Deep:      deep,
		StartedAt: time.Now().UTC(),
		Issues:    []*model.ReconcileIssue{},
	}
	slog.Info("reconciliation started", "deep", deep)

	if err := s.reconcile(ctx, report); err != nil {
		metrics.ReconcileRuns.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}

	report.FinishedAt = time.Now().UTC()
	metrics.ReconcileRuns.WithLabelValues(metrics.OutcomeOK).Inc()
	metrics.ReconcileDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	for _, t := range []string{model.IssueOrphanedBlob, model.IssueMissingBlob, model.IssueChecksumMismatch} {
		metrics.ReconcileIssues.WithLabelValues(t).Set(float64(report.Count(t)))
	}

	for _, issue := range report.Issues {
		slog.Warn("reconciliation issue",
			"type", issue.Type,
			"storage_key", issue.StorageKey,
			"file_id", issue.FileID,
			"detail", issue.Detail,
		)
	}
	slog.Info("reconciliation finished",
		"files", report.FilesChecked,
		"blobs", report.BlobsChecked,
		"issues", len(report.Issues),
	)

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	return report, nil
}

func (s *ReconcileService) reconcile(ctx context.Context, report *model.ReconcileReport) error {
	// Records are listed before blobs. A record is only written after its
	// blob, so an in-flight upload can show up as an orphan but never as a
	// missing blob.
	files, err := s.fileRepo.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to list files: %w", err)
	}
	keys, err := s.storage.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list blobs: %w", err)
	}

	report.BlobsChecked = len(keys)
	report.FilesChecked = len(files)

	stored := make(map[string]bool, len(keys))
	for _, k := range keys {
		stored[k] = true
	}

	referenced := make(map[string]bool, len(files))
	for _, f := range files {
		referenced[f.StorageKey] = true

		if !stored[f.StorageKey] {
			report.Issues = append(report.Issues, &model.ReconcileIssue{
				Type:       model.IssueMissingBlob,
				StorageKey: f.StorageKey,
				FileID:     f.ID,
			})
			continue
		}

		if report.Deep {
			if issue, err := s.verify(ctx, f); err != nil {
				return err
			} else if issue != nil {
				report.Issues = append(report.Issues, issue)
			}
		}
	}

	for _, k := range keys {
		if !referenced[k] {
			report.Issues = append(report.Issues, &model.ReconcileIssue{
				Type:       model.IssueOrphanedBlob,
				StorageKey: k,
			})
		}
	}

	return nil
}

func (s *ReconcileService) verify(ctx context.Context, f *model.File) (*model.ReconcileIssue, error) {
	blob, err := s.storage.Get(ctx, f.StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return &model.ReconcileIssue{Type: model.IssueMissingBlob, StorageKey: f.StorageKey, FileID: f.ID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", f.StorageKey, err)
	}

	if got := checksum.Digest(blob); !checksum.Equal(got, f.Checksum) {
		return &model.ReconcileIssue{
			Type:       model.IssueChecksumMismatch,
			StorageKey: f.StorageKey,
			FileID:     f.ID,
			Detail:     fmt.Sprintf("expected %s, got %s", f.Checksum, got),
		}, nil
	}

	return nil, nil
}
