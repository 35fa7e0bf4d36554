package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"crmapi/internal/logging"
	"crmapi/internal/metrics"
	"crmapi/internal/repository"
	"crmapi/internal/storage"
)

// DefaultReconcileGrace protects blobs uploaded moments ago whose row insert may still be in flight.
const DefaultReconcileGrace = 15 * time.Minute

// DanglingReference is a customer whose document_url has no blob behind it.
type DanglingReference struct {
	CustomerID  string `json:"customer_id"`
	DocumentURL string `json:"document_url"`
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	DryRun   bool                `json:"dry_run"`
	Scanned  int                 `json:"scanned"`
	Orphans  []storage.Blob      `json:"orphans"`
	Deleted  []string            `json:"deleted"`
	Failed   []string            `json:"failed"`
	Skipped  int                 `json:"skipped_recent"`
	Dangling []DanglingReference `json:"dangling"`
}

// DocumentService exposes maintenance over the upload namespace.
type DocumentService interface {
	// List returns every stored document with its public URL.
	List(ctx context.Context) ([]storage.Blob, error)

	// Reconcile finds blobs no customer references (orphans) and customers whose blob is gone
	// (dangling). Orphans older than the grace period are deleted unless dryRun. Dangling
	// references are only reported.
	Reconcile(ctx context.Context, dryRun bool) (*ReconcileReport, error)
}

type documentService struct {
	blobs   storage.Blobs
	repo    repository.CustomerRepository
	log     *slog.Logger
	metrics *metrics.Recorder
	grace   time.Duration
	now     func() time.Time
}

// NewDocumentService constructs a new DocumentService.
func NewDocumentService(blobs storage.Blobs, repo repository.CustomerRepository, log *slog.Logger, rec *metrics.Recorder) DocumentService {
	if log == nil {
		log = logging.Discard()
	}
	return &documentService{
		blobs:   blobs,
		repo:    repo,
		log:     log,
		metrics: rec,
		grace:   DefaultReconcileGrace,
		now:     time.Now,
	}
}

func (s *documentService) List(ctx context.Context) ([]storage.Blob, error) {
	return s.blobs.List(ctx, storage.UploadNamespace)
}

func (s *documentService) Reconcile(ctx context.Context, dryRun bool) (*ReconcileReport, error) {
	blobs, err := s.blobs.List(ctx, storage.UploadNamespace)
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	refs, err := s.repo.DocumentURLs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load document references: %w", err)
	}

	rep := &ReconcileReport{
		DryRun:   dryRun,
		Scanned:  len(blobs),
		Orphans:  []storage.Blob{},
		Deleted:  []string{},
		Failed:   []string{},
		Dangling: []DanglingReference{},
	}
	present := make(map[string]struct{}, len(blobs))
	cutoff := s.now().Add(-s.grace)

	for _, b := range blobs {
		present[b.URL] = struct{}{}
		if _, ok := refs[b.URL]; ok {
			continue
		}
		if b.LastModified.After(cutoff) {
			rep.Skipped++
			continue
		}
		rep.Orphans = append(rep.Orphans, b)
		if dryRun {
			continue
		}
		if err := s.blobs.Delete(ctx, b.Path); err != nil {
			s.metrics.StorageWarning(metrics.OpReconcile)
			s.log.WarnContext(ctx, "orphan blob delete failed", slog.String("path", b.Path), logging.Err(err))
			rep.Failed = append(rep.Failed, b.Path)
			continue
		}
		rep.Deleted = append(rep.Deleted, b.Path)
	}

	for url, id := range refs {
		if _, ok := present[url]; !ok {
			rep.Dangling = append(rep.Dangling, DanglingReference{CustomerID: id, DocumentURL: url})
		}
	}
	sort.Slice(rep.Dangling, func(i, j int) bool { return rep.Dangling[i].CustomerID < rep.Dangling[j].CustomerID })

	s.log.InfoContext(ctx, "document reconciliation finished",
		slog.Bool("dry_run", dryRun),
		slog.Int("scanned", rep.Scanned),
		slog.Int("orphans", len(rep.Orphans)),
		slog.Int("deleted", len(rep.Deleted)),
		slog.Int("dangling", len(rep.Dangling)),
	)
	return rep, nil
}
