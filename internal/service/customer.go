package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"crmapi/internal/logging"
	"crmapi/internal/metrics"
	"crmapi/internal/model"
	"crmapi/internal/repository"
	"crmapi/internal/storage"
)

const tracerName = "crmapi/internal/service"

// MaxPageSize caps customer listings.
const MaxPageSize = 100

// Upload is a file attached to a create or update request.
type Upload struct {
	Reader      io.Reader
	Size        int64
	Name        string
	ContentType string
}

// CustomerListResult is the service-level DTO for paginated customers.
type CustomerListResult struct {
	Items []model.Customer `json:"data"`
	Total int              `json:"total"`
}

// CustomerService keeps a customer row and its optional document blob consistent.
// The row is authoritative: blob failures are logged and counted, never returned,
// except when they are the reason the row cannot be written.
type CustomerService interface {
	// Create uploads file (if any) then inserts the row. A failed upload yields a customer
	// without a document; a failed insert deletes the uploaded blob and returns ErrCreateFailed.
	Create(ctx context.Context, in model.CustomerInput, file *Upload) (*model.Customer, error)

	// Get returns a customer by ID.
	Get(ctx context.Context, id string) (*model.Customer, error)

	// List returns customers matching q, newest first.
	List(ctx context.Context, q repository.CustomerQuery) (*CustomerListResult, error)

	// Update applies patch and, when file is set, replaces the document. The old blob is removed
	// only after the row points at the new one; a failed upload leaves document_url untouched.
	Update(ctx context.Context, id string, patch model.CustomerPatch, file *Upload) (*model.Customer, error)

	// Delete removes the document blob (best-effort) and then the row.
	Delete(ctx context.Context, id string) error

	// Stats returns dashboard counts by status.
	Stats(ctx context.Context) (*model.CustomerStats, error)

	// DocumentLink returns a time-limited download URL for the customer's document.
	DocumentLink(ctx context.Context, id string, ttl time.Duration) (string, error)
}

type customerService struct {
	repo    repository.CustomerRepository
	blobs   storage.Blobs
	log     *slog.Logger
	metrics *metrics.Recorder
	tracer  trace.Tracer
}

// NewCustomerService constructs a CustomerService. log and rec may be nil.
func NewCustomerService(repo repository.CustomerRepository, blobs storage.Blobs, log *slog.Logger, rec *metrics.Recorder) CustomerService {
	if log == nil {
		log = logging.Discard()
	}
	return &customerService{
		repo:    repo,
		blobs:   blobs,
		log:     log,
		metrics: rec,
		tracer:  otel.Tracer(tracerName),
	}
}

func (s *customerService) Create(ctx context.Context, in model.CustomerInput, file *Upload) (*model.Customer, error) {
	ctx, span := s.tracer.Start(ctx, "CustomerService.Create")
	defer span.End()

	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if in.Status == "" {
		in.Status = model.StatusActive
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	var uploaded *storage.Blob
	if file != nil {
		blob, err := s.blobs.Upload(ctx, file.Reader, file.Size, file.Name, file.ContentType)
		if err != nil {
			s.storageWarning(ctx, metrics.OpUpload, "", file.Name, err)
		} else {
			uploaded = &blob
			span.SetAttributes(attribute.String("blob.path", blob.Path))
		}
	}

	var docURL *string
	if uploaded != nil {
		docURL = &uploaded.URL
	}
	c, err := s.repo.Create(ctx, in, docURL)
	if err != nil {
		if uploaded != nil {
			s.deleteBlob(ctx, metrics.OpCompensate, "", uploaded.Path)
		}
		return nil, s.fail(span, ErrCreateFailed, err)
	}
	span.SetAttributes(attribute.String("customer.id", c.ID))
	return c, nil
}

func (s *customerService) Get(ctx context.Context, id string) (*model.Customer, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func (s *customerService) List(ctx context.Context, q repository.CustomerQuery) (*CustomerListResult, error) {
	q.Search = strings.TrimSpace(q.Search)
	if q.Status != "" && !q.Status.Valid() {
		return nil, invalid("status", "must be one of [active inactive lead]")
	}
	if q.Limit < 0 {
		q.Limit = 0
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	res, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, err
	}
	return &CustomerListResult{Items: res.Items, Total: res.Total}, nil
}

func (s *customerService) Update(ctx context.Context, id string, patch model.CustomerPatch, file *Upload) (*model.Customer, error) {
	ctx, span := s.tracer.Start(ctx, "CustomerService.Update", trace.WithAttributes(attribute.String("customer.id", id)))
	defer span.End()

	if id == "" {
		return nil, ErrIDRequired
	}
	patch.DocumentURL = nil
	trimPtr(patch.Name)
	trimPtr(patch.Email)
	if err := validateStruct(patch); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, s.fail(span, ErrUpdateFailed, err)
	}

	var uploaded *storage.Blob
	if file != nil {
		blob, err := s.blobs.Upload(ctx, file.Reader, file.Size, file.Name, file.ContentType)
		if err != nil {
			s.storageWarning(ctx, metrics.OpUpload, id, file.Name, err)
		} else {
			uploaded = &blob
			patch.DocumentURL = &blob.URL
		}
	}

	if patch.IsEmpty() {
		return existing, nil
	}

	updated, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		if uploaded != nil {
			s.deleteBlob(ctx, metrics.OpCompensate, id, uploaded.Path)
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, s.fail(span, ErrUpdateFailed, err)
	}

	if uploaded != nil && existing.HasDocument() && *existing.DocumentURL != uploaded.URL {
		s.removeDocument(ctx, existing)
	}
	return updated, nil
}

func (s *customerService) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "CustomerService.Delete", trace.WithAttributes(attribute.String("customer.id", id)))
	defer span.End()

	if id == "" {
		return ErrIDRequired
	}
	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return s.fail(span, ErrDeleteFailed, err)
	}

	if existing.HasDocument() {
		s.removeDocument(ctx, existing)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return s.fail(span, ErrDeleteFailed, err)
	}
	return nil
}

func (s *customerService) Stats(ctx context.Context) (*model.CustomerStats, error) {
	return s.repo.CountByStatus(ctx)
}

func (s *customerService) DocumentLink(ctx context.Context, id string, ttl time.Duration) (string, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !c.HasDocument() {
		return "", ErrNoDocument
	}
	p, ok := s.blobs.PathFromURL(*c.DocumentURL)
	if !ok {
		return "", fmt.Errorf("document url %q is not managed by this store", *c.DocumentURL)
	}
	return s.blobs.Presign(ctx, p, ttl)
}

// removeDocument deletes the blob referenced by c.DocumentURL, best-effort.
func (s *customerService) removeDocument(ctx context.Context, c *model.Customer) {
	p, ok := s.blobs.PathFromURL(*c.DocumentURL)
	if !ok {
		s.log.WarnContext(ctx, "document url not managed by blob store",
			slog.String("customer_id", c.ID),
			slog.String("document_url", *c.DocumentURL),
		)
		return
	}
	s.deleteBlob(ctx, metrics.OpDelete, c.ID, p)
}

func (s *customerService) deleteBlob(ctx context.Context, op, customerID, path string) {
	if err := s.blobs.Delete(ctx, path); err != nil {
		s.storageWarning(ctx, op, customerID, path, err)
	}
}

func (s *customerService) storageWarning(ctx context.Context, op, customerID, path string, err error) {
	trace.SpanFromContext(ctx).AddEvent("storage_warning", trace.WithAttributes(
		attribute.String("op", op),
		attribute.String("path", path),
	))
	s.metrics.StorageWarning(op)
	s.log.WarnContext(ctx, "storage operation failed",
		slog.String("op", op),
		slog.String("path", path),
		slog.String("customer_id", customerID),
		logging.Err(err),
	)
}

func (s *customerService) fail(span trace.Span, kind error, cause error) error {
	span.RecordError(cause)
	span.SetStatus(codes.Error, kind.Error())
	return fmt.Errorf("%w: %w", kind, cause)
}

func trimPtr(p *string) {
	if p != nil {
		*p = strings.TrimSpace(*p)
	}
}
