package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"crmapi/internal/logging"
	"crmapi/internal/metrics"
	"crmapi/internal/model"
	"crmapi/internal/repository"
	repoMocks "crmapi/internal/repository/mocks"
	"crmapi/internal/storage"
	storeMocks "crmapi/internal/storage/mocks"
)

const baseURL = "http://blobs.local/storage"

func strPtr(s string) *string { return &s }

type recorder struct {
	*metrics.Recorder
	reg *prometheus.Registry
}

func newRecorder(t *testing.T) *recorder {
	t.Helper()
	reg := prometheus.NewRegistry()
	rec, err := metrics.NewRecorder(reg)
	require.NoError(t, err)
	return &recorder{Recorder: rec, reg: reg}
}

func warnings(rec *recorder, op string) float64 {
	mfs, err := rec.reg.Gather()
	if err != nil {
		return -1
	}
	for _, mf := range mfs {
		if mf.GetName() != "crm_storage_warnings_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "op" && lp.GetValue() == op {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func upload(name, body string) *Upload {
	return &Upload{Reader: strings.NewReader(body), Size: int64(len(body)), Name: name, ContentType: "application/octet-stream"}
}

func TestCustomerService_Create(t *testing.T) {
	ctx := context.Background()
	ann := model.CustomerInput{Name: "Ann", Email: "a@x.com"}
	withStatus := ann
	withStatus.Status = model.StatusActive
	blob := storage.Blob{Path: "uploads/id-logo.png", URL: baseURL + "/uploads/id-logo.png"}

	t.Run("without file", func(t *testing.T) {
		repo := new(repoMocks.MockCustomerRepository)
		blobs := &storeMocks.MockBlobs{BaseURL: baseURL}
		repo.On("Create", mock.Anything, withStatus, (*string)(nil)).
			Return(&model.Customer{ID: "c-1", Name: "Ann", Status: model.StatusActive}, nil)

		c, err := NewCustomerService(repo, blobs, nil, nil).Create(ctx, ann, nil)

		require.NoError(t, err)
		assert.False(t, c.HasDocument())
		repo.AssertExpectations(t)
		blobs.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("with file", func(t *testing.T) {
		repo := new(repoMocks.MockCustomerRepository)
		blobs := &storeMocks.MockBlobs{BaseURL: baseURL}
		blobs.On("Upload", mock.Anything, mock.Anything, int64(4), "logo.png", "application/octet-stream").Return(blob, nil)
		repo.On("Create", mock.Anything, withStatus, strPtr(blob.URL)).
			Return(&model.Customer{ID: "c-1", DocumentURL: strPtr(blob.URL)}, nil)

		c, err := NewCustomerService(repo, blobs, nil, nil).Create(ctx, ann, upload("logo.png", "data"))

		require.NoError(t, err)
		assert.Equal(t, blob.URL, *c.DocumentURL)
		repo.AssertExpectations(t)
		blobs.AssertExpectations(t)
	})

	t.Run("upload failure still creates customer", func(t *testing.T) {
		repo := new(repoMocks.MockCustomerRepository)
		blobs := &storeMocks.MockBlobs{BaseURL: baseURL}
		rec := newRecorder(t)
		blobs.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(storage.Blob{}, errors.New("bucket offline"))
		repo.On("Create", mock.Anything, withStatus, (*string)(nil)).
			Return(&model.Customer{ID: "c-1"}, nil)

		c, err := NewCustomerService(repo, blobs, nil, rec.Recorder).Create(ctx, ann, upload("logo.png", "data"))

		require.NoError(t, err)
		assert.Nil(t, c.DocumentURL)
		assert.Equal(t, 1.0, warnings(rec, metrics.OpUpload))
		repo.AssertExpectations(t)
	})

	t.Run("insert failure removes uploaded blob", func(t *testing.T) {
		repo := new(repoMocks.MockCustomerRepository)
		blobs := &storeMocks.MockBlobs{BaseURL: baseURL}
		blobs.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(blob, nil)
		blobs.On("Delete", mock.Anything, blob.Path).Return(nil).Once()
		repo.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

		_, err := NewCustomerService(repo, blobs, nil, nil).Create(ctx, ann, upload("logo.png", "data"))

		assert.ErrorIs(t, err, ErrCreateFailed)
		assert.ErrorContains(t, err, "db down")
		blobs.AssertNumberOfCalls(t, "Delete", 1)
	})

	t.Run("insert failure with failed compensation", func(t *testing.T) {
		repo := new(repoMocks.MockCustomerRepository)
		blobs := &storeMocks.MockBlobs{BaseURL: baseURL}
		rec := newRecorder(t)
		blobs.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(blob, nil)
		blobs.On("Delete", mock.Anything, blob.Path).Return(errors.New("gone"))
		repo.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil, repository.ErrConstraint)

		_, err := NewCustomerService(repo, blobs, nil, rec.Recorder).Create(ctx, ann, upload("logo.png", "data"))

		assert.ErrorIs(t, err, ErrCreateFailed)
		assert.ErrorIs(t, err, repository.ErrConstraint)
		assert.Equal(t, 1.0, warnings(rec, metrics.OpCompensate))
	})

	t.Run("validation", func(t *testing.T) {
		repo := new(repoMocks.MockCustomerRepository)
		svc := NewCustomerService(repo, &storeMocks.MockBlobs{BaseURL: baseURL}, nil, nil)

		_, err := svc.Create(ctx, model.CustomerInput{Email: "a@x.com"}, nil)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "name", verr.Field)

		_, err = svc.Create(ctx, model.CustomerInput{Name: "Ann", Email: "nope"}, nil)
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "email", verr.Field)

		_, err = svc.Create(ctx, model.CustomerInput{Name: "Ann", Email: "a@x.com", Status: "vip"}, nil)
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "status", verr.Field)

		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestCustomerService_Update(t *testing.T) {
	ctx := context.Background()
	oldURL := baseURL + "/uploads/old-cv.pdf"
	existing := &model.Customer{ID: "c-1", Name: "Ann", DocumentURL: strPtr(oldURL)}
	newBlob := storage.Blob{Path: "uploads/new-cv.pdf", URL: baseURL + "/uploads/new-cv.pdf"}

	t.Run("replacement deletes old blob exactly once", func(t *testing.T) {
		repo := new(repoMocks.MockCustomerRepository)
		blobs := &storeMocks.MockBlobs{BaseURL: baseURL}
		repo.On("FindByID", mock.Anything, "c-1").Return(existing, nil)
		blobs.On("Upload", mock.Anything, mock.Anything, mock.Anything, "cv.pdf", mock.Anything).Return(newBlob, nil)
		repo.On("Update", mock.Anything, "c-1", model.CustomerPatch{DocumentURL: strPtr(newBlob.URL)}).
			Return(&model.Customer{ID: "c-1", DocumentURL: strPtr(newBlob.URL)}, nil)
		blobs.On("Delete", mock.Anything, "uploads/old-cv.pdf").Return(nil)

		c, err := NewCustomerService(repo, blobs, nil, nil).Update(ctx, "c-1", model.CustomerPatch{}, upload("cv.pdf", "pdf"))

		require.NoError(t, err)
		assert.Equal(t, newBlob.URL, *c.DocumentURL)
		blobs.AssertNumberOfCalls(t, "Delete", 1)
		blobs.AssertCalled(t, "Delete", mock.Anything, "uploads/old-cv.pdf")
		repo.AssertExpectations(t)
	})

	t.Run("failed upload keeps document and applies fields", func(t *testing.T) {
		repo := new(repoMocks.MockCustomerRepository)
		blobs := &storeMocks.MockBlobs{BaseURL: baseURL}
		rec := newRecorder(t)
		repo.On("FindByID", mock.Anything, "c-1").Return(existing, nil)
		blobs.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(storage.Blob{}, errors.New("timeout"))
		repo.On("Update", mock.Anything, "c-1", model.CustomerPatch{Name: strPtr("Annie")}).
			Return(&model.Customer{ID: "c-1", Name: "Annie", DocumentURL: strPtr(oldURL)}, nil)

		c, err := NewCustomerService(repo, blobs, nil, rec.Recorder).
			Update(ctx, "c-1", model.CustomerPatch{Name: strPtr(" Annie ")}, upload("cv.pdf", "pdf"))

		require.NoError(t, err)
		assert.Equal(t, oldURL, *c.DocumentURL)
		blobs.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
		assert.Equal(t, 1.0, warnings(rec, metrics.OpUpload))
	})

	t.Run("failed upload with nothing else to change", func(t *testing.T) {
		repo := new(repoMocks.MockCustomerRepository)
		blobs := &storeMocks.MockBlobs{BaseURL: baseURL}
		repo.On("FindByID", mock.Anything, "c-1").Return(existing, nil)
		blobs.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(storage.Blob{}, errors.New("timeout"))

		c, err := NewCustomerService(repo, blobs, nil, nil).Update(ctx, "c-1", model.CustomerPatch{}, upload("cv.pdf", "pdf"))

		require.NoError(t, err)
		assert.Equal(t, oldURL, *c.DocumentURL)
		repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("client cannot set document_url directly", func(t *testing.T) {
		repo := new(repoMocks.MockCustomerRepository)
		repo.On("FindByID", mock.Anything, "c-1").Return(existing, nil)
		repo.On("Update", mock.Anything, "c-1", model.CustomerPatch{Company: strPtr("Acme")}).Return(existing, nil)

		_, err := NewCustomerService(repo, &storeMocks.MockBlobs{BaseURL: baseURL}, nil, nil).
			Update(ctx, "c-1", model.CustomerPatch{Company: strPtr("Acme"), DocumentURL: strPtr("http://evil/x")}, nil)

		require.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		repo := new(repoMocks.MockCustomerRepository)
		blobs := &storeMocks.MockBlobs{BaseURL: baseURL}
		repo.On("FindByID", mock.Anything, "missing").Return(nil, repository.ErrNotFound)

		_, err := NewCustomerService(repo, blobs, nil, nil).Update(ctx, "missing", model.CustomerPatch{}, upload("cv.pdf", "pdf"))

		assert.ErrorIs(t, err, ErrNotFound)
		blobs.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("row update failure removes new blob and keeps old", func(t *testing.T) {
		repo := new(repoMocks.MockCustomerRepository)
		blobs := &storeMocks.MockBlobs{BaseURL: baseURL}
		repo.On("FindByID", mock.Anything, "c-1").Return(existing, nil)
		blobs.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(newBlob, nil)
		repo.On("Update", mock.Anything, "c-1", mock.Anything).Return(nil, errors.New("deadlock"))
		blobs.On("Delete", mock.Anything, newBlob.Path).Return(nil)

		_, err := NewCustomerService(repo, blobs, nil, nil).Update(ctx, "c-1", model.CustomerPatch{}, upload("cv.pdf", "pdf"))

		assert.ErrorIs(t, err, ErrUpdateFailed)
		blobs.AssertNumberOfCalls(t, "Delete", 1)
		blobs.AssertNotCalled(t, "Delete", mock.Anything, "uploads/old-cv.pdf")
	})
}

func TestCustomerService_Delete(t *testing.T) {
	ctx := context.Background()
	withDoc := &model.Customer{ID: "c-1", DocumentURL: strPtr(baseURL + "/uploads/a-logo.png")}

	t.Run("blob failure does not block row delete", func(t *testing.T) {
		repo := new(repoMocks.MockCustomerRepository)
		blobs := &storeMocks.MockBlobs{BaseURL: baseURL}
		rec := newRecorder(t)
		repo.On("FindByID", mock.Anything, "c-1").Return(withDoc, nil).Once()
		blobs.On("Delete", mock.Anything, "uploads/a-logo.png").Return(errors.New("denied"))
		repo.On("Delete", mock.Anything, "c-1").Return(nil)
		repo.On("FindByID", mock.Anything, "c-1").Return(nil, repository.ErrNotFound)
		svc := NewCustomerService(repo, blobs, nil, rec.Recorder)

		require.NoError(t, svc.Delete(ctx, "c-1"))
		_, err := svc.Get(ctx, "c-1")

		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, 1.0, warnings(rec, metrics.OpDelete))
		repo.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		repo := new(repoMocks.MockCustomerRepository)
		repo.On("FindByID", mock.Anything, "c-9").Return(nil, repository.ErrNotFound)

		err := NewCustomerService(repo, &storeMocks.MockBlobs{BaseURL: baseURL}, nil, nil).Delete(ctx, "c-9")

		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("row delete failure", func(t *testing.T) {
		repo := new(repoMocks.MockCustomerRepository)
		repo.On("FindByID", mock.Anything, "c-2").Return(&model.Customer{ID: "c-2"}, nil)
		repo.On("Delete", mock.Anything, "c-2").Return(errors.New("conn reset"))

		err := NewCustomerService(repo, &storeMocks.MockBlobs{BaseURL: baseURL}, nil, nil).Delete(ctx, "c-2")

		assert.ErrorIs(t, err, ErrDeleteFailed)
	})

	t.Run("storage warning carries request id", func(t *testing.T) {
		var buf bytes.Buffer
		repo := new(repoMocks.MockCustomerRepository)
		blobs := &storeMocks.MockBlobs{BaseURL: baseURL}
		repo.On("FindByID", mock.Anything, "c-1").Return(withDoc, nil)
		blobs.On("Delete", mock.Anything, "uploads/a-logo.png").Return(errors.New("denied"))
		repo.On("Delete", mock.Anything, "c-1").Return(nil)
		svc := NewCustomerService(repo, blobs, logging.New(&buf, time.UTC, slog.LevelInfo), nil)

		require.NoError(t, svc.Delete(logging.WithRequestID(ctx, "rid-77"), "c-1"))

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "storage operation failed", entry["msg"])
		assert.Equal(t, "rid-77", entry["request_id"])
		assert.Equal(t, "c-1", entry["customer_id"])
	})

	t.Run("foreign url is left alone", func(t *testing.T) {
		repo := new(repoMocks.MockCustomerRepository)
		blobs := &storeMocks.MockBlobs{BaseURL: baseURL}
		repo.On("FindByID", mock.Anything, "c-3").Return(&model.Customer{ID: "c-3", DocumentURL: strPtr("https://other/x.pdf")}, nil)
		repo.On("Delete", mock.Anything, "c-3").Return(nil)

		require.NoError(t, NewCustomerService(repo, blobs, nil, nil).Delete(ctx, "c-3"))
		blobs.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})
}

func TestCustomerService_ListAndLink(t *testing.T) {
	ctx := context.Background()
	repo := new(repoMocks.MockCustomerRepository)
	blobs := &storeMocks.MockBlobs{BaseURL: baseURL}
	svc := NewCustomerService(repo, blobs, nil, nil)

	repo.On("List", mock.Anything, repository.CustomerQuery{Search: "ann", PageQuery: repository.PageQuery{Limit: MaxPageSize}}).
		Return(&repository.PageResult[model.Customer]{Items: []model.Customer{{ID: "c-1"}}, Total: 1}, nil)
	res, err := svc.List(ctx, repository.CustomerQuery{Search: " ann ", PageQuery: repository.PageQuery{Limit: 1000, Offset: -3}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)

	_, err = svc.List(ctx, repository.CustomerQuery{Status: "vip"})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	repo.On("FindByID", mock.Anything, "c-1").Return(&model.Customer{ID: "c-1", DocumentURL: strPtr(baseURL + "/uploads/a.pdf")}, nil)
	blobs.On("Presign", mock.Anything, "uploads/a.pdf", time.Minute).Return("https://signed", nil)
	link, err := svc.DocumentLink(ctx, "c-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "https://signed", link)

	repo.On("FindByID", mock.Anything, "c-2").Return(&model.Customer{ID: "c-2"}, nil)
	_, err = svc.DocumentLink(ctx, "c-2", time.Minute)
	assert.ErrorIs(t, err, ErrNoDocument)
}

// memCustomers is an in-memory CustomerRepository for end-to-end coordinator tests.
type memCustomers struct {
	mu   sync.Mutex
	rows map[string]model.Customer
}

func newMemCustomers() *memCustomers {
	return &memCustomers{rows: make(map[string]model.Customer)}
}

func (m *memCustomers) Create(_ context.Context, in model.CustomerInput, documentURL *string) (*model.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := model.Customer{
		ID: uuid.NewString(), Name: in.Name, Email: in.Email, Phone: in.Phone, Company: in.Company,
		Status: in.Status, DocumentURL: documentURL, CreatedAt: time.Now(),
	}
	m.rows[c.ID] = c
	return &c, nil
}

func (m *memCustomers) List(context.Context, repository.CustomerQuery) (*repository.PageResult[model.Customer], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &repository.PageResult[model.Customer]{}
	for _, c := range m.rows {
		out.Items = append(out.Items, c)
	}
	out.Total = len(out.Items)
	return out, nil
}

func (m *memCustomers) FindByID(_ context.Context, id string) (*model.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (m *memCustomers) Update(_ context.Context, id string, p model.CustomerPatch) (*model.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Email != nil {
		c.Email = *p.Email
	}
	if p.Phone != nil {
		c.Phone = p.Phone
	}
	if p.Company != nil {
		c.Company = p.Company
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.DocumentURL != nil {
		c.DocumentURL = p.DocumentURL
	}
	m.rows[id] = c
	return &c, nil
}

func (m *memCustomers) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memCustomers) CountByStatus(context.Context) (*model.CustomerStats, error) {
	return &model.CustomerStats{}, nil
}

func (m *memCustomers) DocumentURLs(context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for id, c := range m.rows {
		if c.HasDocument() {
			out[*c.DocumentURL] = id
		}
	}
	return out, nil
}

func TestCustomerService_RoundTrip(t *testing.T) {
	ctx := context.Background()
	blobs := storage.NewBlobStore(storage.NewMemory("storage"), baseURL)
	svc := NewCustomerService(newMemCustomers(), blobs, nil, nil)

	created, err := svc.Create(ctx, model.CustomerInput{Name: "Ann", Email: "a@x.com", Status: model.StatusActive},
		upload("logo.png", "\x89PNG-bytes"))
	require.NoError(t, err)
	require.True(t, created.HasDocument())
	assert.True(t, strings.HasSuffix(*created.DocumentURL, "-logo.png"))

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	p, ok := blobs.PathFromURL(*got.DocumentURL)
	require.True(t, ok)
	rc, _, err := blobs.Open(ctx, p)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "\x89PNG-bytes", string(data))

	updated, err := svc.Update(ctx, created.ID, model.CustomerPatch{}, upload("contract.pdf", "%PDF"))
	require.NoError(t, err)
	assert.NotEqual(t, *created.DocumentURL, *updated.DocumentURL)
	_, _, err = blobs.Open(ctx, p)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)

	require.NoError(t, svc.Delete(ctx, created.ID))
	_, err = svc.Get(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	left, err := blobs.List(ctx, storage.UploadNamespace)
	require.NoError(t, err)
	assert.Empty(t, left)
}
