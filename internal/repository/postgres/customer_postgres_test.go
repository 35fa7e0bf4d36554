package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmapi/internal/model"
	"crmapi/internal/repository"
)

var customerCols = []string{"id", "name", "email", "phone", "company", "status", "document_url", "created_at"}

func strPtr(s string) *string { return &s }

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestCustomerPostgres_Create(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCustomerPostgres(db)
	ctx := context.Background()
	now := time.Now().UTC()

	in := model.CustomerInput{Name: "Ann", Email: "a@x.com", Status: model.StatusActive}
	url := "http://cdn/storage/uploads/id-logo.png"

	t.Run("with document", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO customers").
			WithArgs("Ann", "a@x.com", nil, nil, "active", url).
			WillReturnRows(sqlmock.NewRows(customerCols).
				AddRow("c-1", "Ann", "a@x.com", nil, nil, "active", url, now))

		c, err := repo.Create(ctx, in, &url)

		require.NoError(t, err)
		assert.Equal(t, "c-1", c.ID)
		assert.Equal(t, model.StatusActive, c.Status)
		require.NotNil(t, c.DocumentURL)
		assert.Equal(t, url, *c.DocumentURL)
		assert.Nil(t, c.Phone)
	})

	t.Run("check violation", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO customers").
			WillReturnError(&pgconn.PgError{Code: "23514", Message: "violates check constraint"})

		c, err := repo.Create(ctx, in, nil)

		assert.Nil(t, c)
		assert.ErrorIs(t, err, repository.ErrConstraint)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomerPostgres_FindByID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCustomerPostgres(db)
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM customers WHERE id = \$1`).
			WithArgs("c-1").
			WillReturnRows(sqlmock.NewRows(customerCols).
				AddRow("c-1", "Ann", "a@x.com", "555", "Acme", "lead", nil, time.Now()))

		c, err := repo.FindByID(ctx, "c-1")

		require.NoError(t, err)
		assert.Equal(t, "c-1", c.ID)
		assert.Equal(t, "555", *c.Phone)
		assert.Equal(t, "Acme", *c.Company)
		assert.Nil(t, c.DocumentURL)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM customers WHERE id = \$1`).
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		c, err := repo.FindByID(ctx, "missing")

		assert.Nil(t, c)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("malformed id", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM customers WHERE id = \$1`).
			WithArgs("nope").
			WillReturnError(&pgconn.PgError{Code: "22P02"})

		_, err := repo.FindByID(ctx, "nope")

		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("driver error is not a not-found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM customers WHERE id = \$1`).
			WithArgs("c-2").
			WillReturnError(errors.New("connection reset"))

		_, err := repo.FindByID(ctx, "c-2")

		assert.Error(t, err)
		assert.NotErrorIs(t, err, repository.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomerPostgres_List(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCustomerPostgres(db)
	ctx := context.Background()

	t.Run("filtered and paginated", func(t *testing.T) {
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM customers WHERE \(name ILIKE \$1 OR email ILIKE \$1\) AND status = \$2`).
			WithArgs("%ann%", "lead").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectQuery(`SELECT (.+) FROM customers WHERE (.+) ORDER BY created_at DESC, id DESC LIMIT \$3 OFFSET \$4`).
			WithArgs("%ann%", "lead", 10, 0).
			WillReturnRows(sqlmock.NewRows(customerCols).
				AddRow("c-1", "Ann", "a@x.com", nil, nil, "lead", nil, time.Now()))

		res, err := repo.List(ctx, repository.CustomerQuery{
			Search:    "ann",
			Status:    model.StatusLead,
			PageQuery: repository.PageQuery{Limit: 10},
		})

		require.NoError(t, err)
		assert.Equal(t, 1, res.Total)
		assert.Len(t, res.Items, 1)
	})

	t.Run("unbounded", func(t *testing.T) {
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM customers`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(`SELECT (.+) FROM customers ORDER BY created_at DESC, id DESC$`).
			WillReturnRows(sqlmock.NewRows(customerCols))

		res, err := repo.List(ctx, repository.CustomerQuery{})

		require.NoError(t, err)
		assert.NotNil(t, res.Items)
		assert.Empty(t, res.Items)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomerPostgres_Update(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCustomerPostgres(db)
	ctx := context.Background()
	url := "http://cdn/storage/uploads/new.pdf"

	t.Run("sets only provided fields", func(t *testing.T) {
		mock.ExpectQuery(`UPDATE customers SET name = \$1, phone = \$2, document_url = \$3 WHERE id = \$4 RETURNING`).
			WithArgs("Bob", nil, url, "c-1").
			WillReturnRows(sqlmock.NewRows(customerCols).
				AddRow("c-1", "Bob", "a@x.com", nil, nil, "active", url, time.Now()))

		c, err := repo.Update(ctx, "c-1", model.CustomerPatch{
			Name:        strPtr("Bob"),
			Phone:       strPtr(""),
			DocumentURL: &url,
		})

		require.NoError(t, err)
		assert.Equal(t, "Bob", c.Name)
		assert.Equal(t, url, *c.DocumentURL)
	})

	t.Run("no row", func(t *testing.T) {
		mock.ExpectQuery(`UPDATE customers SET`).
			WithArgs("Bob", "missing").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.Update(ctx, "missing", model.CustomerPatch{Name: strPtr("Bob")})

		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("empty patch reads the row", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM customers WHERE id = \$1`).
			WithArgs("c-1").
			WillReturnRows(sqlmock.NewRows(customerCols).
				AddRow("c-1", "Bob", "a@x.com", nil, nil, "active", nil, time.Now()))

		c, err := repo.Update(ctx, "c-1", model.CustomerPatch{})

		require.NoError(t, err)
		assert.Equal(t, "Bob", c.Name)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomerPostgres_Delete(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCustomerPostgres(db)
	ctx := context.Background()

	mock.ExpectExec(`DELETE FROM customers WHERE id = \$1`).
		WithArgs("c-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM customers WHERE id = \$1`).
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM customers WHERE id = \$1`).
		WithArgs("c-2").
		WillReturnError(errors.New("db down"))

	assert.NoError(t, repo.Delete(ctx, "c-1"))
	assert.ErrorIs(t, repo.Delete(ctx, "gone"), repository.ErrNotFound)

	err := repo.Delete(ctx, "c-2")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomerPostgres_CountByStatus(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCustomerPostgres(db)

	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM customers GROUP BY status`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("active", 3).
			AddRow("lead", 2).
			AddRow("inactive", 1))

	stats, err := repo.CountByStatus(context.Background())

	require.NoError(t, err)
	assert.Equal(t, model.CustomerStats{Total: 6, Active: 3, Inactive: 1, Lead: 2}, *stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomerPostgres_DocumentURLs(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCustomerPostgres(db)

	mock.ExpectQuery(`SELECT id, document_url FROM customers WHERE document_url IS NOT NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_url"}).
			AddRow("c-1", "http://cdn/a").
			AddRow("c-2", "http://cdn/b"))

	urls, err := repo.DocumentURLs(context.Background())

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"http://cdn/a": "c-1", "http://cdn/b": "c-2"}, urls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `50\%\_off\\`, escapeLike(`50%_off\`))
}
