package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"crmapi/internal/model"
	"crmapi/internal/repository"
)

const customerColumns = `id, name, email, phone, company, status, document_url, created_at`

// CustomerPostgres is a PostgreSQL implementation of repository.CustomerRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type CustomerPostgres struct {
	db *sql.DB
}

// NewCustomerPostgres creates a new CustomerPostgres repository.
func NewCustomerPostgres(db *sql.DB) *CustomerPostgres {
	return &CustomerPostgres{db: db}
}

var _ repository.CustomerRepository = (*CustomerPostgres)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row rowScanner) (*model.Customer, error) {
	var c model.Customer
	var phone, company, docURL sql.NullString
	if err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Email,
		&phone,
		&company,
		&c.Status,
		&docURL,
		&c.CreatedAt,
	); err != nil {
		return nil, err
	}
	c.Phone = fromNull(phone)
	c.Company = fromNull(company)
	c.DocumentURL = fromNull(docURL)
	return &c, nil
}

// Create inserts a new customer row and returns the stored record.
func (r *CustomerPostgres) Create(ctx context.Context, in model.CustomerInput, documentURL *string) (*model.Customer, error) {
	const q = `
		INSERT INTO customers (name, email, phone, company, status, document_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + customerColumns
	row := r.db.QueryRowContext(ctx, q,
		in.Name,
		in.Email,
		toNull(in.Phone),
		toNull(in.Company),
		string(in.Status),
		toNull(documentURL),
	)
	c, err := scanCustomer(row)
	if err != nil {
		return nil, translate(err)
	}
	return c, nil
}

// List returns customers using LIMIT/OFFSET pagination and a total count.
func (r *CustomerPostgres) List(ctx context.Context, q repository.CustomerQuery) (*repository.PageResult[model.Customer], error) {
	var where []string
	var args []any
	if s := strings.TrimSpace(q.Search); s != "" {
		args = append(args, "%"+escapeLike(s)+"%")
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR email ILIKE $%d)", len(args), len(args)))
	}
	if q.Status != "" {
		args = append(args, string(q.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM customers`+cond, args...).Scan(&total); err != nil {
		return nil, err
	}

	qList := `SELECT ` + customerColumns + ` FROM customers` + cond + ` ORDER BY created_at DESC, id DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit, q.Offset)
		qList += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := r.db.QueryContext(ctx, qList, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Customer, 0)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.Customer]{
		Items: items,
		Total: total,
	}, nil
}

// FindByID fetches a single customer by its ID.
func (r *CustomerPostgres) FindByID(ctx context.Context, id string) (*model.Customer, error) {
	const q = `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`
	c, err := scanCustomer(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, translate(err)
	}
	return c, nil
}

// Update applies the non-nil patch fields in a single UPDATE ... RETURNING.
// An empty patch degrades to a plain lookup.
func (r *CustomerPostgres) Update(ctx context.Context, id string, patch model.CustomerPatch) (*model.Customer, error) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Email != nil {
		add("email", *patch.Email)
	}
	if patch.Phone != nil {
		add("phone", emptyAsNull(*patch.Phone))
	}
	if patch.Company != nil {
		add("company", emptyAsNull(*patch.Company))
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.DocumentURL != nil {
		add("document_url", emptyAsNull(*patch.DocumentURL))
	}
	if len(sets) == 0 {
		return r.FindByID(ctx, id)
	}

	args = append(args, id)
	q := fmt.Sprintf(`UPDATE customers SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), customerColumns)
	c, err := scanCustomer(r.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		return nil, translate(err)
	}
	return c, nil
}

// Delete removes a customer by ID. Zero affected rows is reported as repository.ErrNotFound.
func (r *CustomerPostgres) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM customers WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CountByStatus aggregates customers per status.
func (r *CustomerPostgres) CountByStatus(ctx context.Context) (*model.CustomerStats, error) {
	const q = `SELECT status, COUNT(*) FROM customers GROUP BY status`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats model.CustomerStats
	for rows.Next() {
		var status model.CustomerStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats.Total += n
		switch status {
		case model.StatusActive:
			stats.Active = n
		case model.StatusInactive:
			stats.Inactive = n
		case model.StatusLead:
			stats.Lead = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &stats, nil
}

// DocumentURLs returns document_url -> customer id for every customer holding a document.
func (r *CustomerPostgres) DocumentURLs(ctx context.Context) (map[string]string, error) {
	const q = `SELECT id, document_url FROM customers WHERE document_url IS NOT NULL AND document_url <> ''`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, url string
		if err := rows.Scan(&id, &url); err != nil {
			return nil, err
		}
		out[url] = id
	}
	return out, rows.Err()
}
