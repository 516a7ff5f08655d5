package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/ledger-core/internal/domain"
	"github.com/jackc/pgx/v5"
)

// CustomerStore implements ledger.CustomerStore.
type CustomerStore struct {
	q querier
}

const customerColumns = `id, name, email, status, created_at`

func (s *CustomerStore) Save(ctx context.Context, c *domain.Customer) (*domain.Customer, error) {
	_, err := s.q.Exec(ctx,
		`INSERT INTO customers (`+customerColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.Name, c.Email, string(c.Status), c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "customers_email_key") {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateEmail, c.Email)
		}
		return nil, fmt.Errorf("CustomerStore.Save: insert: %w", err)
	}
	saved := *c
	return &saved, nil
}

func (s *CustomerStore) Update(ctx context.Context, c *domain.Customer) (*domain.Customer, error) {
	tag, err := s.q.Exec(ctx,
		`UPDATE customers SET name = $2, email = $3, status = $4 WHERE id = $1`,
		c.ID, c.Name, c.Email, string(c.Status))
	if err != nil {
		if isUniqueViolation(err, "customers_email_key") {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateEmail, c.Email)
		}
		return nil, fmt.Errorf("CustomerStore.Update: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrCustomerNotFound, c.ID)
	}
	updated := *c
	return &updated, nil
}

func (s *CustomerStore) GetByID(ctx context.Context, id string) (*domain.Customer, error) {
	return s.getOne(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id)
}

func (s *CustomerStore) GetByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	return s.getOne(ctx, `SELECT `+customerColumns+` FROM customers WHERE email = $1`, email)
}

func (s *CustomerStore) getOne(ctx context.Context, query string, arg string) (*domain.Customer, error) {
	var (
		c      domain.Customer
		status string
	)
	err := s.q.QueryRow(ctx, query, arg).Scan(&c.ID, &c.Name, &c.Email, &status, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("CustomerStore: scan customer: %w", err)
	}
	c.Status = domain.CustomerStatus(status)
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}
