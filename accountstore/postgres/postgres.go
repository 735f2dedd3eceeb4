// Package postgres implements the cafegate provider interfaces over a
// PostgreSQL account database. It is the reference adapter; deployments
// with their own account service implement the interfaces directly.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/poscore/cafegate"
)

// DB is the subset of pgxpool.Pool the stores use. pgxmock satisfies it
// too, so tests run without a server.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// StaffStore implements cafegate.StaffProvider.
type StaffStore struct {
	db DB
}

func NewStaffStore(db DB) *StaffStore {
	return &StaffStore{db: db}
}

func (s *StaffStore) StaffByUsername(ctx context.Context, username string) (*cafegate.StaffAccount, error) {
	const query = `
		SELECT id, username, password_hash, role, active
		FROM staff_accounts
		WHERE username = $1`

	var account cafegate.StaffAccount
	err := s.db.QueryRow(ctx, query, username).Scan(
		&account.ID,
		&account.Username,
		&account.PasswordHash,
		&account.Role,
		&account.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cafegate.ErrAccountNotFound
		}
		return nil, fmt.Errorf("select staff account: %w", err)
	}
	return &account, nil
}

func (s *StaffStore) UpdatePasswordHash(ctx context.Context, accountID, newHash string) error {
	const query = `
		UPDATE staff_accounts
		SET password_hash = $2, updated_at = now()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, accountID, newHash)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cafegate.ErrAccountNotFound
	}
	return nil
}

// CustomerStore implements cafegate.CustomerProvider.
type CustomerStore struct {
	db DB
}

func NewCustomerStore(db DB) *CustomerStore {
	return &CustomerStore{db: db}
}

func (s *CustomerStore) CustomerByPhone(ctx context.Context, phone string) (*cafegate.CustomerAccount, error) {
	const query = `
		SELECT id, phone_number, phone_verified, active
		FROM customer_accounts
		WHERE phone_number = $1`

	var account cafegate.CustomerAccount
	err := s.db.QueryRow(ctx, query, phone).Scan(
		&account.ID,
		&account.PhoneNumber,
		&account.PhoneVerified,
		&account.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cafegate.ErrAccountNotFound
		}
		return nil, fmt.Errorf("select customer account: %w", err)
	}
	return &account, nil
}

func (s *CustomerStore) MarkPhoneVerified(ctx context.Context, accountID string) error {
	const query = `
		UPDATE customer_accounts
		SET phone_verified = true, updated_at = now()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, accountID)
	if err != nil {
		return fmt.Errorf("mark phone verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cafegate.ErrAccountNotFound
	}
	return nil
}
