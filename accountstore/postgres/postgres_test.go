package postgres

import (
	"context"
	"errors"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poscore/cafegate"
)

var staffColumns = []string{"id", "username", "password_hash", "role", "active"}

var customerColumns = []string{"id", "phone_number", "phone_verified", "active"}

func TestStaffStore_StaffByUsername_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStaffStore(mock)

	mock.ExpectQuery("SELECT .+ FROM staff_accounts").
		WithArgs("ana").
		WillReturnRows(
			pgxmock.NewRows(staffColumns).
				AddRow("staff-1", "ana", "$argon2id$...", cafegate.RoleOwner, true),
		)

	account, err := store.StaffByUsername(context.Background(), "ana")
	require.NoError(t, err)
	assert.Equal(t, "staff-1", account.ID)
	assert.Equal(t, cafegate.RoleOwner, account.Role)
	assert.True(t, account.Active)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStaffStore_StaffByUsername_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStaffStore(mock)

	mock.ExpectQuery("SELECT .+ FROM staff_accounts").
		WithArgs("ghost").
		WillReturnRows(pgxmock.NewRows(staffColumns))

	_, err = store.StaffByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, cafegate.ErrAccountNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStaffStore_StaffByUsername_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStaffStore(mock)

	mock.ExpectQuery("SELECT .+ FROM staff_accounts").
		WithArgs("ana").
		WillReturnError(errors.New("connection refused"))

	_, err = store.StaffByUsername(context.Background(), "ana")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "select staff account")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStaffStore_UpdatePasswordHash(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStaffStore(mock)

	mock.ExpectExec("UPDATE staff_accounts").
		WithArgs("staff-1", "$argon2id$new").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = store.UpdatePasswordHash(context.Background(), "staff-1", "$argon2id$new")
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStaffStore_UpdatePasswordHash_UnknownAccount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStaffStore(mock)

	mock.ExpectExec("UPDATE staff_accounts").
		WithArgs("ghost", "$argon2id$new").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.UpdatePasswordHash(context.Background(), "ghost", "$argon2id$new")
	assert.ErrorIs(t, err, cafegate.ErrAccountNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomerStore_CustomerByPhone_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewCustomerStore(mock)

	mock.ExpectQuery("SELECT .+ FROM customer_accounts").
		WithArgs("+94771234567").
		WillReturnRows(
			pgxmock.NewRows(customerColumns).
				AddRow("cust-1", "+94771234567", false, true),
		)

	account, err := store.CustomerByPhone(context.Background(), "+94771234567")
	require.NoError(t, err)
	assert.Equal(t, "cust-1", account.ID)
	assert.False(t, account.PhoneVerified)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomerStore_CustomerByPhone_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewCustomerStore(mock)

	mock.ExpectQuery("SELECT .+ FROM customer_accounts").
		WithArgs("+0000000000").
		WillReturnRows(pgxmock.NewRows(customerColumns))

	_, err = store.CustomerByPhone(context.Background(), "+0000000000")
	assert.ErrorIs(t, err, cafegate.ErrAccountNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomerStore_MarkPhoneVerified(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewCustomerStore(mock)

	mock.ExpectExec("UPDATE customer_accounts").
		WithArgs("cust-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = store.MarkPhoneVerified(context.Background(), "cust-1")
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomerStore_MarkPhoneVerified_ExecError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewCustomerStore(mock)

	mock.ExpectExec("UPDATE customer_accounts").
		WithArgs("cust-1").
		WillReturnError(errors.New("connection refused"))

	err = store.MarkPhoneVerified(context.Background(), "cust-1")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "mark phone verified")

	assert.NoError(t, mock.ExpectationsWereMet())
}
