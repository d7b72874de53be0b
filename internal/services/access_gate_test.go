package services

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectAccountFetch(mock sqlmock.Sqlmock, id, status string, isAdmin, isDisabled bool) {
	mock.ExpectQuery("SELECT id, email, full_name, approval_status, is_admin, is_disabled FROM users").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "full_name", "approval_status", "is_admin", "is_disabled"}).
			AddRow(id, "user@example.com", "Jane Doe", status, isAdmin, isDisabled))
}

func TestAccessGate_AuthorizeSelf(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	gate := NewAccessGate(db)
	userID := "11111111-1111-4111-8111-111111111111"

	t.Run("approved owner allowed", func(t *testing.T) {
		expectAccountFetch(mock, userID, "approved", false, false)

		decision, err := gate.AuthorizeSelf(context.Background(), userID, userID)
		assert.NoError(t, err)
		assert.Equal(t, DecisionAllow, decision)
	})

	t.Run("empty caller unauthorized", func(t *testing.T) {
		decision, err := gate.AuthorizeSelf(context.Background(), "", userID)
		assert.NoError(t, err)
		assert.Equal(t, DecisionUnauthorized, decision)
	})

	t.Run("unknown caller unauthorized", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, email, full_name, approval_status, is_admin, is_disabled FROM users").
			WithArgs(userID).
			WillReturnError(sql.ErrNoRows)

		decision, err := gate.AuthorizeSelf(context.Background(), userID, userID)
		assert.NoError(t, err)
		assert.Equal(t, DecisionUnauthorized, decision)
	})

	t.Run("pending account forbidden", func(t *testing.T) {
		expectAccountFetch(mock, userID, "pending", false, false)

		decision, err := gate.AuthorizeSelf(context.Background(), userID, userID)
		assert.NoError(t, err)
		assert.Equal(t, DecisionForbidden, decision)
	})

	t.Run("rejected account forbidden", func(t *testing.T) {
		expectAccountFetch(mock, userID, "rejected", false, false)

		decision, err := gate.AuthorizeSelf(context.Background(), userID, userID)
		assert.NoError(t, err)
		assert.Equal(t, DecisionForbidden, decision)
	})

	t.Run("disabled account forbidden even when approved", func(t *testing.T) {
		expectAccountFetch(mock, userID, "approved", false, true)

		decision, err := gate.AuthorizeSelf(context.Background(), userID, userID)
		assert.NoError(t, err)
		assert.Equal(t, DecisionForbidden, decision)
	})

	t.Run("other account forbidden", func(t *testing.T) {
		expectAccountFetch(mock, userID, "approved", false, false)

		decision, err := gate.AuthorizeSelf(context.Background(), userID, "22222222-2222-4222-8222-222222222222")
		assert.NoError(t, err)
		assert.Equal(t, DecisionForbidden, decision)
	})
}

func TestAccessGate_AuthorizeAdmin(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	gate := NewAccessGate(db)
	adminID := "33333333-3333-4333-8333-333333333333"

	t.Run("active admin allowed", func(t *testing.T) {
		expectAccountFetch(mock, adminID, "approved", true, false)

		decision, err := gate.AuthorizeAdmin(context.Background(), adminID)
		assert.NoError(t, err)
		assert.Equal(t, DecisionAllow, decision)
	})

	t.Run("non-admin forbidden", func(t *testing.T) {
		expectAccountFetch(mock, adminID, "approved", false, false)

		decision, err := gate.AuthorizeAdmin(context.Background(), adminID)
		assert.NoError(t, err)
		assert.Equal(t, DecisionForbidden, decision)
	})

	t.Run("disabled admin forbidden", func(t *testing.T) {
		expectAccountFetch(mock, adminID, "approved", true, true)

		decision, err := gate.AuthorizeAdmin(context.Background(), adminID)
		assert.NoError(t, err)
		assert.Equal(t, DecisionForbidden, decision)
	})

	t.Run("empty caller unauthorized", func(t *testing.T) {
		decision, err := gate.AuthorizeAdmin(context.Background(), "")
		assert.NoError(t, err)
		assert.Equal(t, DecisionUnauthorized, decision)
	})
}

func TestDecision_Err(t *testing.T) {
	assert.NoError(t, DecisionAllow.Err())
	assert.ErrorIs(t, DecisionForbidden.Err(), ErrForbidden)
	assert.ErrorIs(t, DecisionUnauthorized.Err(), ErrUnauthorized)
}
