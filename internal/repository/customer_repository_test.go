package repository

import (
	"context"
	"testing"

	"github.com/orbitpay/payment-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomerRepository_FindOrCreateByEmail(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewCustomerRepository(db)
	ctx := context.Background()

	first, err := repo.FindOrCreateByEmail(ctx, &model.CustomerInput{
		Email:     "jo@example.com",
		FirstName: "Jo",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "jo@example.com", first.Email)

	// Same email resolves to the same row, ignoring new details
	second, err := repo.FindOrCreateByEmail(ctx, &model.CustomerInput{
		Email:     "jo@example.com",
		FirstName: "Joanna",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Jo", second.FirstName)

	other, err := repo.FindOrCreateByEmail(ctx, &model.CustomerInput{Email: "sam@example.com"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestCustomerRepository_FindByID(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewCustomerRepository(db)
	ctx := context.Background()

	created, err := repo.FindOrCreateByEmail(ctx, &model.CustomerInput{Email: "jo@example.com"})
	require.NoError(t, err)

	found, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Email, found.Email)

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPaymentMethodRepository_Create(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewPaymentMethodRepository(db)
	ctx := context.Background()

	pm, err := repo.Create(ctx, &model.PaymentMethodInput{
		Type:  model.MethodCard,
		Token: "tok_visa",
	}, "cus-1")
	require.NoError(t, err)
	assert.NotEmpty(t, pm.ID)
	assert.Equal(t, model.MethodCard, pm.Type)
	require.NotNil(t, pm.CustomerID)
	assert.Equal(t, "cus-1", *pm.CustomerID)

	// Tokens are single-use references: same token makes a new row
	again, err := repo.Create(ctx, &model.PaymentMethodInput{
		Type:  model.MethodCard,
		Token: "tok_visa",
	}, "")
	require.NoError(t, err)
	assert.NotEqual(t, pm.ID, again.ID)
	assert.Nil(t, again.CustomerID)
}
