package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/orbitpay/payment-gateway/internal/model"
	"github.com/orbitpay/payment-gateway/pkg/pg"
)

type PaymentMethodRepository struct {
	*pg.DB
}

func NewPaymentMethodRepository(db *pg.DB) *PaymentMethodRepository {
	return &PaymentMethodRepository{
		db,
	}
}

// Create stores a fresh payment method row. Tokens are single-use caller
// references, so rows are never deduped by token.
func (r *PaymentMethodRepository) Create(ctx context.Context, input *model.PaymentMethodInput, customerID string) (*model.PaymentMethod, error) {
	entity := &PaymentMethodEntity{
		ID:    uuid.NewString(),
		Type:  string(input.Type),
		Token: input.Token,
	}
	if customerID != "" {
		entity.CustomerID = &customerID
	}

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toPaymentMethodModel(entity), nil
}
