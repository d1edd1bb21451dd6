package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/orbitpay/payment-gateway/internal/model"
	"github.com/orbitpay/payment-gateway/pkg/pg"
	"gorm.io/gorm"
)

type CustomerRepository struct {
	*pg.DB
}

func NewCustomerRepository(db *pg.DB) *CustomerRepository {
	return &CustomerRepository{
		db,
	}
}

// FindOrCreateByEmail resolves the customer row for an email, creating
// it on first use. Email is the natural key; a concurrent insert racing
// on the unique index is resolved by re-reading.
func (r *CustomerRepository) FindOrCreateByEmail(ctx context.Context, input *model.CustomerInput) (*model.Customer, error) {
	var entity CustomerEntity
	err := r.Write(ctx).WithContext(ctx).
		Where("email = ?", input.Email).
		First(&entity).
		Error
	if err == nil {
		return toCustomerModel(&entity), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	entity = CustomerEntity{
		ID:        uuid.NewString(),
		Email:     input.Email,
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Phone:     input.Phone,
	}
	if err := r.Write(ctx).WithContext(ctx).Create(&entity).Error; err != nil {
		// Lost a race on the unique email index; the winner's row wins.
		var existing CustomerEntity
		if ferr := r.Write(ctx).WithContext(ctx).Where("email = ?", input.Email).First(&existing).Error; ferr == nil {
			return toCustomerModel(&existing), nil
		}
		return nil, err
	}

	return toCustomerModel(&entity), nil
}

func (r *CustomerRepository) FindByID(ctx context.Context, id string) (*model.Customer, error) {
	var entity CustomerEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toCustomerModel(&entity), nil
}
