package repository

import (
	"time"

	"github.com/orbitpay/payment-gateway/internal/model"
)

type CustomerEntity struct {
	ID        string    `db:"id"         gorm:"primaryKey;type:uuid;column:id"`
	Email     string    `db:"email"      gorm:"column:email;not null;uniqueIndex"`
	FirstName string    `db:"first_name" gorm:"column:first_name"`
	LastName  string    `db:"last_name"  gorm:"column:last_name"`
	Phone     string    `db:"phone"      gorm:"column:phone"`
	CreatedAt time.Time `db:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (CustomerEntity) TableName() string {
	return "customers"
}

type PaymentMethodEntity struct {
	ID         string    `db:"id"          gorm:"primaryKey;type:uuid;column:id"`
	Type       string    `db:"type"        gorm:"column:type;not null"`
	Token      string    `db:"token"       gorm:"column:token;not null"`
	CustomerID *string   `db:"customer_id" gorm:"column:customer_id;type:uuid;index"`
	CreatedAt  time.Time `db:"created_at"  gorm:"column:created_at;autoCreateTime"`
}

func (PaymentMethodEntity) TableName() string {
	return "payment_methods"
}

func toCustomerModel(e *CustomerEntity) *model.Customer {
	if e == nil {
		return nil
	}
	return &model.Customer{
		ID:        e.ID,
		Email:     e.Email,
		FirstName: e.FirstName,
		LastName:  e.LastName,
		Phone:     e.Phone,
		CreatedAt: e.CreatedAt,
	}
}

func toPaymentMethodModel(e *PaymentMethodEntity) *model.PaymentMethod {
	if e == nil {
		return nil
	}
	return &model.PaymentMethod{
		ID:         e.ID,
		Type:       model.PaymentMethodType(e.Type),
		Token:      e.Token,
		CustomerID: e.CustomerID,
		CreatedAt:  e.CreatedAt,
	}
}
