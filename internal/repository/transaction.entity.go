package repository

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/orbitpay/payment-gateway/internal/model"
)

// JSONMap stores merchant-supplied metadata as an opaque JSON document.
// The orchestrator never parses it.
type JSONMap map[string]string

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported metadata column type %T", value)
	}
}

type TransactionEntity struct {
	ID                   string    `db:"id"                     gorm:"primaryKey;type:uuid;column:id"`
	MerchantID           string    `db:"merchant_id"            gorm:"column:merchant_id;not null;index"`
	CustomerID           *string   `db:"customer_id"            gorm:"column:customer_id;type:uuid;index"`
	PaymentMethodID      *string   `db:"payment_method_id"      gorm:"column:payment_method_id;type:uuid"`
	Amount               int64     `db:"amount"                 gorm:"column:amount;not null"`
	Currency             string    `db:"currency"               gorm:"column:currency;size:3;not null"`
	Status               string    `db:"status"                 gorm:"column:status;not null;index"`
	Type                 string    `db:"type"                   gorm:"column:type;not null"`
	GatewayTransactionID string    `db:"gateway_transaction_id" gorm:"column:gateway_transaction_id"`
	ReferenceID          string    `db:"reference_id"           gorm:"column:reference_id;index"`
	Description          string    `db:"description"            gorm:"column:description"`
	Metadata             JSONMap   `db:"metadata"               gorm:"column:metadata;type:text"`
	CreatedAt            time.Time `db:"created_at"             gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time `db:"updated_at"             gorm:"column:updated_at;autoUpdateTime"`

	Events        []*TransactionEventEntity `gorm:"foreignKey:TransactionID"`
	Customer      *CustomerEntity           `gorm:"foreignKey:CustomerID;references:ID"`
	PaymentMethod *PaymentMethodEntity      `gorm:"foreignKey:PaymentMethodID;references:ID"`
}

func (TransactionEntity) TableName() string {
	return "transactions"
}

type TransactionEventEntity struct {
	ID              string    `db:"id"               gorm:"primaryKey;type:uuid;column:id"`
	TransactionID   string    `db:"transaction_id"   gorm:"column:transaction_id;type:uuid;not null;index"`
	EventType       string    `db:"event_type"       gorm:"column:event_type;not null"`
	Status          string    `db:"status"           gorm:"column:status;not null"`
	GatewayResponse JSONMap   `db:"gateway_response" gorm:"column:gateway_response;type:text"`
	CreatedAt       time.Time `db:"created_at"       gorm:"column:created_at;autoCreateTime"`
}

func (TransactionEventEntity) TableName() string {
	return "transaction_events"
}

func toTransactionEntity(m *model.Transaction) *TransactionEntity {
	if m == nil {
		return nil
	}
	return &TransactionEntity{
		ID:                   m.ID,
		MerchantID:           m.MerchantID,
		CustomerID:           m.CustomerID,
		PaymentMethodID:      m.PaymentMethodID,
		Amount:               m.Amount,
		Currency:             m.Currency,
		Status:               string(m.Status),
		Type:                 string(m.Type),
		GatewayTransactionID: m.GatewayTransactionID,
		ReferenceID:          m.ReferenceID,
		Description:          m.Description,
		Metadata:             JSONMap(m.Metadata),
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

func toTransactionModel(e *TransactionEntity) *model.Transaction {
	if e == nil {
		return nil
	}
	m := &model.Transaction{
		ID:                   e.ID,
		MerchantID:           e.MerchantID,
		CustomerID:           e.CustomerID,
		PaymentMethodID:      e.PaymentMethodID,
		Amount:               e.Amount,
		Currency:             e.Currency,
		Status:               model.TransactionStatus(e.Status),
		Type:                 model.TransactionType(e.Type),
		GatewayTransactionID: e.GatewayTransactionID,
		ReferenceID:          e.ReferenceID,
		Description:          e.Description,
		Metadata:             map[string]string(e.Metadata),
		CreatedAt:            e.CreatedAt,
		UpdatedAt:            e.UpdatedAt,
		Customer:             toCustomerModel(e.Customer),
		PaymentMethod:        toPaymentMethodModel(e.PaymentMethod),
	}
	for _, ev := range e.Events {
		m.Events = append(m.Events, *toEventModel(ev))
	}
	return m
}

func toTransactionModels(entities []*TransactionEntity) []*model.Transaction {
	if entities == nil {
		return nil
	}
	models := make([]*model.Transaction, len(entities))
	for i, e := range entities {
		models[i] = toTransactionModel(e)
	}
	return models
}

func toEventModel(e *TransactionEventEntity) *model.TransactionEvent {
	if e == nil {
		return nil
	}
	return &model.TransactionEvent{
		ID:              e.ID,
		TransactionID:   e.TransactionID,
		EventType:       e.EventType,
		Status:          model.TransactionStatus(e.Status),
		GatewayResponse: map[string]string(e.GatewayResponse),
		CreatedAt:       e.CreatedAt,
	}
}
