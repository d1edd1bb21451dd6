package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/orbitpay/payment-gateway/internal/model"
	"github.com/orbitpay/payment-gateway/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned for unknown ids and for cross-merchant
	// lookups alike, so existence never leaks across merchants.
	ErrNotFound = errors.New("transaction not found")

	// ErrConcurrentUpdate means a conditional update matched no row.
	ErrConcurrentUpdate = errors.New("concurrent update detected")
)

type TransactionRepository struct {
	*pg.DB
}

func NewTransactionRepository(db *pg.DB) *TransactionRepository {
	return &TransactionRepository{
		db,
	}
}

func (r *TransactionRepository) Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	entity := toTransactionEntity(txn)
	if entity.ID == "" {
		entity.ID = uuid.NewString()
	}

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toTransactionModel(entity), nil
}

// FindByID loads a bare transaction scoped to its merchant.
func (r *TransactionRepository) FindByID(ctx context.Context, id, merchantID string) (*model.Transaction, error) {
	var entity TransactionEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ? AND merchant_id = ?", id, merchantID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toTransactionModel(&entity), nil
}

// FindByIDForUpdate loads the row with a pessimistic lock. It must be
// called inside WithinTransaction; concurrent mutating operations on the
// same transaction serialize behind the row lock, so the loser observes
// the winner's final state when its own read completes.
func (r *TransactionRepository) FindByIDForUpdate(ctx context.Context, id, merchantID string) (*model.Transaction, error) {
	var entity TransactionEntity
	err := r.Write(ctx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND merchant_id = ?", id, merchantID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toTransactionModel(&entity), nil
}

// FindDetailed loads a transaction joined with its audit events,
// customer and payment method.
func (r *TransactionRepository) FindDetailed(ctx context.Context, id, merchantID string) (*model.Transaction, error) {
	var entity TransactionEntity
	err := r.Read(ctx).WithContext(ctx).
		Preload("Events", func(db *gorm.DB) *gorm.DB {
			return db.Order("transaction_events.created_at ASC")
		}).
		Preload("Customer").
		Preload("PaymentMethod").
		Where("id = ? AND merchant_id = ?", id, merchantID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toTransactionModel(&entity), nil
}

func (r *TransactionRepository) List(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&TransactionEntity{}).
		Where("merchant_id = ?", f.MerchantID)

	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.Type != nil {
		q = q.Where("type = ?", *f.Type)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}

	// Count before pagination
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*TransactionEntity
	err := q.
		Preload("Events", func(db *gorm.DB) *gorm.DB {
			return db.Order("transaction_events.created_at ASC")
		}).
		Preload("Customer").
		Preload("PaymentMethod").
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&entities).
		Error
	if err != nil {
		return nil, 0, err
	}

	return toTransactionModels(entities), total, nil
}

// UpdateStatus moves a transaction along the from -> to edge and appends
// the matching audit event in the same logical unit. Callers run it inside
// WithinTransaction so an observer never sees one without the other.
//
// The write is conditional on the row still holding the from status. If a
// concurrent operation moved the row first, no row matches and the caller
// gets ErrConcurrentUpdate instead of silently overwriting the winner.
func (r *TransactionRepository) UpdateStatus(ctx context.Context, id string, from, to model.TransactionStatus, gatewayTxnID string, gatewayResponse map[string]string) error {
	if err := model.ValidateTransition(from, to); err != nil {
		return err
	}

	patch := map[string]interface{}{"status": string(to)}
	if gatewayTxnID != "" {
		patch["gateway_transaction_id"] = gatewayTxnID
	}

	result := r.Write(ctx).WithContext(ctx).
		Model(&TransactionEntity{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(patch)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}

	event := &TransactionEventEntity{
		ID:              uuid.NewString(),
		TransactionID:   id,
		EventType:       "transaction." + string(to),
		Status:          string(to),
		GatewayResponse: JSONMap(gatewayResponse),
	}
	return r.Write(ctx).WithContext(ctx).Create(event).Error
}

// UpdateAmount rewrites a transaction's amount. Used when a partial
// capture settles for less than the authorized amount, so later refund
// accounting runs against what actually moved.
func (r *TransactionRepository) UpdateAmount(ctx context.Context, id string, amount int64) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&TransactionEntity{}).
		Where("id = ?", id).
		Update("amount", amount)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

// SumRefunded returns the cumulative refunded magnitude for a payment,
// summing every refund row that references it. Refund rows store
// negative amounts, so the sum is negated.
func (r *TransactionRepository) SumRefunded(ctx context.Context, referenceID string) (int64, error) {
	var total int64
	err := r.Write(ctx).WithContext(ctx).
		Model(&TransactionEntity{}).
		Select("COALESCE(-SUM(amount), 0)").
		Where("reference_id = ? AND type = ?", referenceID, string(model.TypeRefund)).
		Scan(&total).
		Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// CountRefunds returns how many refund rows reference a payment. Used to
// build per-refund idempotency keys.
func (r *TransactionRepository) CountRefunds(ctx context.Context, referenceID string) (int64, error) {
	var n int64
	err := r.Write(ctx).WithContext(ctx).
		Model(&TransactionEntity{}).
		Where("reference_id = ? AND type = ?", referenceID, string(model.TypeRefund)).
		Count(&n).
		Error
	return n, err
}
