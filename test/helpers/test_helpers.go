package helpers

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/orbitpay/payment-gateway/internal/repository"
	"github.com/orbitpay/payment-gateway/pkg/pg"
	"github.com/orbitpay/payment-gateway/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func SetupTestDB(t *testing.T) *pg.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&repository.CustomerEntity{},
		&repository.PaymentMethodEntity{},
		&repository.TransactionEntity{},
		&repository.TransactionEventEntity{},
	)
	require.NoError(t, err)

	pgDB := &pg.DB{}
	pgDBValue := reflect.ValueOf(pgDB).Elem()

	readField := pgDBValue.FieldByName("read")
	writeField := pgDBValue.FieldByName("write")

	readField = reflect.NewAt(readField.Type(), readField.Addr().UnsafePointer()).Elem()
	writeField = reflect.NewAt(writeField.Type(), writeField.Addr().UnsafePointer()).Elem()

	readField.Set(reflect.ValueOf(db))
	writeField.Set(reflect.ValueOf(db))

	return pgDB
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	adapter, err := redis.NewRedisAdapter("test", "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func CreateTestCustomer(t *testing.T, db *pg.DB, email string) *repository.CustomerEntity {
	ctx := context.Background()
	customer := &repository.CustomerEntity{
		ID:        uuid.New().String(),
		Email:     email,
		FirstName: "Test",
		LastName:  "Customer",
	}
	err := db.Write(ctx).Create(customer).Error
	require.NoError(t, err)
	return customer
}

func CreateTestPaymentMethod(t *testing.T, db *pg.DB, customerID string, methodType string) *repository.PaymentMethodEntity {
	ctx := context.Background()
	method := &repository.PaymentMethodEntity{
		ID:         uuid.New().String(),
		Type:       methodType,
		Token:      "tok_" + uuid.New().String()[:8],
		CustomerID: &customerID,
	}
	err := db.Write(ctx).Create(method).Error
	require.NoError(t, err)
	return method
}

func CreateTestTransaction(t *testing.T, db *pg.DB, merchantID string, amount int64, status string) *repository.TransactionEntity {
	ctx := context.Background()
	txn := &repository.TransactionEntity{
		ID:         uuid.New().String(),
		MerchantID: merchantID,
		Amount:     amount,
		Currency:   "USD",
		Status:     status,
		Type:       "payment",
		CreatedAt:  time.Now(),
	}
	err := db.Write(ctx).Create(txn).Error
	require.NoError(t, err)
	return txn
}

func CreateTestRefund(t *testing.T, db *pg.DB, original *repository.TransactionEntity, amount int64) *repository.TransactionEntity {
	ctx := context.Background()
	refund := &repository.TransactionEntity{
		ID:          uuid.New().String(),
		MerchantID:  original.MerchantID,
		Amount:      -amount,
		Currency:    original.Currency,
		Status:      "captured",
		Type:        "refund",
		ReferenceID: original.ID,
		CreatedAt:   time.Now(),
	}
	err := db.Write(ctx).Create(refund).Error
	require.NoError(t, err)
	return refund
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func Ptr[T any](v T) *T {
	return &v
}
