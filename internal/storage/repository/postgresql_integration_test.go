package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/crypto-subscriptions/internal/models"
)

func testPayment(userUID, clientPaymentID string, amount int64, status models.PaymentStatus,
	expiration time.Time) models.Payment {
	return models.Payment{
		UserUID:         userUID,
		Purpose:         models.PurposeSubscription,
		Level:           models.LevelPro,
		PaymentMethod:   "crypto",
		ClientPaymentID: clientPaymentID,
		Amount:          amount,
		Currency:        models.CurrencyUSDTTRC20,
		Status:          status,
		CreatedAt:       time.Now().UTC(),
		ExpirationTime:  expiration,
	}
}

func TestStorage_FindPaymentByClientID(t *testing.T) {
	type args struct {
		ctx             context.Context
		clientPaymentID string
	}

	tests := []struct {
		name       string
		args       args
		wantAmount int64
		wantErr    error
		setup      func(t *testing.T, factory *TestDataFactory)
	}{
		{
			name: "successful find existing payment",
			args: args{
				ctx:             context.Background(),
				clientPaymentID: "cp-1",
			},
			wantAmount: 1001,
			setup: func(t *testing.T, factory *TestDataFactory) {
				userUID := uuid.New().String()
				factory.CreateUser(t, userUID, "testuser", "test@example.com", "user",
					time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC))
				factory.CreatePayment(t, testPayment(userUID, "cp-1", 1001,
					models.PaymentPending, time.Now().Add(30*time.Minute)))
			},
		},
		{
			name: "find non-existing payment",
			args: args{
				ctx:             context.Background(),
				clientPaymentID: "missing",
			},
			wantErr: ErrPaymentNotFound,
			setup:   func(_ *testing.T, _ *TestDataFactory) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, cleanup := setupTestDatabase(t)
			defer cleanup()

			factory := NewTestDataFactory(storage)
			tt.setup(t, factory)

			got, err := storage.FindPaymentByClientID(tt.args.ctx, tt.args.clientPaymentID)

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.Equal(t, tt.wantAmount, got.Amount)
				assert.Equal(t, models.PaymentPending, got.Status)
				assert.Nil(t, got.TransactionID)
			}
		})
	}
}

func TestStorage_HasPendingAmount(t *testing.T) {
	tests := []struct {
		name     string
		amount   int64
		currency models.Currency
		want     bool
		setup    func(t *testing.T, factory *TestDataFactory)
	}{
		{
			name:     "amount taken by pending payment",
			amount:   1001,
			currency: models.CurrencyUSDTTRC20,
			want:     true,
			setup: func(t *testing.T, factory *TestDataFactory) {
				userUID := uuid.New().String()
				factory.CreateUser(t, userUID, "testuser", "test@example.com", "user",
					time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC))
				factory.CreatePayment(t, testPayment(userUID, "cp-1", 1001,
					models.PaymentPending, time.Now().Add(30*time.Minute)))
			},
		},
		{
			name:     "same amount in another currency is free",
			amount:   1001,
			currency: models.CurrencyUSDTBEP20,
			want:     false,
			setup: func(t *testing.T, factory *TestDataFactory) {
				userUID := uuid.New().String()
				factory.CreateUser(t, userUID, "testuser", "test@example.com", "user",
					time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC))
				factory.CreatePayment(t, testPayment(userUID, "cp-1", 1001,
					models.PaymentPending, time.Now().Add(30*time.Minute)))
			},
		},
		{
			name:     "confirmed payment does not hold the amount",
			amount:   1001,
			currency: models.CurrencyUSDTTRC20,
			want:     false,
			setup: func(t *testing.T, factory *TestDataFactory) {
				userUID := uuid.New().String()
				factory.CreateUser(t, userUID, "testuser", "test@example.com", "user",
					time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC))
				factory.CreatePayment(t, testPayment(userUID, "cp-1", 1001,
					models.PaymentConfirmed, time.Now().Add(30*time.Minute)))
			},
		},
		{
			// Пока фоновая задача не перевела платёж в expired, его строка
			// удерживает сумму в уникальном индексе, и вставка поверх неё
			// невозможна.
			name:     "expired but unswept payment still holds the amount",
			amount:   1001,
			currency: models.CurrencyUSDTTRC20,
			want:     true,
			setup: func(t *testing.T, factory *TestDataFactory) {
				userUID := uuid.New().String()
				factory.CreateUser(t, userUID, "testuser", "test@example.com", "user",
					time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC))
				factory.CreatePayment(t, testPayment(userUID, "cp-1", 1001,
					models.PaymentPending, time.Now().Add(-time.Minute)))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, cleanup := setupTestDatabase(t)
			defer cleanup()

			factory := NewTestDataFactory(storage)
			tt.setup(t, factory)

			got, err := storage.HasPendingAmount(context.Background(), tt.amount, tt.currency)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStorage_ExpireDuePayments(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	userUID := uuid.New().String()
	factory.CreateUser(t, userUID, "testuser", "test@example.com", "user",
		time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC))

	now := time.Now().UTC()
	factory.CreatePayment(t, testPayment(userUID, "due-1", 1001, models.PaymentPending, now.Add(-time.Minute)))
	factory.CreatePayment(t, testPayment(userUID, "due-2", 1002, models.PaymentPending, now.Add(-time.Hour)))
	factory.CreatePayment(t, testPayment(userUID, "fresh", 1003, models.PaymentPending, now.Add(time.Hour)))
	factory.CreatePayment(t, testPayment(userUID, "done", 1004, models.PaymentConfirmed, now.Add(-time.Hour)))

	expired, err := storage.ExpireDuePayments(context.Background(), now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"due-1", "due-2"}, expired)

	verification := NewTestVerification(storage)
	verification.VerifyPaymentStatus(t, "due-1", models.PaymentExpired)
	verification.VerifyPaymentStatus(t, "due-2", models.PaymentExpired)
	verification.VerifyPaymentStatus(t, "fresh", models.PaymentPending)
	verification.VerifyPaymentStatus(t, "done", models.PaymentConfirmed)
}

func TestStorage_ConfirmPaymentTx(t *testing.T) {
	tests := []struct {
		name          string
		initialStatus models.PaymentStatus
		fnErr         error
		wantConfirmed bool
		wantErr       bool
		wantStatus    models.PaymentStatus
		wantFnCalled  bool
	}{
		{
			name:          "successful confirmation runs callback in same transaction",
			initialStatus: models.PaymentPending,
			wantConfirmed: true,
			wantStatus:    models.PaymentConfirmed,
			wantFnCalled:  true,
		},
		{
			name:          "already confirmed payment is a no-op",
			initialStatus: models.PaymentConfirmed,
			wantConfirmed: false,
			wantStatus:    models.PaymentConfirmed,
		},
		{
			name:          "expired payment is not confirmed",
			initialStatus: models.PaymentExpired,
			wantConfirmed: false,
			wantStatus:    models.PaymentExpired,
		},
		{
			name:          "callback error rolls the confirmation back",
			initialStatus: models.PaymentPending,
			fnErr:         errors.New("reconcile failed"),
			wantErr:       true,
			wantStatus:    models.PaymentPending,
			wantFnCalled:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, cleanup := setupTestDatabase(t)
			defer cleanup()

			factory := NewTestDataFactory(storage)
			userUID := uuid.New().String()
			factory.CreateUser(t, userUID, "testuser", "test@example.com", "user",
				time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC))
			factory.CreatePayment(t, testPayment(userUID, "cp-1", 1001,
				tt.initialStatus, time.Now().Add(30*time.Minute)))

			fnCalled := false
			confirmed, err := storage.ConfirmPaymentTx(context.Background(), "cp-1", "0xdeadbeef",
				func(_ *sql.Tx, payment *models.Payment) error {
					fnCalled = true
					assert.Equal(t, models.PaymentConfirmed, payment.Status)
					assert.Equal(t, userUID, payment.UserUID)
					require.NotNil(t, payment.TransactionID)
					assert.Equal(t, "0xdeadbeef", *payment.TransactionID)
					return tt.fnErr
				})

			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantConfirmed, confirmed)
			assert.Equal(t, tt.wantFnCalled, fnCalled)

			verification := NewTestVerification(storage)
			verification.VerifyPaymentStatus(t, "cp-1", tt.wantStatus)
		})
	}
}

func TestStorage_ActiveSubscription(t *testing.T) {
	tests := []struct {
		name      string
		wantLevel models.SubscriptionLevel
		wantErr   error
		setup     func(t *testing.T, factory *TestDataFactory, userUID string)
	}{
		{
			name:      "returns the latest active subscription",
			wantLevel: models.LevelPro,
			setup: func(t *testing.T, factory *TestDataFactory, userUID string) {
				factory.CreateSubscription(t, userUID, models.LevelBasic,
					time.Now().Add(-48*time.Hour), time.Now().Add(-time.Hour), nil)
				factory.CreateSubscription(t, userUID, models.LevelPro,
					time.Now().Add(-time.Hour), time.Now().Add(24*time.Hour), nil)
			},
		},
		{
			name:    "expired subscription is not active",
			wantErr: ErrSubscriptionNotFound,
			setup: func(t *testing.T, factory *TestDataFactory, userUID string) {
				factory.CreateSubscription(t, userUID, models.LevelBasic,
					time.Now().Add(-48*time.Hour), time.Now().Add(-time.Hour), nil)
			},
		},
		{
			name:      "queued lower level does not shadow the current period",
			wantLevel: models.LevelPro,
			setup: func(t *testing.T, factory *TestDataFactory, userUID string) {
				proExpiry := time.Now().Add(24 * time.Hour)
				factory.CreateSubscription(t, userUID, models.LevelPro,
					time.Now().Add(-time.Hour), proExpiry, nil)
				factory.CreateSubscription(t, userUID, models.LevelBasic,
					proExpiry, proExpiry.Add(30*24*time.Hour), nil)
			},
		},
		{
			name:      "queued period takes over once the previous one ends",
			wantLevel: models.LevelBasic,
			setup: func(t *testing.T, factory *TestDataFactory, userUID string) {
				proExpiry := time.Now().Add(-time.Hour)
				factory.CreateSubscription(t, userUID, models.LevelPro,
					time.Now().Add(-31*24*time.Hour), proExpiry, nil)
				factory.CreateSubscription(t, userUID, models.LevelBasic,
					proExpiry, proExpiry.Add(30*24*time.Hour), nil)
			},
		},
		{
			name:    "user without subscriptions",
			wantErr: ErrSubscriptionNotFound,
			setup:   func(_ *testing.T, _ *TestDataFactory, _ string) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, cleanup := setupTestDatabase(t)
			defer cleanup()

			factory := NewTestDataFactory(storage)
			userUID := uuid.New().String()
			factory.CreateUser(t, userUID, "testuser", "test@example.com", "user",
				time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC))
			tt.setup(t, factory, userUID)

			got, err := storage.ActiveSubscription(context.Background(), userUID, time.Now())

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.Equal(t, tt.wantLevel, got.Level)
			}
		})
	}
}

func TestStorage_ExtendAndCloseSubscriptionTx(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	userUID := uuid.New().String()
	factory.CreateUser(t, userUID, "testuser", "test@example.com", "user",
		time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC))

	oldExpiry := time.Now().UTC().Add(10 * 24 * time.Hour)
	subID := factory.CreateSubscription(t, userUID, models.LevelBasic, time.Now().UTC(), oldExpiry, nil)
	paymentID := factory.CreatePayment(t, testPayment(userUID, "cp-1", 1001,
		models.PaymentConfirmed, time.Now().Add(30*time.Minute)))

	tx, err := storage.DB.BeginTx(context.Background(), nil)
	require.NoError(t, err)

	newExpiry := oldExpiry.Add(30 * 24 * time.Hour)
	rows, err := storage.ExtendSubscriptionTx(context.Background(), tx, subID, newExpiry, paymentID)
	require.NoError(t, err)
	assert.Equal(t, 1, rows)
	require.NoError(t, tx.Commit())

	verification := NewTestVerification(storage)
	verification.VerifySubscriptionExpiry(t, subID, newExpiry)

	// Досрочное завершение при повышении уровня.
	tx, err = storage.DB.BeginTx(context.Background(), nil)
	require.NoError(t, err)

	closedAt := time.Now().UTC()
	rows, err = storage.CloseSubscriptionTx(context.Background(), tx, subID, closedAt)
	require.NoError(t, err)
	assert.Equal(t, 1, rows)
	require.NoError(t, tx.Commit())

	verification.VerifySubscriptionExpiry(t, subID, closedAt)
}

func TestStorage_FindActiveDiscountByCode(t *testing.T) {
	future := time.Now().Add(24 * time.Hour)
	past := time.Now().Add(-24 * time.Hour)

	tests := []struct {
		name    string
		code    string
		wantErr error
		setup   func(t *testing.T, factory *TestDataFactory)
	}{
		{
			name: "active discount without expiry",
			code: "SAVE10",
			setup: func(t *testing.T, factory *TestDataFactory) {
				factory.CreateDiscount(t, "SAVE10", 10, nil, true)
			},
		},
		{
			name: "active discount with future expiry",
			code: "SAVE20",
			setup: func(t *testing.T, factory *TestDataFactory) {
				factory.CreateDiscount(t, "SAVE20", 20, &future, true)
			},
		},
		{
			name:    "expired discount",
			code:    "OLD",
			wantErr: ErrDiscountNotFound,
			setup: func(t *testing.T, factory *TestDataFactory) {
				factory.CreateDiscount(t, "OLD", 15, &past, true)
			},
		},
		{
			name:    "deactivated discount",
			code:    "DISABLED",
			wantErr: ErrDiscountNotFound,
			setup: func(t *testing.T, factory *TestDataFactory) {
				factory.CreateDiscount(t, "DISABLED", 15, nil, false)
			},
		},
		{
			name:    "unknown code",
			code:    "NOPE",
			wantErr: ErrDiscountNotFound,
			setup:   func(_ *testing.T, _ *TestDataFactory) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, cleanup := setupTestDatabase(t)
			defer cleanup()

			factory := NewTestDataFactory(storage)
			tt.setup(t, factory)

			got, err := storage.FindActiveDiscountByCode(context.Background(), tt.code, time.Now())

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.Equal(t, tt.code, got.Code)
			}
		})
	}
}

func TestStorage_ListDiscounts(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	userUID := uuid.New().String()
	factory.CreateUser(t, userUID, "testuser", "test@example.com", "user",
		time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC))

	usedID := factory.CreateDiscount(t, "USED", 10, nil, true)
	factory.CreateDiscount(t, "UNUSED", 20, nil, true)

	payment := testPayment(userUID, "cp-1", 901, models.PaymentConfirmed, time.Now().Add(30*time.Minute))
	payment.DiscountID = &usedID
	factory.CreatePayment(t, payment)
	payment2 := testPayment(userUID, "cp-2", 902, models.PaymentExpired, time.Now().Add(30*time.Minute))
	payment2.DiscountID = &usedID
	factory.CreatePayment(t, payment2)

	got, err := storage.ListDiscounts(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	counts := make(map[string]int)
	for _, info := range got {
		counts[info.Code] = info.UsageCount
	}
	assert.Equal(t, 2, counts["USED"])
	assert.Equal(t, 0, counts["UNUSED"])
}

func TestStorage_ArchiveOldPosts(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	factory := NewTestDataFactory(storage)
	now := time.Now().UTC()
	factory.CreatePost(t, now.Add(-48*time.Hour), "basic")
	factory.CreatePost(t, now.Add(-36*time.Hour), "basic")
	factory.CreatePost(t, now.Add(-1*time.Hour), "basic")
	factory.CreatePost(t, now.Add(-48*time.Hour), "archive") // уже в архиве

	archived, err := storage.ArchiveOldPosts(context.Background(), now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, archived)

	var remaining int
	err = storage.DB.QueryRow("SELECT COUNT(*) FROM posts WHERE content_type = 'basic'").Scan(&remaining)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}
