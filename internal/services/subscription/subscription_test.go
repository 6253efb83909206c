package subscription

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/crypto-subscriptions/internal/models"
	"github.com/magabrotheeeer/crypto-subscriptions/internal/storage/repository"
)

// MockRepository реализует Repository для тестов.
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) ActiveSubscription(ctx context.Context, userUID string, now time.Time) (*models.Subscription, error) {
	args := m.Called(ctx, userUID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockRepository) ActiveSubscriptionTx(ctx context.Context, tx *sql.Tx, userUID string, now time.Time) (*models.Subscription, error) {
	args := m.Called(ctx, tx, userUID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockRepository) CreateSubscriptionTx(ctx context.Context, tx *sql.Tx, sub models.Subscription) (int, error) {
	args := m.Called(ctx, tx, sub)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) ExtendSubscriptionTx(ctx context.Context, tx *sql.Tx, id int, newExpiry time.Time, paymentID int) (int, error) {
	args := m.Called(ctx, tx, id, newExpiry, paymentID)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) CloseSubscriptionTx(ctx context.Context, tx *sql.Tx, id int, closedAt time.Time) (int, error) {
	args := m.Called(ctx, tx, id, closedAt)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) ListUserSubscriptions(ctx context.Context, userUID string, limit, offset int) ([]*models.Subscription, error) {
	args := m.Called(ctx, userUID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Subscription), args.Error(1)
}

// MockCache реализует Cache для тестов.
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(key string, result any) (bool, error) {
	args := m.Called(key, result)
	return args.Bool(0), args.Error(1)
}

func (m *MockCache) Set(key string, value any, expiration time.Duration) error {
	args := m.Called(key, value, expiration)
	return args.Error(0)
}

func (m *MockCache) Invalidate(key string) error {
	args := m.Called(key)
	return args.Error(0)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func subscriptionPayment(level models.SubscriptionLevel) *models.Payment {
	return &models.Payment{
		ID:              42,
		UserUID:         "user-1",
		Purpose:         models.PurposeSubscription,
		Level:           level,
		ClientPaymentID: "pay-1",
		Amount:          1000,
		Currency:        models.CurrencyUSDTTRC20,
		Status:          models.PaymentConfirmed,
	}
}

func TestReconcileTx(t *testing.T) {
	activeExpiry := time.Now().UTC().Add(10 * 24 * time.Hour)

	tests := []struct {
		name       string
		payment    *models.Payment
		setupMocks func(repo *MockRepository, cache *MockCache)
		wantErr    bool
	}{
		{
			name: "non-subscription purpose is a no-op",
			payment: &models.Payment{
				ID: 1, UserUID: "user-1", Purpose: models.PurposeOther,
			},
			setupMocks: func(_ *MockRepository, _ *MockCache) {},
		},
		{
			name:       "invalid level fails",
			payment:    subscriptionPayment("gold"),
			setupMocks: func(_ *MockRepository, _ *MockCache) {},
			wantErr:    true,
		},
		{
			name:    "no active subscription creates a new one",
			payment: subscriptionPayment(models.LevelBasic),
			setupMocks: func(repo *MockRepository, cache *MockCache) {
				repo.On("ActiveSubscriptionTx", mock.Anything, mock.Anything, "user-1", mock.Anything).
					Return(nil, repository.ErrSubscriptionNotFound)
				repo.On("CreateSubscriptionTx", mock.Anything, mock.Anything,
					mock.MatchedBy(func(sub models.Subscription) bool {
						return sub.UserUID == "user-1" &&
							sub.Level == models.LevelBasic &&
							sub.PaymentID != nil && *sub.PaymentID == 42 &&
							time.Since(sub.StartsAt) < time.Minute &&
							time.Until(sub.ExpiryDate) > 29*24*time.Hour
					})).Return(1, nil)
				cache.On("Invalidate", "subscription:active:user-1").Return(nil)
			},
		},
		{
			name:    "same level extends from current expiry",
			payment: subscriptionPayment(models.LevelPro),
			setupMocks: func(repo *MockRepository, cache *MockCache) {
				repo.On("ActiveSubscriptionTx", mock.Anything, mock.Anything, "user-1", mock.Anything).
					Return(&models.Subscription{ID: 5, UserUID: "user-1",
						Level: models.LevelPro, ExpiryDate: activeExpiry}, nil)
				repo.On("ExtendSubscriptionTx", mock.Anything, mock.Anything, 5,
					activeExpiry.Add(30*24*time.Hour), 42).Return(1, nil)
				cache.On("Invalidate", "subscription:active:user-1").Return(nil)
			},
		},
		{
			name:    "higher level closes the old row and starts a full period",
			payment: subscriptionPayment(models.LevelPremium),
			setupMocks: func(repo *MockRepository, cache *MockCache) {
				repo.On("ActiveSubscriptionTx", mock.Anything, mock.Anything, "user-1", mock.Anything).
					Return(&models.Subscription{ID: 5, UserUID: "user-1",
						Level: models.LevelPro, ExpiryDate: activeExpiry}, nil)
				repo.On("CloseSubscriptionTx", mock.Anything, mock.Anything, 5, mock.Anything).
					Return(1, nil)
				repo.On("CreateSubscriptionTx", mock.Anything, mock.Anything,
					mock.MatchedBy(func(sub models.Subscription) bool {
						return sub.Level == models.LevelPremium &&
							time.Since(sub.StartsAt) < time.Minute &&
							time.Until(sub.ExpiryDate) > 29*24*time.Hour
					})).Return(6, nil)
				cache.On("Invalidate", "subscription:active:user-1").Return(nil)
			},
		},
		{
			name:    "lower level is queued after the active period",
			payment: subscriptionPayment(models.LevelBasic),
			setupMocks: func(repo *MockRepository, cache *MockCache) {
				repo.On("ActiveSubscriptionTx", mock.Anything, mock.Anything, "user-1", mock.Anything).
					Return(&models.Subscription{ID: 5, UserUID: "user-1",
						Level: models.LevelPro, ExpiryDate: activeExpiry}, nil)
				repo.On("CreateSubscriptionTx", mock.Anything, mock.Anything,
					mock.MatchedBy(func(sub models.Subscription) bool {
						return sub.Level == models.LevelBasic &&
							sub.StartsAt.Equal(activeExpiry) &&
							sub.ExpiryDate.Equal(activeExpiry.Add(30*24*time.Hour))
					})).Return(7, nil)
				cache.On("Invalidate", "subscription:active:user-1").Return(nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			cache := new(MockCache)
			tt.setupMocks(repo, cache)
			svc := New(repo, cache, 30, newNoopLogger())

			err := svc.ReconcileTx(context.Background(), nil, tt.payment)

			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			repo.AssertExpectations(t)
			cache.AssertExpectations(t)
		})
	}
}

func TestStatus(t *testing.T) {
	expiry := time.Now().UTC().Add(7 * 24 * time.Hour)

	tests := []struct {
		name       string
		setupMocks func(repo *MockRepository, cache *MockCache)
		want       *models.SubscriptionStatusInfo
	}{
		{
			name: "cache hit skips the repository",
			setupMocks: func(_ *MockRepository, cache *MockCache) {
				cache.On("Get", "subscription:active:user-1", mock.Anything).
					Run(func(args mock.Arguments) {
						info := args.Get(1).(*models.SubscriptionStatusInfo)
						info.Active = true
						info.Level = models.LevelPro
						info.ExpiryDate = &expiry
					}).Return(true, nil)
			},
			want: &models.SubscriptionStatusInfo{Active: true, Level: models.LevelPro, ExpiryDate: &expiry},
		},
		{
			name: "cache miss reads the repository and caches the result",
			setupMocks: func(repo *MockRepository, cache *MockCache) {
				cache.On("Get", "subscription:active:user-1", mock.Anything).Return(false, nil)
				repo.On("ActiveSubscription", mock.Anything, "user-1", mock.Anything).
					Return(&models.Subscription{ID: 3, UserUID: "user-1",
						Level: models.LevelBasic, ExpiryDate: expiry}, nil)
				cache.On("Set", "subscription:active:user-1", mock.Anything, 5*time.Minute).
					Return(nil)
			},
			want: &models.SubscriptionStatusInfo{Active: true, Level: models.LevelBasic, ExpiryDate: &expiry},
		},
		{
			name: "no active subscription is not cached",
			setupMocks: func(repo *MockRepository, cache *MockCache) {
				cache.On("Get", "subscription:active:user-1", mock.Anything).Return(false, nil)
				repo.On("ActiveSubscription", mock.Anything, "user-1", mock.Anything).
					Return(nil, repository.ErrSubscriptionNotFound)
			},
			want: &models.SubscriptionStatusInfo{Active: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			cache := new(MockCache)
			tt.setupMocks(repo, cache)
			svc := New(repo, cache, 30, newNoopLogger())

			info, err := svc.Status(context.Background(), "user-1")

			require.NoError(t, err)
			assert.Equal(t, tt.want, info)
			repo.AssertExpectations(t)
			cache.AssertExpectations(t)
		})
	}
}
