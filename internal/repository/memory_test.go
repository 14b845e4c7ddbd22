package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/escrowdesk/internal/model"
)

func newDeal(userID int64) *model.Deal {
	return &model.Deal{
		UserID:        userID,
		Type:          model.DealTypeBuy,
		Crypto:        "USDT",
		Amount:        decimal.NewFromInt(5000),
		Rate:          decimal.RequireFromString("85.5"),
		PaymentMethod: "UPI",
		Fee:           decimal.NewFromInt(75),
	}
}

func createdLog(userID int64) model.DealLog {
	return model.DealLog{ActorID: userID, ActorRole: model.RoleUser, Action: "Deal created", ToStatus: model.DealStatusPending}
}

func TestMemoryRepository_CreateDealSingleActive(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	_, err := repo.EnsureUser(ctx, 1, "alice")
	require.NoError(t, err)

	d, err := repo.CreateDeal(ctx, newDeal(1), createdLog(1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.ID)
	assert.Equal(t, model.DealStatusPending, d.Status)
	assert.False(t, d.CreatedAt.IsZero())

	_, err = repo.CreateDeal(ctx, newDeal(1), createdLog(1))
	require.ErrorIs(t, err, ErrActiveDealExists)

	active, err := repo.FindActiveDealByUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, d.ID, active.ID)

	logs, err := repo.ListDealLogs(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, d.ID, logs[0].DealID)
}

func TestMemoryRepository_CreateDealUnknownUser(t *testing.T) {
	repo := NewMemoryRepository()

	_, err := repo.CreateDeal(context.Background(), newDeal(42), createdLog(42))
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestMemoryRepository_CreateDealConcurrent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	_, err := repo.EnsureUser(ctx, 7, "bob")
	require.NoError(t, err)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.CreateDeal(ctx, newDeal(7), createdLog(7)); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestMemoryRepository_TransitionDeal(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	_, err := repo.EnsureUser(ctx, 1, "alice")
	require.NoError(t, err)
	d, err := repo.CreateDeal(ctx, newDeal(1), createdLog(1))
	require.NoError(t, err)

	entry := model.DealLog{ActorID: 2, ActorRole: model.RoleAdmin, Action: "Status changed to approved"}

	updated, err := repo.TransitionDeal(ctx, d.ID, model.DealStatusPending, model.DealStatusApproved, entry)
	require.NoError(t, err)
	assert.Equal(t, model.DealStatusApproved, updated.Status)

	_, err = repo.TransitionDeal(ctx, d.ID, model.DealStatusPending, model.DealStatusApproved, entry)
	require.ErrorIs(t, err, ErrStatusMismatch)

	_, err = repo.TransitionDeal(ctx, 999, model.DealStatusPending, model.DealStatusApproved, entry)
	require.ErrorIs(t, err, ErrDealNotFound)

	logs, err := repo.ListDealLogs(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, model.RoleAdmin, logs[1].ActorRole)
}

func TestMemoryRepository_ListDealsOrderAndFilter(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	repo := NewMemoryRepository().WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	})

	for _, id := range []int64{1, 2, 3} {
		_, err := repo.EnsureUser(ctx, id, "")
		require.NoError(t, err)
		d := newDeal(id)
		if id == 2 {
			d.Type = model.DealTypeSell
		}
		_, err = repo.CreateDeal(ctx, d, createdLog(id))
		require.NoError(t, err)
	}

	all, err := repo.ListDeals(ctx, model.DealFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].UserID)
	assert.Equal(t, int64(1), all[2].UserID)

	sells, err := repo.ListDeals(ctx, model.DealFilter{Type: model.DealTypeSell})
	require.NoError(t, err)
	require.Len(t, sells, 1)
	assert.Equal(t, int64(2), sells[0].UserID)

	limited, err := repo.ListDeals(ctx, model.DealFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestMemoryRepository_Ownership(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	for _, id := range []int64{1, 2} {
		_, err := repo.EnsureUser(ctx, id, "")
		require.NoError(t, err)
	}

	u, err := repo.ClaimOwnership(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.RoleOwner, u.Role)

	_, err = repo.ClaimOwnership(ctx, 2)
	require.ErrorIs(t, err, ErrOwnerExists)

	_, err = repo.ClaimOwnership(ctx, 1)
	require.ErrorIs(t, err, ErrOwnerExists)

	_, err = repo.SetUserRole(ctx, 2, model.RoleOwner)
	require.ErrorIs(t, err, ErrOwnerExists)

	u, err = repo.SetUserRole(ctx, 2, model.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, u.Role)

	_, err = repo.SetUserRole(ctx, 99, model.RoleAdmin)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestMemoryRepository_EnsureUserKeepsRole(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	_, err := repo.EnsureUser(ctx, 1, "alice")
	require.NoError(t, err)
	_, err = repo.SetUserRole(ctx, 1, model.RoleAdmin)
	require.NoError(t, err)

	u, err := repo.EnsureUser(ctx, 1, "Alice")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, u.Role)
	assert.Equal(t, "Alice", u.Name)
}

func TestMemoryRepository_Config(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	require.NoError(t, repo.SeedConfig(ctx, map[string]string{model.ConfigFeeValue: "2", model.ConfigMinFee: "10"}))
	require.NoError(t, repo.SetConfig(ctx, map[string]string{model.ConfigFeeValue: "3"}))
	require.NoError(t, repo.SeedConfig(ctx, map[string]string{model.ConfigFeeValue: "4", model.ConfigMaxFee: "100"}))

	cfg, err := repo.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.FeeConfig{
		model.ConfigFeeValue: "3",
		model.ConfigMinFee:   "10",
		model.ConfigMaxFee:   "100",
	}, cfg)
}
