package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kashikaryash/redtape/internal/domain"
	apperrors "github.com/kashikaryash/redtape/pkg/errors"
)

func setupTestRedis(t *testing.T) (*CartRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	repo := NewCartRepository(client, 24*time.Hour)
	return repo, mr
}

func sampleCart() *domain.Cart {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &domain.Cart{
		UserID: "alice@example.com",
		Items: []domain.LineItem{
			{
				ProductID: "MN-1001",
				Name:      "Runner",
				Quantity:  2,
				UnitPrice: 59.99,
				Price:     119.98,
			},
		},
		Total:     119.98,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ---------------------------------------------------------------------------
// Get
// ---------------------------------------------------------------------------

func TestCartRepository_Get_Success(t *testing.T) {
	repo, mr := setupTestRedis(t)

	cart := sampleCart()
	data, err := json.Marshal(cart)
	require.NoError(t, err)
	require.NoError(t, mr.Set("cart:"+cart.UserID, string(data)))

	got, err := repo.Get(context.Background(), cart.UserID)
	require.NoError(t, err)
	assert.Equal(t, cart.UserID, got.UserID)
	assert.Equal(t, cart.Version, got.Version)
	assert.Equal(t, 119.98, got.Total)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "MN-1001", got.Items[0].ProductID)
	assert.Equal(t, 2, got.Items[0].Quantity)
	assert.Equal(t, 59.99, got.Items[0].UnitPrice)
}

func TestCartRepository_Get_NotFound(t *testing.T) {
	repo, _ := setupTestRedis(t)

	got, err := repo.Get(context.Background(), "nobody@example.com")
	assert.Nil(t, got)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCartRepository_Get_InvalidJSON(t *testing.T) {
	repo, mr := setupTestRedis(t)

	require.NoError(t, mr.Set("cart:user-bad", "{{not-valid-json"))

	got, err := repo.Get(context.Background(), "user-bad")
	assert.Nil(t, got)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal cart")
}

// ---------------------------------------------------------------------------
// Save
// ---------------------------------------------------------------------------

func TestCartRepository_Save_Success(t *testing.T) {
	repo, mr := setupTestRedis(t)

	cart := sampleCart()
	cart.Version = 0
	require.NoError(t, repo.Save(context.Background(), cart))

	assert.Equal(t, 1, cart.Version)
	assert.True(t, mr.Exists("cart:" + cart.UserID))

	raw, err := mr.Get("cart:" + cart.UserID)
	require.NoError(t, err)

	var stored domain.Cart
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, cart.UserID, stored.UserID)
	assert.Equal(t, 1, stored.Version)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, "MN-1001", stored.Items[0].ProductID)
}

func TestCartRepository_Save_TTL(t *testing.T) {
	repo, mr := setupTestRedis(t)

	require.NoError(t, repo.Save(context.Background(), sampleCart()))

	ttl := mr.TTL("cart:alice@example.com")
	assert.True(t, ttl > 23*time.Hour, "expected TTL > 23h, got %v", ttl)
	assert.True(t, ttl <= 24*time.Hour, "expected TTL <= 24h, got %v", ttl)
}

// ---------------------------------------------------------------------------
// SaveIfVersion
// ---------------------------------------------------------------------------

func TestCartRepository_SaveIfVersion_Success(t *testing.T) {
	repo, _ := setupTestRedis(t)

	cart := sampleCart()
	cart.Version = 0
	require.NoError(t, repo.Save(context.Background(), cart))
	require.Equal(t, 1, cart.Version)

	cart.Items[0].Quantity = 5
	err := repo.SaveIfVersion(context.Background(), cart, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, cart.Version)

	got, err := repo.Get(context.Background(), cart.UserID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, 5, got.Items[0].Quantity)
}

func TestCartRepository_SaveIfVersion_StaleVersion(t *testing.T) {
	repo, _ := setupTestRedis(t)

	cart := sampleCart()
	cart.Version = 0
	require.NoError(t, repo.Save(context.Background(), cart))
	require.NoError(t, repo.Save(context.Background(), cart))
	require.Equal(t, 2, cart.Version)

	stale := sampleCart()
	err := repo.SaveIfVersion(context.Background(), stale, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestCartRepository_SaveIfVersion_NewCart(t *testing.T) {
	repo, _ := setupTestRedis(t)

	cart := sampleCart()
	cart.Version = 0
	err := repo.SaveIfVersion(context.Background(), cart, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, cart.Version)
}

func TestCartRepository_SaveIfVersion_DeletedUnderneath(t *testing.T) {
	repo, _ := setupTestRedis(t)

	cart := sampleCart()
	err := repo.SaveIfVersion(context.Background(), cart, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

// ---------------------------------------------------------------------------
// Delete
// ---------------------------------------------------------------------------

func TestCartRepository_Delete(t *testing.T) {
	repo, mr := setupTestRedis(t)

	cart := sampleCart()
	require.NoError(t, repo.Save(context.Background(), cart))
	require.True(t, mr.Exists("cart:"+cart.UserID))

	require.NoError(t, repo.Delete(context.Background(), cart.UserID))
	assert.False(t, mr.Exists("cart:"+cart.UserID))
}

func TestCartRepository_Delete_Absent(t *testing.T) {
	repo, _ := setupTestRedis(t)
	assert.NoError(t, repo.Delete(context.Background(), "nobody@example.com"))
}
