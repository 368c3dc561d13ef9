package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kashikaryash/redtape/internal/catalog"
	"github.com/kashikaryash/redtape/internal/domain"
	"github.com/kashikaryash/redtape/internal/event"
	"github.com/kashikaryash/redtape/internal/service"
	apperrors "github.com/kashikaryash/redtape/pkg/errors"
	pkgkafka "github.com/kashikaryash/redtape/pkg/kafka"
)

// ============================================================================
// Mocks
// ============================================================================

type mockCartRepository struct {
	mock.Mock
}

func (m *mockCartRepository) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Cart), args.Error(1)
}

func (m *mockCartRepository) Save(ctx context.Context, cart *domain.Cart) error {
	args := m.Called(ctx, cart)
	return args.Error(0)
}

func (m *mockCartRepository) SaveIfVersion(ctx context.Context, cart *domain.Cart, expectedVersion int) error {
	args := m.Called(ctx, cart, expectedVersion)
	return args.Error(0)
}

func (m *mockCartRepository) Delete(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

type mockProductLookup struct {
	mock.Mock
}

func (m *mockProductLookup) Resolve(ctx context.Context, productID string) (*catalog.Product, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.Product), args.Error(1)
}

// ============================================================================
// Test helpers
// ============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testCartHandler(repo *mockCartRepository, products *mockProductLookup) *CartHandler {
	logger := testLogger()
	kafkaCfg := pkgkafka.DefaultProducerConfig([]string{"localhost:19092"})
	producer := event.NewProducer(pkgkafka.NewProducer(kafkaCfg, logger), logger)
	svc := service.NewCartService(repo, products, producer, logger)
	return NewCartHandler(svc, logger)
}

// setupCartRouter creates a chi router matching the production route layout,
// including the UserIDFromHeader and ContentTypeJSON middleware so that auth
// behavior is tested end-to-end.
func setupCartRouter(handler *CartHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(UserIDFromHeader)

		r.Get("/", handler.GetCart)
		r.Delete("/", handler.ClearCart)

		r.Get("/items", handler.ListItems)
		r.Post("/items", handler.AddItem)
		r.Put("/items/{productID}", handler.ReplaceQuantity)
		r.Patch("/items/{productID}", handler.SetQuantityOrRemove)
		r.Delete("/items/{productID}", handler.RemoveItem)
	})
	return r
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	var resp response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func sampleCart() *domain.Cart {
	c := domain.NewCart("user-123")
	_ = c.UpsertLine("MN-1001", "Runner", 2, 59.99)
	c.Version = 1
	return c
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

// ============================================================================
// GET /api/v1/cart
// ============================================================================

func TestGetCart_Success(t *testing.T) {
	repo := new(mockCartRepository)
	router := setupCartRouter(testCartHandler(repo, new(mockProductLookup)))

	repo.On("Get", mock.Anything, "user-123").Return(sampleCart(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("X-User-ID", "user-123")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Nil(t, resp.Error)
	assert.NotNil(t, resp.Data)
	repo.AssertExpectations(t)
}

func TestGetCart_FirstAccessCreatesCart(t *testing.T) {
	repo := new(mockCartRepository)
	router := setupCartRouter(testCartHandler(repo, new(mockProductLookup)))

	repo.On("Get", mock.Anything, "user-123").Return(nil, apperrors.NotFound("cart", "user-123"))
	repo.On("SaveIfVersion", mock.Anything, mock.AnythingOfType("*domain.Cart"), 0).Return(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("X-User-ID", "user-123")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Nil(t, resp.Error)
	repo.AssertExpectations(t)
}

func TestGetCart_MissingUserID_Returns401(t *testing.T) {
	repo := new(mockCartRepository)
	router := setupCartRouter(testCartHandler(repo, new(mockProductLookup)))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "UNAUTHORIZED", resp.Error.Code)
}

// ============================================================================
// POST /api/v1/cart/items
// ============================================================================

func TestAddItem_Success(t *testing.T) {
	repo := new(mockCartRepository)
	products := new(mockProductLookup)
	router := setupCartRouter(testCartHandler(repo, products))

	cart := sampleCart()
	products.On("Resolve", mock.Anything, "MN-2002").
		Return(&catalog.Product{ID: "MN-2002", Name: "Loafer", UnitPrice: 34.5, Available: true}, nil)
	repo.On("Get", mock.Anything, "user-123").Return(cart, nil)
	repo.On("SaveIfVersion", mock.Anything, cart, 1).Return(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items",
		jsonBody(t, AddItemRequest{ProductID: "MN-2002", Quantity: 1}))
	req.Header.Set("X-User-ID", "user-123")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Nil(t, resp.Error)
	repo.AssertExpectations(t)
	products.AssertExpectations(t)
}

func TestAddItem_ValidationError(t *testing.T) {
	repo := new(mockCartRepository)
	router := setupCartRouter(testCartHandler(repo, new(mockProductLookup)))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items",
		jsonBody(t, AddItemRequest{ProductID: "", Quantity: 0}))
	req.Header.Set("X-User-ID", "user-123")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	assert.NotEmpty(t, resp.Error.Fields)
}

func TestAddItem_ProductNotFound(t *testing.T) {
	repo := new(mockCartRepository)
	products := new(mockProductLookup)
	router := setupCartRouter(testCartHandler(repo, products))

	products.On("Resolve", mock.Anything, "MN-9999").
		Return(nil, apperrors.NotFoundWithCode("PRODUCT_NOT_FOUND", "product MN-9999 not found"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items",
		jsonBody(t, AddItemRequest{ProductID: "MN-9999", Quantity: 1}))
	req.Header.Set("X-User-ID", "user-123")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "PRODUCT_NOT_FOUND", resp.Error.Code)
}

func TestAddItem_MalformedBody(t *testing.T) {
	repo := new(mockCartRepository)
	router := setupCartRouter(testCartHandler(repo, new(mockProductLookup)))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", bytes.NewReader([]byte("{{")))
	req.Header.Set("X-User-ID", "user-123")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddItem_WrongContentType(t *testing.T) {
	repo := new(mockCartRepository)
	router := setupCartRouter(testCartHandler(repo, new(mockProductLookup)))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", bytes.NewReader([]byte("x=1")))
	req.Header.Set("X-User-ID", "user-123")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

// ============================================================================
// PUT /api/v1/cart/items/{productID}
// ============================================================================

func TestReplaceQuantity_Success(t *testing.T) {
	repo := new(mockCartRepository)
	router := setupCartRouter(testCartHandler(repo, new(mockProductLookup)))

	cart := sampleCart()
	repo.On("Get", mock.Anything, "user-123").Return(cart, nil)
	repo.On("SaveIfVersion", mock.Anything, cart, 1).Return(nil)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/cart/items/MN-1001",
		jsonBody(t, QuantityRequest{Quantity: 5}))
	req.Header.Set("X-User-ID", "user-123")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, cart.Items[0].Quantity)
}

func TestReplaceQuantity_ZeroRejected(t *testing.T) {
	repo := new(mockCartRepository)
	router := setupCartRouter(testCartHandler(repo, new(mockProductLookup)))

	req := httptest.NewRequest(http.MethodPut, "/api/v1/cart/items/MN-1001",
		jsonBody(t, QuantityRequest{Quantity: 0}))
	req.Header.Set("X-User-ID", "user-123")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_QUANTITY", resp.Error.Code)
	repo.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestReplaceQuantity_LineNotFound(t *testing.T) {
	repo := new(mockCartRepository)
	router := setupCartRouter(testCartHandler(repo, new(mockProductLookup)))

	repo.On("Get", mock.Anything, "user-123").Return(sampleCart(), nil)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/cart/items/MN-9999",
		jsonBody(t, QuantityRequest{Quantity: 2}))
	req.Header.Set("X-User-ID", "user-123")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "LINE_NOT_FOUND", resp.Error.Code)
}

// ============================================================================
// PATCH /api/v1/cart/items/{productID}
// ============================================================================

func TestSetQuantityOrRemove_ZeroDeletes(t *testing.T) {
	repo := new(mockCartRepository)
	router := setupCartRouter(testCartHandler(repo, new(mockProductLookup)))

	cart := sampleCart()
	repo.On("Get", mock.Anything, "user-123").Return(cart, nil)
	repo.On("SaveIfVersion", mock.Anything, cart, 1).Return(nil)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/cart/items/MN-1001",
		jsonBody(t, QuantityRequest{Quantity: 0}))
	req.Header.Set("X-User-ID", "user-123")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, cart.Items)
	assert.Equal(t, 0.0, cart.Total)
}

// ============================================================================
// DELETE /api/v1/cart/items/{productID}
// ============================================================================

func TestRemoveItem_Success(t *testing.T) {
	repo := new(mockCartRepository)
	router := setupCartRouter(testCartHandler(repo, new(mockProductLookup)))

	cart := sampleCart()
	repo.On("Get", mock.Anything, "user-123").Return(cart, nil)
	repo.On("SaveIfVersion", mock.Anything, cart, 1).Return(nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/cart/items/MN-1001", nil)
	req.Header.Set("X-User-ID", "user-123")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, cart.Items)
}

func TestRemoveItem_AbsentLine(t *testing.T) {
	repo := new(mockCartRepository)
	router := setupCartRouter(testCartHandler(repo, new(mockProductLookup)))

	repo.On("Get", mock.Anything, "user-123").Return(sampleCart(), nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/cart/items/MN-9999", nil)
	req.Header.Set("X-User-ID", "user-123")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	repo.AssertNotCalled(t, "SaveIfVersion", mock.Anything, mock.Anything, mock.Anything)
}

// ============================================================================
// DELETE /api/v1/cart
// ============================================================================

func TestClearCart_Success(t *testing.T) {
	repo := new(mockCartRepository)
	router := setupCartRouter(testCartHandler(repo, new(mockProductLookup)))

	cart := sampleCart()
	repo.On("Get", mock.Anything, "user-123").Return(cart, nil)
	repo.On("SaveIfVersion", mock.Anything, cart, 1).Return(nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/cart", nil)
	req.Header.Set("X-User-ID", "user-123")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, cart.Items)
}

// ============================================================================
// GET /api/v1/cart/items
// ============================================================================

func TestListItems_Success(t *testing.T) {
	repo := new(mockCartRepository)
	router := setupCartRouter(testCartHandler(repo, new(mockProductLookup)))

	repo.On("Get", mock.Anything, "user-123").Return(sampleCart(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart/items", nil)
	req.Header.Set("X-User-ID", "user-123")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Nil(t, resp.Error)

	items, ok := resp.Data.([]any)
	require.True(t, ok)
	assert.Len(t, items, 1)
}
