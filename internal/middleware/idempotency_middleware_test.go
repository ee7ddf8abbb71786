package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kovheren/billing-service/internal/domain"
	"github.com/Kovheren/billing-service/internal/repository"
)

type memIdempotencyRepo struct {
	mu      sync.Mutex
	records map[string]*domain.IdempotencyKey
}

func newMemIdempotencyRepo() *memIdempotencyRepo {
	return &memIdempotencyRepo{records: make(map[string]*domain.IdempotencyKey)}
}

func (r *memIdempotencyRepo) Get(_ context.Context, tenantID, key string) (*domain.IdempotencyKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[tenantID+":"+key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *record
	return &out, nil
}

func (r *memIdempotencyRepo) CreateInProgress(_ context.Context, tenantID, key, requestHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := tenantID + ":" + key
	if _, ok := r.records[k]; ok {
		return false, nil
	}
	r.records[k] = &domain.IdempotencyKey{
		TenantID:    tenantID,
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusInProgress,
		CreatedAt:   time.Now().UTC(),
	}
	return true, nil
}

func (r *memIdempotencyRepo) Rearm(_ context.Context, tenantID, key, requestHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[tenantID+":"+key]
	if !ok || record.Status != domain.IdempotencyStatusFailed {
		return false, nil
	}
	record.Status = domain.IdempotencyStatusInProgress
	record.RequestHash = requestHash
	record.ResponseStatus = nil
	record.ResponseBody = nil
	return true, nil
}

func (r *memIdempotencyRepo) MarkSucceeded(_ context.Context, tenantID, key string, responseStatus int, responseBody []byte) error {
	return r.finalize(tenantID, key, domain.IdempotencyStatusSucceeded, responseStatus, responseBody)
}

func (r *memIdempotencyRepo) MarkFailed(_ context.Context, tenantID, key string, responseStatus int, responseBody []byte) error {
	return r.finalize(tenantID, key, domain.IdempotencyStatusFailed, responseStatus, responseBody)
}

func (r *memIdempotencyRepo) finalize(tenantID, key string, status domain.IdempotencyStatus, responseStatus int, responseBody []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[tenantID+":"+key]
	if !ok || record.Status != domain.IdempotencyStatusInProgress {
		return nil
	}
	record.Status = status
	record.ResponseStatus = &responseStatus
	record.ResponseBody = responseBody
	return nil
}

type gateFixture struct {
	router *gin.Engine
	keys   *memIdempotencyRepo
	calls  int
	fail   bool
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &gateFixture{keys: newMemIdempotencyRepo()}
	gate := NewIdempotencyGate(f.keys, nil, zap.NewNop().Sugar())

	r := gin.New()
	r.Use(RequireTenant())
	r.Use(gate.Handler())
	r.POST("/commands", func(c *gin.Context) {
		f.calls++
		if f.fail {
			c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"type": "internal_error", "message": "boom"}})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"call": f.calls})
	})
	r.GET("/commands", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	f.router = r
	return f
}

func (f *gateFixture) do(method, body, tenantID, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/commands", strings.NewReader(body))
	if tenantID != "" {
		req.Header.Set(HeaderTenantID, tenantID)
	}
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestGateRequiresIdempotencyKey(t *testing.T) {
	f := newGateFixture(t)

	w := f.do(http.MethodPost, `{}`, "acme", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Zero(t, f.calls)
}

func TestGateSkipsReads(t *testing.T) {
	f := newGateFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/commands", nil)
	req.Header.Set(HeaderTenantID, "acme")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGateReplaysCachedResponse(t *testing.T) {
	f := newGateFixture(t)

	first := f.do(http.MethodPost, `{"a":1}`, "acme", "k1")
	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, 1, f.calls)

	second := f.do(http.MethodPost, `{"a":1}`, "acme", "k1")
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotency-Replayed"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	// Обработчик не исполнялся второй раз
	assert.Equal(t, 1, f.calls)
}

func TestGateReplayIgnoresKeyOrderInBody(t *testing.T) {
	f := newGateFixture(t)

	first := f.do(http.MethodPost, `{"a":1,"b":2}`, "acme", "k1")
	require.Equal(t, http.StatusCreated, first.Code)

	second := f.do(http.MethodPost, `{"b":2,"a":1}`, "acme", "k1")
	assert.Equal(t, "true", second.Header().Get("Idempotency-Replayed"))
	assert.Equal(t, 1, f.calls)
}

func TestGateRejectsKeyReuseWithDifferentBody(t *testing.T) {
	f := newGateFixture(t)

	first := f.do(http.MethodPost, `{"a":1}`, "acme", "k1")
	require.Equal(t, http.StatusCreated, first.Code)

	second := f.do(http.MethodPost, `{"a":2}`, "acme", "k1")
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Contains(t, second.Body.String(), "conflict")
	assert.Equal(t, 1, f.calls)
}

func TestGateRejectsInProgressKey(t *testing.T) {
	f := newGateFixture(t)

	// Конкурент уже взвел ключ и еще исполняется
	hash := canonicalHash([]byte(`{"a":1}`))
	_, err := f.keys.CreateInProgress(context.Background(), "acme", "k1", hash)
	require.NoError(t, err)

	w := f.do(http.MethodPost, `{"a":1}`, "acme", "k1")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "in_progress")
	assert.Zero(t, f.calls)
}

func TestGateRearmsAfterFailure(t *testing.T) {
	f := newGateFixture(t)

	f.fail = true
	first := f.do(http.MethodPost, `{"a":1}`, "acme", "k1")
	require.Equal(t, http.StatusInternalServerError, first.Code)
	require.Equal(t, 1, f.calls)

	// Повтор после failed перезапускает исполнение
	f.fail = false
	second := f.do(http.MethodPost, `{"a":1}`, "acme", "k1")
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Empty(t, second.Header().Get("Idempotency-Replayed"))
	assert.Equal(t, 2, f.calls)

	third := f.do(http.MethodPost, `{"a":1}`, "acme", "k1")
	assert.Equal(t, "true", third.Header().Get("Idempotency-Replayed"))
	assert.Equal(t, 2, f.calls)
}

func TestGateScopesKeysByTenant(t *testing.T) {
	f := newGateFixture(t)

	first := f.do(http.MethodPost, `{"a":1}`, "acme", "k1")
	require.Equal(t, http.StatusCreated, first.Code)

	// Тот же ключ другого тенанта исполняется независимо
	second := f.do(http.MethodPost, `{"a":1}`, "globex", "k1")
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Empty(t, second.Header().Get("Idempotency-Replayed"))
	assert.Equal(t, 2, f.calls)
}

func TestCanonicalHash(t *testing.T) {
	assert.Equal(t, canonicalHash([]byte(`{"a":1,"b":2}`)), canonicalHash([]byte(`{"b":2,"a":1}`)))
	assert.NotEqual(t, canonicalHash([]byte(`{"a":1}`)), canonicalHash([]byte(`{"a":2}`)))
	// Не-JSON тело хэшируется как есть
	assert.NotEqual(t, canonicalHash([]byte("raw-a")), canonicalHash([]byte("raw-b")))
}
