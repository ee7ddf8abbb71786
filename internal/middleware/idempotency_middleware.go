package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Kovheren/billing-service/internal/domain"
	"github.com/Kovheren/billing-service/internal/metrics"
	"github.com/Kovheren/billing-service/internal/repository"
)

// IdempotencyGate оборачивает мутирующие команды гарантией "не более одного
// побочного эффекта на (tenant, key)". Запись in_progress вставляется ДО
// исполнения обработчика: проигравший гонку конкурентный запрос видит ее и
// получает 409, а не исполняет эффект второй раз. Успешный ответ кэшируется
// и реплеится на повторы того же тела; повтор после failed перезапускает
// исполнение.
type IdempotencyGate struct {
	keys    repository.IdempotencyRepository
	metrics metrics.BillingMetrics
	log     *zap.SugaredLogger
}

// NewIdempotencyGate создает новый гейт идемпотентности
func NewIdempotencyGate(keys repository.IdempotencyRepository, billingMetrics metrics.BillingMetrics, log *zap.SugaredLogger) *IdempotencyGate {
	return &IdempotencyGate{keys: keys, metrics: billingMetrics, log: log}
}

// Handler возвращает gin middleware гейта
func (g *IdempotencyGate) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isMutating(c.Request.Method) {
			c.Next()
			return
		}

		tenantID := TenantID(c)
		if tenantID == "" {
			respondError(c, http.StatusUnprocessableEntity, "validation_error", "X-Tenant-ID header is required")
			return
		}
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			respondError(c, http.StatusUnprocessableEntity, "validation_error", "Idempotency-Key header is required")
			return
		}
		c.Set(CtxIdempotencyKeyKey, key)

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			respondError(c, http.StatusBadRequest, "validation_error", "failed to read request body")
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		requestHash := canonicalHash(body)

		ctx := c.Request.Context()

		armed, err := g.keys.CreateInProgress(ctx, tenantID, key, requestHash)
		if err != nil {
			g.log.Errorw("Idempotency gate failed to arm key", "error", err, "tenantID", tenantID, "key", key)
			respondError(c, http.StatusInternalServerError, "internal_error", "idempotency check failed")
			return
		}

		if !armed {
			// Запись уже существует: кто-то выиграл гонку раньше нас
			record, err := g.keys.Get(ctx, tenantID, key)
			if err != nil {
				g.log.Errorw("Idempotency gate failed to load key", "error", err, "tenantID", tenantID, "key", key)
				respondError(c, http.StatusInternalServerError, "internal_error", "idempotency check failed")
				return
			}

			// Несовпадение тела - всегда конфликт, независимо от состояния
			if record.RequestHash != requestHash {
				g.countConflict(c)
				respondError(c, http.StatusConflict, "conflict", domain.ErrKeyReuseConflict.Error())
				return
			}

			switch record.Status {
			case domain.IdempotencyStatusSucceeded:
				g.replay(c, record)
				return
			case domain.IdempotencyStatusInProgress:
				g.countConflict(c)
				respondError(c, http.StatusConflict, "in_progress", domain.ErrKeyInProgress.Error())
				return
			case domain.IdempotencyStatusFailed:
				rearmed, err := g.keys.Rearm(ctx, tenantID, key, requestHash)
				if err != nil {
					g.log.Errorw("Idempotency gate failed to rearm key", "error", err, "tenantID", tenantID, "key", key)
					respondError(c, http.StatusInternalServerError, "internal_error", "idempotency check failed")
					return
				}
				if !rearmed {
					// Параллельный ретрай перехватил ключ первым
					g.countConflict(c)
					respondError(c, http.StatusConflict, "in_progress", domain.ErrKeyInProgress.Error())
					return
				}
			}
		}

		// Ключ взведен этим запросом - исполняем и фиксируем исход
		capture := &bodyCaptureWriter{ResponseWriter: c.Writer}
		c.Writer = capture

		c.Next()

		status := c.Writer.Status()
		if status >= 200 && status < 300 {
			if err := g.keys.MarkSucceeded(ctx, tenantID, key, status, capture.buf.Bytes()); err != nil {
				g.log.Errorw("Failed to finalize idempotency key as succeeded", "error", err, "tenantID", tenantID, "key", key)
			}
		} else {
			if err := g.keys.MarkFailed(ctx, tenantID, key, status, capture.buf.Bytes()); err != nil {
				g.log.Errorw("Failed to finalize idempotency key as failed", "error", err, "tenantID", tenantID, "key", key)
			}
		}
	}
}

// replay отдает закэшированный ответ первой успешной попытки
func (g *IdempotencyGate) replay(c *gin.Context, record *domain.IdempotencyKey) {
	if g.metrics != nil {
		g.metrics.IncIdempotentReplay(c.FullPath())
	}
	g.log.Debugw("Replaying cached idempotent response", "tenantID", record.TenantID, "key", record.Key)

	status := http.StatusOK
	if record.ResponseStatus != nil {
		status = *record.ResponseStatus
	}
	c.Header("Idempotency-Replayed", "true")
	c.Data(status, "application/json", record.ResponseBody)
	c.Abort()
}

func (g *IdempotencyGate) countConflict(c *gin.Context) {
	if g.metrics != nil {
		g.metrics.IncIdempotencyConflict(c.FullPath())
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// canonicalHash считает sha256 канонической формы JSON-тела: объекты
// сериализуются с отсортированными ключами, чтобы перестановка полей не
// выглядела как другой запрос. Не-JSON тело хэшируется как есть.
func canonicalHash(body []byte) string {
	sum := sha256.Sum256(canonicalize(body))
	return hex.EncodeToString(sum[:])
}

func canonicalize(body []byte) []byte {
	if len(body) == 0 {
		return nil
	}
	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return body
	}
	canonical, err := json.Marshal(value)
	if err != nil {
		return body
	}
	return canonical
}

// bodyCaptureWriter дублирует тело ответа в буфер для кэша реплея
type bodyCaptureWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyCaptureWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyCaptureWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
