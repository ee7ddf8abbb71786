package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kovheren/billing-service/internal/domain"
)

const (
	// Префиксы ключей для различных типов данных
	entitlementKeyPrefix = "entitlement:"

	// TTL для кэша
	defaultCacheTTL = 15 * time.Minute
)

// RedisCacheRepository реализует кеширование прав доступа с использованием Redis
type RedisCacheRepository struct {
	client *redis.Client
	log    *zap.SugaredLogger
}

// NewRedisCacheRepository создает новый экземпляр Redis репозитория
func NewRedisCacheRepository(redisAddr, redisPassword string, redisDB int, log *zap.SugaredLogger) (*RedisCacheRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	// Проверяем соединение с Redis
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", redisAddr)
	return &RedisCacheRepository{
		client: client,
		log:    log,
	}, nil
}

// Close закрывает соединение с Redis
func (r *RedisCacheRepository) Close() error {
	return r.client.Close()
}

func entitlementKey(tenantID, accountID, feature string) string {
	return fmt.Sprintf("%s%s:%s:%s", entitlementKeyPrefix, tenantID, accountID, feature)
}

// CacheEntitlement кеширует результат проверки права доступа
func (r *RedisCacheRepository) CacheEntitlement(ctx context.Context, ent *domain.Entitlement) error {
	key := entitlementKey(ent.TenantID, ent.AccountID, ent.Feature)

	data, err := json.Marshal(ent)
	if err != nil {
		r.log.Errorw("Failed to marshal entitlement for caching", "error", err, "feature", ent.Feature)
		return fmt.Errorf("failed to marshal entitlement: %w", err)
	}

	if err := r.client.Set(ctx, key, data, defaultCacheTTL).Err(); err != nil {
		r.log.Errorw("Failed to cache entitlement in Redis", "error", err, "feature", ent.Feature)
		return fmt.Errorf("failed to cache entitlement: %w", err)
	}

	r.log.Debugw("Entitlement cached successfully", "tenantID", ent.TenantID, "feature", ent.Feature)
	return nil
}

// GetCachedEntitlement получает право доступа из кеша
func (r *RedisCacheRepository) GetCachedEntitlement(ctx context.Context, tenantID, accountID, feature string) (*domain.Entitlement, error) {
	key := entitlementKey(tenantID, accountID, feature)

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			// Ключ не найден в кеше
			return nil, nil
		}
		r.log.Errorw("Error getting entitlement from Redis", "error", err, "feature", feature)
		return nil, fmt.Errorf("failed to get entitlement from cache: %w", err)
	}

	var ent domain.Entitlement
	if err := json.Unmarshal(data, &ent); err != nil {
		r.log.Errorw("Failed to unmarshal cached entitlement", "error", err, "feature", feature)
		return nil, fmt.Errorf("failed to unmarshal cached entitlement: %w", err)
	}

	r.log.Debugw("Entitlement retrieved from cache", "tenantID", tenantID, "feature", feature)
	return &ent, nil
}

// InvalidateAccountEntitlements удаляет все закешированные права аккаунта.
// Вызывается после любой мутации подписки, меняющей план или статус.
func (r *RedisCacheRepository) InvalidateAccountEntitlements(ctx context.Context, tenantID, accountID string) error {
	pattern := fmt.Sprintf("%s%s:%s:*", entitlementKeyPrefix, tenantID, accountID)

	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			r.log.Errorw("Failed to delete entitlement key", "error", err, "key", iter.Val())
			return fmt.Errorf("failed to invalidate entitlements: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		r.log.Errorw("Failed to scan entitlement keys", "error", err, "tenantID", tenantID)
		return fmt.Errorf("failed to scan entitlement keys: %w", err)
	}

	r.log.Debugw("Account entitlements invalidated", "tenantID", tenantID, "accountID", accountID)
	return nil
}
