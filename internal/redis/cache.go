package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"reservation-service/internal/models"
)

// CacheClient wraps Redis for product stock caching with cluster support
type CacheClient struct {
	client    redis.UniversalClient // Universal client supports both single and cluster
	ttl       time.Duration
	keyPrefix string
}

// NewCacheClient creates a new Redis cache client with cluster support
func NewCacheClient(addrs []string, password string, clusterMode bool, ttl time.Duration, keyPrefix string) *CacheClient {
	var client redis.UniversalClient

	if clusterMode {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        addrs,
			Password:     password,
			MaxRetries:   3,
			PoolSize:     50,
			MinIdleConns: 5,
			PoolTimeout:  30 * time.Second,
			MaxRedirects: 8,
			// Route to the lowest latency node
			RouteByLatency: true,
		})
	} else {
		// Single Redis instance for development
		addr := "localhost:6379"
		if len(addrs) > 0 {
			addr = addrs[0]
		}
		client = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       0, // DB is not supported in cluster mode
			PoolSize: 10,
		})
	}

	return &CacheClient{
		client:    client,
		ttl:       ttl,
		keyPrefix: keyPrefix,
	}
}

// GetProduct retrieves a product stock record from cache. A miss returns
// (nil, nil).
func (c *CacheClient) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	key := c.productKey(productID)

	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		log.Error().Err(err).Str("product_id", productID).Msg("Failed to get product from cache")
		return nil, fmt.Errorf("failed to get product from cache: %w", err)
	}

	var product models.Product
	if err := json.Unmarshal([]byte(val), &product); err != nil {
		log.Error().Err(err).Str("product_id", productID).Msg("Failed to unmarshal cached product")
		return nil, fmt.Errorf("failed to unmarshal cached product: %w", err)
	}

	log.Debug().Str("product_id", productID).Msg("Cache hit for product")
	return &product, nil
}

// SetProduct stores a product stock record in cache
func (c *CacheClient) SetProduct(ctx context.Context, product *models.Product) error {
	key := c.productKey(product.ProductID)

	data, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("failed to marshal product: %w", err)
	}

	err = c.client.Set(ctx, key, data, c.ttl).Err()
	if err != nil {
		log.Error().Err(err).Str("product_id", product.ProductID).Msg("Failed to set product in cache")
		return fmt.Errorf("failed to set product in cache: %w", err)
	}

	log.Debug().Str("product_id", product.ProductID).Msg("Cached product")
	return nil
}

// DeleteProduct removes a product stock record from cache
func (c *CacheClient) DeleteProduct(ctx context.Context, productID string) error {
	key := c.productKey(productID)

	err := c.client.Del(ctx, key).Err()
	if err != nil {
		log.Error().Err(err).Str("product_id", productID).Msg("Failed to delete product from cache")
		return fmt.Errorf("failed to delete product from cache: %w", err)
	}

	log.Debug().Str("product_id", productID).Msg("Deleted product from cache")
	return nil
}

// UpdateProductFromState updates the cache from a Kafka state topic event
func (c *CacheClient) UpdateProductFromState(ctx context.Context, state *models.StockState) error {
	product := &models.Product{
		ProductID:   state.ProductID,
		CurrentQty:  state.CurrentQty,
		ReservedQty: state.ReservedQty,
		MinQty:      state.MinQty,
		MaxQty:      state.MaxQty,
		Version:     state.Version,
		UpdatedAt:   state.UpdatedAt,
	}

	return c.SetProduct(ctx, product)
}

// HandleState applies a state topic snapshot to the cache. Satisfies the
// state consumer's handler contract so reader replicas can wire the cache in
// directly.
func (c *CacheClient) HandleState(ctx context.Context, state *models.StockState) error {
	log.Debug().
		Str("product_id", state.ProductID).
		Int("current_qty", state.CurrentQty).
		Int("reserved_qty", state.ReservedQty).
		Msg("Updating cache from state event")

	if err := c.UpdateProductFromState(ctx, state); err != nil {
		return fmt.Errorf("failed to update cache: %w", err)
	}
	return nil
}

// Ping checks if Redis is available
func (c *CacheClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *CacheClient) Close() error {
	return c.client.Close()
}

// productKey generates the cache key for a product with prefix
func (c *CacheClient) productKey(productID string) string {
	return fmt.Sprintf("%sstock:%s", c.keyPrefix, productID)
}
