// File: internal/chain/connection.go
package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/ecochain/eco-relayer/internal/config"
	"github.com/ecochain/eco-relayer/pkg/utils"
)

// ConnectionStats holds connection statistics
type ConnectionStats struct {
	Reconnects      uint64    `json:"reconnects"`
	CurrentURL      string    `json:"current_url"`
	LastConnectedAt time.Time `json:"last_connected_at"`
	LastHealthCheck time.Time `json:"last_health_check"`
	IsHealthy       bool      `json:"is_healthy"`
	ChainID         int64     `json:"chain_id"`
	LatestBlock     uint64    `json:"latest_block"`
}

// Connection dials the RPC endpoint, falling back to backups, and checks it serves the
// configured chain
type Connection struct {
	config *config.ChainConfig
	urls   []string
	client *ethclient.Client
	mu     sync.RWMutex
	logger *logrus.Logger
	stats  ConnectionStats
}

// NewConnection creates an unconnected connection for cfg
func NewConnection(cfg *config.ChainConfig) *Connection {
	urls := append([]string{cfg.RPCURL}, cfg.BackupRPCURLs...)
	return &Connection{
		config: cfg,
		urls:   urls,
		logger: utils.GetLogger(),
	}
}

// Connect tries every URL for up to RetryAttempts rounds. A node on the wrong chain is a
// configuration error and is not retried.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	attempts := c.config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		for _, url := range c.urls {
			logger := c.logger.WithFields(logrus.Fields{"url": url, "attempt": attempt + 1})
			logger.Info("Attempting connection")

			client, chainID, err := c.dial(ctx, url)
			if err != nil {
				logger.WithError(err).Warn("Connection failed")
				continue
			}

			if chainID != c.config.ChainID {
				client.Close()
				return utils.NewAppError(utils.ErrCodeConfiguration, "Chain ID mismatch",
					fmt.Sprintf("%s serves chain %d, expected %d", url, chainID, c.config.ChainID))
			}

			if c.client != nil {
				c.client.Close()
				c.stats.Reconnects++
			}
			c.client = client
			c.stats.CurrentURL = url
			c.stats.ChainID = chainID
			c.stats.LastConnectedAt = time.Now()
			c.stats.IsHealthy = true

			logger.WithField("chain_id", chainID).Info("Connected to chain node")
			return nil
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}
	}

	return utils.NewAppError(utils.ErrCodeConnection, "Failed to connect to any chain node",
		"All connection attempts exhausted")
}

func (c *Connection) dial(ctx context.Context, url string) (*ethclient.Client, int64, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.requestTimeout())
	defer cancel()

	client, err := ethclient.DialContext(dialCtx, url)
	if err != nil {
		return nil, 0, err
	}

	chainID, err := client.ChainID(dialCtx)
	if err != nil {
		client.Close()
		return nil, 0, err
	}
	return client, chainID.Int64(), nil
}

// Client returns the connected client, or nil before Connect succeeds
func (c *Connection) Client() *ethclient.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// HealthCheck confirms the node answers and records the latest block
func (c *Connection) HealthCheck(ctx context.Context) error {
	client := c.Client()
	if client == nil {
		return utils.NewAppError(utils.ErrCodeConnection, "Not connected")
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout())
	defer cancel()

	blockNumber, err := client.BlockNumber(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.LastHealthCheck = time.Now()
	if err != nil {
		c.stats.IsHealthy = false
		return utils.WrapAppError(utils.ErrCodeConnection, "Failed to get latest block", err)
	}
	c.stats.IsHealthy = true
	c.stats.LatestBlock = blockNumber
	return nil
}

// IsConnected reports whether the last connect or health check succeeded
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil && c.stats.IsHealthy
}

// Stats returns connection statistics
func (c *Connection) Stats() ConnectionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Close closes the connection
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	c.stats.IsHealthy = false
	c.logger.Info("Chain connection closed")
	return nil
}

func (c *Connection) requestTimeout() time.Duration {
	if c.config.RequestTimeout <= 0 {
		return 30 * time.Second
	}
	return c.config.RequestTimeout
}
