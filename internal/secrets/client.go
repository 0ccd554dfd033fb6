// Package secrets loads service credentials from HashiCorp Vault, with a
// disabled mode that leaves configuration values untouched for local
// development.
package secrets

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"forex-signal-engine/config"
	"forex-signal-engine/internal/logging"
)

// Credentials are the secrets the engine pulls at startup. Empty fields
// mean Vault holds no override and the config value stands.
type Credentials struct {
	DBUser        string `json:"db_user"`
	DBPassword    string `json:"db_password"`
	RedisPassword string `json:"redis_password"`
	JWTSecret     string `json:"jwt_secret"`
}

// Client wraps the Vault API client. When Vault is disabled every read
// serves from the local cache, which starts empty.
type Client struct {
	client *api.Client
	cfg    config.VaultConfig
	logger *logging.Logger

	mu     sync.RWMutex
	cached *Credentials
}

// NewClient creates a Vault client, or a disabled-mode stand-in when
// Vault is off in configuration.
func NewClient(cfg config.VaultConfig, logger *logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("secrets")

	if !cfg.Enabled {
		return &Client{cfg: cfg, logger: logger}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		if err := vaultConfig.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, cfg: cfg, logger: logger}, nil
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.cfg.Enabled
}

// Load reads the engine credentials from Vault's KV v2 mount. In disabled
// mode it returns empty credentials so configuration values apply.
func (c *Client) Load(ctx context.Context) (*Credentials, error) {
	c.mu.RLock()
	if c.cached != nil {
		defer c.mu.RUnlock()
		return c.cached, nil
	}
	c.mu.RUnlock()

	if !c.cfg.Enabled {
		return &Credentials{}, nil
	}

	path := fmt.Sprintf("%s/data/%s", c.cfg.MountPath, c.cfg.SecretPath)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no credentials at vault path %s", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format at vault path %s", path)
	}

	creds := &Credentials{
		DBUser:        getString(data, "db_user"),
		DBPassword:    getString(data, "db_password"),
		RedisPassword: getString(data, "redis_password"),
		JWTSecret:     getString(data, "jwt_secret"),
	}

	c.mu.Lock()
	c.cached = creds
	c.mu.Unlock()

	c.logger.Info("credentials loaded from vault", "path", path)
	return creds, nil
}

// Apply overlays Vault credentials onto the config, leaving config values
// in place where Vault has no override.
func (c *Client) Apply(ctx context.Context, cfg *config.Config) error {
	creds, err := c.Load(ctx)
	if err != nil {
		return err
	}

	if creds.DBUser != "" {
		cfg.DatabaseConfig.User = creds.DBUser
	}
	if creds.DBPassword != "" {
		cfg.DatabaseConfig.Password = creds.DBPassword
	}
	if creds.RedisPassword != "" {
		cfg.RedisConfig.Password = creds.RedisPassword
	}
	if creds.JWTSecret != "" {
		cfg.AuthConfig.JWTSecret = creds.JWTSecret
	}
	return nil
}

// Health checks the Vault connection. Disabled mode is always healthy.
func (c *Client) Health(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
