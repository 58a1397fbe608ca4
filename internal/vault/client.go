// Package vault loads exchange API credentials from HashiCorp Vault. When
// Vault is disabled the credentials from config/environment are used as-is.
package vault

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"

	"futures-trading-bot/config"
)

// Credentials are the exchange API credentials.
type Credentials struct {
	APIKey    string
	SecretKey string
}

// Client wraps the HashiCorp Vault client.
type Client struct {
	client *api.Client
	cfg    config.VaultConfig
}

// NewClient creates a Vault client. With Vault disabled the client is a
// pass-through that returns the fallback credentials.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{cfg: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("error creating vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, cfg: cfg}, nil
}

// LoadCredentials reads the API key pair from the KV v2 secret store,
// falling back to the provided credentials when Vault is disabled.
func (c *Client) LoadCredentials(ctx context.Context, fallback Credentials) (Credentials, error) {
	if !c.cfg.Enabled {
		return fallback, nil
	}

	path := fmt.Sprintf("%s/data/%s", c.cfg.MountPath, c.cfg.SecretPath)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return Credentials{}, fmt.Errorf("error reading secret from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return Credentials{}, fmt.Errorf("vault secret not found at %s", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return Credentials{}, fmt.Errorf("unexpected secret format at %s", path)
	}

	creds := Credentials{
		APIKey:    stringField(data, "api_key"),
		SecretKey: stringField(data, "secret_key"),
	}
	if creds.APIKey == "" || creds.SecretKey == "" {
		return Credentials{}, fmt.Errorf("incomplete credentials at %s", path)
	}
	return creds, nil
}

func stringField(data map[string]interface{}, key string) string {
	s, _ := data[key].(string)
	return s
}
