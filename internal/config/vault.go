package config

import (
	"fmt"

	"github.com/hashicorp/vault/api"
)

// SecretManager wraps the Vault API client for reading the JWT secret and
// Redis URL, adapted from packages/go-core/config/vault.go. Loading
// secrets from Vault is optional: binaries only reach for it when
// VAULT_ADDR is set in the environment, otherwise Config.Load's plain
// os.Getenv values stand.
type SecretManager struct {
	client *api.Client
}

// NewSecretManager creates a Vault client pointed at the given address
// and authenticated with the provided token.
func NewSecretManager(address, token string) (*SecretManager, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client initialization failed: %w", err)
	}
	client.SetToken(token)

	return &SecretManager{client: client}, nil
}

// GetKV2 reads a secret at the given KV-v2 path and returns the inner
// "data" map, unwrapping the v2 envelope automatically.
func (s *SecretManager) GetKV2(path string) (map[string]interface{}, error) {
	secret, err := s.client.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no data found at %s", path)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected data format at %s", path)
	}
	return data, nil
}

// ApplySecrets overlays JWT_SECRET / REDIS_URL read from a KV2 path onto
// an existing Config, returning the merged result. Missing keys in the
// Vault response leave the existing Config value untouched.
func (c Config) ApplySecrets(sm *SecretManager, path string) (Config, error) {
	data, err := sm.GetKV2(path)
	if err != nil {
		return c, err
	}
	if v, ok := data["JWT_SECRET"].(string); ok && v != "" {
		c.JWTSecret = v
	}
	if v, ok := data["REDIS_URL"].(string); ok && v != "" {
		c.RedisURL = v
	}
	return c, nil
}
