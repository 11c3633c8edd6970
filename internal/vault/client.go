package vault

import (
	"context"
	"errors"
	"fmt"
	"os"

	vault "github.com/hashicorp/vault/api"
	"github.com/mitchellh/mapstructure"
)

const (
	approleSecretIDPath = "auth/approle/role/%s/secret-id"
	approleLoginPath    = "auth/approle/login"
)

// ErrClientInit indicates failure to initialize the Vault API client.
var ErrClientInit = errors.New("vault client initialization failed")

type Option func(*config)

type config struct {
	address  string
	token    string
	roleID   string
	roleName string
}

type Client struct {
	api    *vault.Client
	config *config
}

// RemoteCredentials are the secrets a remote provider may pull from a KV
// path instead of carrying them in the YAML config. Fields not present in
// the secret stay empty and the YAML value wins.
type RemoteCredentials struct {
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

func WithAddress(address string) Option {
	return func(c *config) {
		c.address = address
	}
}

func WithToken(token string) Option {
	return func(c *config) {
		c.token = token
	}
}

func WithAppRole(roleID, roleName string) Option {
	return func(c *config) {
		c.roleID = roleID
		c.roleName = roleName
	}
}

// NewClient creates and initializes a Vault Client using provided options.
// It will perform AppRole login if roleID and roleName are both set, otherwise
// a static token (from env or WithToken) is used.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	// Build default config from environment
	cfg := &config{
		address: os.Getenv("VAULT_ADDR"),
		token:   os.Getenv("VAULT_TOKEN"),
	}
	// Apply user options
	for _, opt := range opts {
		opt(cfg)
	}

	apiCfg := vault.DefaultConfig()
	if cfg.address != "" {
		apiCfg.Address = cfg.address
	}

	api, err := vault.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientInit, err)
	}

	client := &Client{api: api, config: cfg}

	// Set initial token for static auth
	if cfg.token != "" {
		client.api.SetToken(cfg.token)
	}

	// Perform AppRole login if configured
	if cfg.roleID != "" && cfg.roleName != "" {
		if err := client.loginAppRole(ctx); err != nil {
			return nil, fmt.Errorf("AppRole login failed: %w", err)
		}
	}

	return client, nil
}

// loginAppRole performs AppRole login using the configured roleID and roleName.
func (c *Client) loginAppRole(ctx context.Context) error {
	// Generate Secret ID
	path := fmt.Sprintf(approleSecretIDPath, c.config.roleName)
	resp, err := c.api.Logical().WriteWithContext(ctx, path, nil)
	if err != nil {
		return fmt.Errorf("generate secret_id: %w", err)
	}
	sid, ok := resp.Data["secret_id"].(string)
	if !ok || sid == "" {
		return fmt.Errorf("no secret_id returned from %s", path)
	}

	// Login using role_id + secret_id
	loginData := map[string]any{
		"role_id":   c.config.roleID,
		"secret_id": sid,
	}
	loginResp, err := c.api.Logical().WriteWithContext(ctx, approleLoginPath, loginData)
	if err != nil {
		return fmt.Errorf("approle login request: %w", err)
	}
	if loginResp.Auth == nil || loginResp.Auth.ClientToken == "" {
		return fmt.Errorf("no token in login response")
	}
	c.api.SetToken(loginResp.Auth.ClientToken)
	return nil
}

// GetRemoteCredentials reads the KV secret at path and decodes it into
// RemoteCredentials. KV v2 responses nest the payload under "data"; both
// layouts are accepted.
func (c *Client) GetRemoteCredentials(
	ctx context.Context,
	path string,
) (RemoteCredentials, error) {
	secret, err := c.api.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return RemoteCredentials{}, err
	}
	if secret == nil {
		return RemoteCredentials{}, fmt.Errorf("no data found at path: %s", path)
	}

	data := secret.Data
	if nested, ok := secret.Data["data"].(map[string]any); ok {
		data = nested
	}

	var creds RemoteCredentials
	if err := mapstructure.Decode(data, &creds); err != nil {
		return RemoteCredentials{}, fmt.Errorf("decode credentials at %s: %w", path, err)
	}
	return creds, nil
}
