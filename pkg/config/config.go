package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/telekom/mcauth/pkg/minecraft"
	"github.com/telekom/mcauth/pkg/msa"
	"github.com/telekom/mcauth/pkg/utils"
	"github.com/telekom/mcauth/pkg/xbox"
)

const (
	VersionV1 = "v1"

	TokenStorageFile     = "file"
	TokenStorageKeychain = "keychain"
)

// Environment overrides.
const (
	EnvConfig       = "MCAUTH_CONFIG"
	EnvAccountsFile = "MCAUTH_ACCOUNTS_FILE"
	EnvTokenStorage = "MCAUTH_TOKEN_STORAGE"
	EnvClientID     = "MCAUTH_CLIENT_ID"
	EnvVerbose      = "MCAUTH_VERBOSE"
)

type Config struct {
	Version         string        `yaml:"version"`
	ClientID        string        `yaml:"client-id,omitempty"`
	Scopes          []string      `yaml:"scopes,omitempty"`
	Endpoints       Endpoints     `yaml:"endpoints,omitempty"`
	RpsTicketPrefix string        `yaml:"rps-ticket-prefix,omitempty"`
	Storage         Storage       `yaml:"storage,omitempty"`
	Retry           Retry         `yaml:"retry,omitempty"`
	RefreshMargin   time.Duration `yaml:"refresh-margin,omitempty"`
	HTTP            HTTP          `yaml:"http,omitempty"`
	Verbose         bool          `yaml:"verbose,omitempty"`
}

type Endpoints struct {
	DeviceCode string `yaml:"device-code,omitempty"`
	Token      string `yaml:"token,omitempty"`
	XBL        string `yaml:"xbl,omitempty"`
	XSTS       string `yaml:"xsts,omitempty"`
	Minecraft  string `yaml:"minecraft,omitempty"`
}

type Storage struct {
	AccountsFile string `yaml:"accounts-file,omitempty"`
	TokenStorage string `yaml:"token-storage,omitempty"`
}

type Retry struct {
	Attempts int           `yaml:"attempts,omitempty"`
	Base     time.Duration `yaml:"base,omitempty"`
	Factor   float64       `yaml:"factor,omitempty"`
}

type HTTP struct {
	Timeout         time.Duration `yaml:"timeout,omitempty"`
	RateLimit       float64       `yaml:"rate-limit,omitempty"`
	RateBurst       int           `yaml:"rate-burst,omitempty"`
	CAFile          string        `yaml:"ca-file,omitempty"`
	InsecureSkipTLS bool          `yaml:"insecure-skip-tls-verify,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Version: VersionV1,
		Scopes:  append([]string(nil), msa.DefaultScopes...),
		Endpoints: Endpoints{
			DeviceCode: msa.DefaultDeviceAuthURL,
			Token:      msa.DefaultTokenURL,
			XBL:        xbox.DefaultUserAuthURL,
			XSTS:       xbox.DefaultXSTSURL,
			Minecraft:  minecraft.DefaultBaseURL,
		},
		RpsTicketPrefix: xbox.DefaultTicketPrefix,
		Storage: Storage{
			AccountsFile: DefaultAccountsPath(),
			TokenStorage: TokenStorageFile,
		},
		Retry: Retry{
			Attempts: 3,
			Base:     time.Second,
			Factor:   2,
		},
		RefreshMargin: 5 * time.Minute,
		HTTP: HTTP{
			Timeout:   30 * time.Second,
			RateLimit: 5,
			RateBurst: 5,
		},
	}
}

// Load reads path and fills every unset field from DefaultConfig. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	cfg := DefaultConfig()
	content, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		return &cfg, nil
	}
	var fromFile Config
	if err := yaml.Unmarshal(content, &fromFile); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.merge(fromFile)
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}

func (c *Config) merge(o Config) {
	if o.Version != "" {
		c.Version = o.Version
	}
	setString(&c.ClientID, o.ClientID)
	if len(o.Scopes) > 0 {
		c.Scopes = o.Scopes
	}
	setString(&c.Endpoints.DeviceCode, o.Endpoints.DeviceCode)
	setString(&c.Endpoints.Token, o.Endpoints.Token)
	setString(&c.Endpoints.XBL, o.Endpoints.XBL)
	setString(&c.Endpoints.XSTS, o.Endpoints.XSTS)
	setString(&c.Endpoints.Minecraft, o.Endpoints.Minecraft)
	setString(&c.RpsTicketPrefix, o.RpsTicketPrefix)
	setString(&c.Storage.AccountsFile, o.Storage.AccountsFile)
	setString(&c.Storage.TokenStorage, o.Storage.TokenStorage)
	if o.Retry.Attempts > 0 {
		c.Retry.Attempts = o.Retry.Attempts
	}
	if o.Retry.Base > 0 {
		c.Retry.Base = o.Retry.Base
	}
	if o.Retry.Factor > 0 {
		c.Retry.Factor = o.Retry.Factor
	}
	if o.RefreshMargin > 0 {
		c.RefreshMargin = o.RefreshMargin
	}
	if o.HTTP.Timeout > 0 {
		c.HTTP.Timeout = o.HTTP.Timeout
	}
	if o.HTTP.RateLimit != 0 {
		c.HTTP.RateLimit = o.HTTP.RateLimit
	}
	if o.HTTP.RateBurst > 0 {
		c.HTTP.RateBurst = o.HTTP.RateBurst
	}
	setString(&c.HTTP.CAFile, o.HTTP.CAFile)
	c.HTTP.InsecureSkipTLS = c.HTTP.InsecureSkipTLS || o.HTTP.InsecureSkipTLS
	c.Verbose = c.Verbose || o.Verbose
}

func setString(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = v
	}
}

// ApplyEnv overrides fields from MCAUTH_* variables.
func (c *Config) ApplyEnv() {
	setString(&c.Storage.AccountsFile, os.Getenv(EnvAccountsFile))
	setString(&c.Storage.TokenStorage, os.Getenv(EnvTokenStorage))
	setString(&c.ClientID, os.Getenv(EnvClientID))
	if v, err := strconv.ParseBool(os.Getenv(EnvVerbose)); err == nil {
		c.Verbose = v
	}
}

func (c *Config) Validate() error {
	if c.Version == "" {
		return errors.New("config version missing")
	}
	if c.Version != VersionV1 {
		return fmt.Errorf("unsupported config version %q", c.Version)
	}
	endpoints := []struct{ name, value string }{
		{"endpoints.device-code", c.Endpoints.DeviceCode},
		{"endpoints.token", c.Endpoints.Token},
		{"endpoints.xbl", c.Endpoints.XBL},
		{"endpoints.xsts", c.Endpoints.XSTS},
		{"endpoints.minecraft", c.Endpoints.Minecraft},
	}
	for _, e := range endpoints {
		if err := validateURL(e.name, e.value); err != nil {
			return err
		}
	}
	switch c.Storage.TokenStorage {
	case TokenStorageFile:
		if strings.TrimSpace(c.Storage.AccountsFile) == "" {
			return errors.New("storage.accounts-file is required for file token storage")
		}
	case TokenStorageKeychain:
	default:
		return fmt.Errorf("storage.token-storage must be %q or %q, got %q", TokenStorageFile, TokenStorageKeychain, c.Storage.TokenStorage)
	}
	if c.Retry.Attempts < 1 {
		return errors.New("retry.attempts must be at least 1")
	}
	if c.Retry.Factor < 1 {
		return errors.New("retry.factor must be at least 1")
	}
	if c.RefreshMargin < 0 {
		return errors.New("refresh-margin cannot be negative")
	}
	return nil
}

// ValidateLogin checks what a device-code login needs beyond Validate.
func (c *Config) ValidateLogin() error {
	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("client-id is required: set it in the config file or %s", EnvClientID)
	}
	return nil
}

func validateURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", name, raw)
	}
	return nil
}

// RetryConfig converts the retry section for utils.Retry.
func (c *Config) RetryConfig() utils.RetryConfig {
	rc := utils.DefaultRetryConfig()
	rc.Attempts = c.Retry.Attempts
	rc.InitialBackoff = c.Retry.Base
	rc.BackoffMultiplier = c.Retry.Factor
	return rc
}
