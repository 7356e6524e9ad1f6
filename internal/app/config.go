package app

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/promptsmith/internal/gigachat"
)

// Duration decodes TOML strings like "30m" or "15s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	Server struct {
		Port            string   `toml:"port"`
		StaticDir       string   `toml:"static_dir"`
		ClientIDHeader  string   `toml:"client_id_header"`
		ReceiptHeader   string   `toml:"receipt_header"`
		AdminToken      string   `toml:"admin_token"`
		ShutdownTimeout Duration `toml:"shutdown_timeout"`
	} `toml:"server"`

	GigaChat struct {
		AuthURL            string   `toml:"auth_url"`
		APIURL             string   `toml:"api_url"`
		Credential         string   `toml:"credential"`
		Scope              string   `toml:"scope"`
		Model              string   `toml:"model"`
		Temperature        *float64 `toml:"temperature"`
		MaxTokens          int      `toml:"max_tokens"`
		DefaultTokenTTL    Duration `toml:"default_token_ttl"`
		AuthTimeout        Duration `toml:"auth_timeout"`
		CompletionTimeout  Duration `toml:"completion_timeout"`
		CAFile             string   `toml:"ca_file"`
		InsecureSkipVerify bool     `toml:"insecure_skip_verify"`
	} `toml:"gigachat"`

	Quota struct {
		Enabled        bool   `toml:"enabled"`
		RedisURL       string `toml:"redis_url"`
		KeyTemplate    string `toml:"key_template"`
		FreeLimit      int    `toml:"free_limit"`
		BonusBlockSize int    `toml:"bonus_block_size"`
	} `toml:"quota"`

	Payment struct {
		Enabled       bool     `toml:"enabled"`
		APIURL        string   `toml:"api_url"`
		ShopID        string   `toml:"shop_id"`
		SecretKey     string   `toml:"secret_key"`
		BaseURL       string   `toml:"base_url"`
		Price         float64  `toml:"price"`
		Currency      string   `toml:"currency"`
		Description   string   `toml:"description"`
		ReceiptSecret string   `toml:"receipt_secret"`
		Timeout       Duration `toml:"timeout"`

		// ReconcileSchedule is a cron expression; empty disables reconciliation.
		ReconcileSchedule string   `toml:"reconcile_schedule"`
		ReconcileMaxAge   Duration `toml:"reconcile_max_age"`
	} `toml:"payment"`

	Database struct {
		DSN           string `toml:"dsn"`
		MigrationsDir string `toml:"migrations_dir"`
	} `toml:"database"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return ParseConfig(path, data)
}

// ParseConfig decodes the TOML, expands ${VAR} references in string values
// from the environment and fills in defaults.
func ParseConfig(name string, data []byte) (*Config, error) {
	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error reading config file %s\n> Error: %w", name, err)
	}

	expandEnvStrings(reflect.ValueOf(&config).Elem())
	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, err
	}

	logger.Debug.Printf(
		"Loaded config: port=%s quota=%t payment=%t model=%s",
		config.Server.Port,
		config.Quota.Enabled,
		config.Payment.Enabled,
		config.GigaChat.Model,
	)

	return &config, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvStrings replaces ${VAR} in every string field. A bare $ is kept as is.
func expandEnvStrings(v reflect.Value) {
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).IsExported() {
				expandEnvStrings(v.Field(i))
			}
		}
	case reflect.String:
		if v.CanSet() && strings.Contains(v.String(), "${") {
			v.SetString(envRef.ReplaceAllStringFunc(v.String(), func(ref string) string {
				return os.Getenv(envRef.FindStringSubmatch(ref)[1])
			}))
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.ClientIDHeader == "" {
		c.Server.ClientIDHeader = "X-Client-ID"
	}
	if c.Server.ReceiptHeader == "" {
		c.Server.ReceiptHeader = "X-Access-Receipt"
	}
	if c.Server.ShutdownTimeout.Duration == 0 {
		c.Server.ShutdownTimeout.Duration = 10 * time.Second
	}

	if c.Quota.KeyTemplate == "" {
		c.Quota.KeyTemplate = "quota:{client}"
	}
	if c.Quota.FreeLimit == 0 {
		c.Quota.FreeLimit = 10
	}
	if c.Quota.BonusBlockSize == 0 {
		c.Quota.BonusBlockSize = 10
	}

	if c.Payment.Price == 0 {
		c.Payment.Price = 99
	}
	if c.Payment.Currency == "" {
		c.Payment.Currency = "RUB"
	}
	if c.Payment.ReconcileMaxAge.Duration == 0 {
		c.Payment.ReconcileMaxAge.Duration = 24 * time.Hour
	}
	if c.Payment.Description == "" {
		c.Payment.Description = "Lifetime access to the prompt improver"
	}

	if c.Database.MigrationsDir == "" {
		c.Database.MigrationsDir = "./migrations"
	}
}

func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("Server port is not specified in config, use a value like :9999")
	}
	if c.Quota.Enabled && c.Quota.RedisURL == "" {
		return fmt.Errorf("quota is enabled but quota.redis_url is empty")
	}
	if c.Payment.Enabled {
		if c.Payment.BaseURL == "" {
			return fmt.Errorf("payment is enabled but payment.base_url is empty")
		}
		if c.Database.DSN == "" {
			return fmt.Errorf("payment is enabled but database.dsn is empty")
		}
	}
	return nil
}

// GigaChatConfig converts the TOML section into the client configuration.
func (c *Config) GigaChatConfig() gigachat.Config {
	g := c.GigaChat
	return gigachat.Config{
		AuthURL:            g.AuthURL,
		APIURL:             g.APIURL,
		Credential:         g.Credential,
		Scope:              g.Scope,
		Model:              g.Model,
		Temperature:        g.Temperature,
		MaxTokens:          g.MaxTokens,
		DefaultTokenTTL:    g.DefaultTokenTTL.Duration,
		AuthTimeout:        g.AuthTimeout.Duration,
		CompletionTimeout:  g.CompletionTimeout.Duration,
		CAFile:             g.CAFile,
		InsecureSkipVerify: g.InsecureSkipVerify,
	}
}

// ReturnURL is where YooKassa sends the browser after checkout.
func (c *Config) ReturnURL() string {
	return strings.TrimRight(c.Payment.BaseURL, "/") + "/payment?payment=success"
}
