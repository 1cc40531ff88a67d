package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	DefaultStoragePath = "./data/tokens.json"

	StorageFile   = "file"
	StorageSQLite = "sqlite"
	StorageMongo  = "mongo"
)

type Config struct {
	Env         string        `yaml:"env" env:"ENV" env-default:"local"`
	AppBaseURL  string        `yaml:"app_base_url" env:"APP_BASE_URL" env-required:"true"`
	StateSecret string        `yaml:"state_hmac_secret" env:"STATE_HMAC_SECRET" env-required:"true"`
	StateTTL    time.Duration `yaml:"state_ttl" env:"STATE_TTL" env-default:"10m"`
	HubSpot     HubSpotConfig `yaml:"hubspot"`
	HTTP        HTTPConfig    `yaml:"http"`
	Storage     StorageConfig `yaml:"storage"`
}

type HubSpotConfig struct {
	ClientID     string        `yaml:"client_id" env:"HUBSPOT_CLIENT_ID" env-required:"true"`
	ClientSecret string        `yaml:"client_secret" env:"HUBSPOT_CLIENT_SECRET" env-required:"true"`
	RedirectURI  string        `yaml:"redirect_uri" env:"HUBSPOT_REDIRECT_URI" env-required:"true"`
	Scopes       []string      `yaml:"scopes" env:"HUBSPOT_SCOPES" env-default:"oauth,crm.objects.contacts.read,crm.objects.contacts.write"`
	AuthURL      string        `yaml:"auth_url" env:"HUBSPOT_AUTH_URL" env-default:"https://app.hubspot.com/oauth/authorize"`
	APIBaseURL   string        `yaml:"api_base_url" env:"HUBSPOT_API_BASE_URL" env-default:"https://api.hubapi.com"`
	Timeout      time.Duration `yaml:"timeout" env:"HUBSPOT_HTTP_TIMEOUT" env-default:"8s"`
	RefreshSkew  time.Duration `yaml:"refresh_skew" env:"TOKEN_REFRESH_SKEW" env-default:"120s"`
}

type HTTPConfig struct {
	Port            int           `yaml:"port" env:"PORT" env-default:"3000"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT" env-default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"5s"`
}

type StorageConfig struct {
	Driver        string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"file"`
	Path          string `yaml:"path" env:"STORAGE_PATH" env-default:"./data/tokens.json"`
	MongoURI      string `yaml:"mongo_uri" env:"MONGO_URI"`
	MongoDatabase string `yaml:"mongo_database" env:"MONGO_DATABASE" env-default:"hubbridge"`
	EncryptionKey string `yaml:"encryption_key" env:"TOKEN_ENCRYPTION_KEY"`
}

var (
	ErrUnknownStorageDriver = errors.New("unknown storage driver")
	ErrMongoURIRequired     = errors.New("MONGO_URI is required for the mongo storage driver")
)

// MustLoad loads the config from the file given by --config or CONFIG_PATH,
// or from the environment alone when neither is set. It panics on any error,
// so a missing required variable stops the process before it listens.
func MustLoad() *Config {
	cfg, err := Load(fetchConfigPath())
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	return cfg
}

// Load reads the config file at path (if any) and then the environment.
// Environment variables always take precedence over file values.
func Load(path string) (*Config, error) {
	const op = "config.Load"

	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: config file not found: %s", op, path)
		}

		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case StorageFile, StorageSQLite:
	case StorageMongo:
		if c.Storage.MongoURI == "" {
			return ErrMongoURIRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStorageDriver, c.Storage.Driver)
	}

	return nil
}

// fetchConfigPath fetches config path from command line flag or environment variable.
// Priority: flag > env > default.
// Default value is empty string.
func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
