package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	defaultAPIEndpoint = "http://api.openweathermap.org/data/2.5/air_pollution/history"
	defaultCityListURL = "http://bulk.openweathermap.org/sample/city.list.json.gz"
	defaultStart       = 1735689600 // 2025-01-01T00:00:00Z
	defaultEnd         = 1759334400 // 2025-10-01T16:00:00Z
)

var validate = validator.New()

// Config holds runtime configuration for the pipeline and its tools.
type Config struct {
	API      APIConfig
	Window   WindowConfig
	Cities   CitiesConfig
	Output   OutputConfig
	Logging  LoggingConfig
	Database DatabaseConfig
	Influx   InfluxConfig
	Server   ServerConfig
}

// APIConfig configures the air pollution history endpoint.
type APIConfig struct {
	Endpoint string `validate:"required,url"`
	Key      string `validate:"required"`
	// Timeout of zero leaves the HTTP client's defaults in place.
	Timeout time.Duration `validate:"gte=0"`
}

// WindowConfig is the [Start, End] range requested for every location, as Unix seconds.
// Ordering is left to the API.
type WindowConfig struct {
	Start int64
	End   int64
}

// CitiesConfig drives the upstream city list stage.
type CitiesConfig struct {
	ListURL      string `validate:"required,url"`
	ArchivePath  string `validate:"required"`
	CSVPath      string `validate:"required"`
	CountryCode  string `validate:"required,len=2"`
	SkipDownload bool
}

// OutputConfig controls where artifacts go and how timestamps are rendered.
type OutputConfig struct {
	Dir      string `validate:"required"`
	Timezone string
}

// Location resolves Timezone, defaulting to the process local zone.
func (o OutputConfig) Location() (*time.Location, error) {
	if o.Timezone == "" || o.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(o.Timezone)
}

// LoggingConfig configures the log sinks.
type LoggingConfig struct {
	Level     string `validate:"oneof=debug info warn warning error"`
	Dir       string
	MaxSizeMB int `validate:"gte=0"`
	Console   bool
}

// DatabaseConfig enables the PostgreSQL mirror sink.
type DatabaseConfig struct {
	Enabled         bool
	Host            string `validate:"required_if=Enabled true"`
	Port            int    `validate:"required_if=Enabled true,gte=0,lte=65535"`
	User            string `validate:"required_if=Enabled true"`
	Password        string
	Database        string `validate:"required_if=Enabled true"`
	SSLMode         string `validate:"oneof=disable require verify-ca verify-full"`
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// InfluxConfig enables the InfluxDB mirror sink.
type InfluxConfig struct {
	Enabled bool
	URL     string `validate:"required_if=Enabled true"`
	Token   string `validate:"required_if=Enabled true"`
	Org     string `validate:"required_if=Enabled true"`
	Bucket  string `validate:"required_if=Enabled true"`
}

// ServerConfig enables the status server when Addr is set.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// LoadConfig reads configuration from environment variables (optionally .env).
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{}
	var err error

	cfg.API.Endpoint = getenvDefault("AIR_POLLUTION_ENDPOINT", defaultAPIEndpoint)
	cfg.API.Key = strings.TrimSpace(os.Getenv("OPENWEATHER_API_KEY"))
	if cfg.API.Timeout, err = getenvDuration("API_TIMEOUT", 0); err != nil {
		return nil, err
	}

	if cfg.Window.Start, err = getenvInt64("WINDOW_START", defaultStart); err != nil {
		return nil, err
	}
	if cfg.Window.End, err = getenvInt64("WINDOW_END", defaultEnd); err != nil {
		return nil, err
	}

	cfg.Cities.ListURL = getenvDefault("CITY_LIST_URL", defaultCityListURL)
	cfg.Cities.ArchivePath = getenvDefault("CITY_ARCHIVE_PATH", "./data/city.list.json.gz")
	cfg.Cities.CSVPath = getenvDefault("CITY_CSV_PATH", "./data/PH_cities.csv")
	cfg.Cities.CountryCode = strings.ToUpper(getenvDefault("COUNTRY_CODE", "PH"))
	cfg.Cities.SkipDownload = getenvBool("CITY_SKIP_DOWNLOAD", false)

	cfg.Output.Dir = getenvDefault("OUTPUT_DIR", "./data/city")
	cfg.Output.Timezone = os.Getenv("OUTPUT_TIMEZONE")

	cfg.Logging.Level = strings.ToLower(getenvDefault("LOG_LEVEL", "info"))
	cfg.Logging.Dir = getenvDefault("LOG_DIR", "logs")
	cfg.Logging.MaxSizeMB = getenvInt("LOG_MAX_SIZE_MB", 10)
	cfg.Logging.Console = getenvBool("LOG_CONSOLE", true)

	cfg.Database.Enabled = getenvBool("DB_ENABLED", false)
	cfg.Database.Host = getenvDefault("DB_HOST", "localhost")
	cfg.Database.Port = getenvInt("DB_PORT", 5432)
	cfg.Database.User = getenvDefault("DB_USER", "postgres")
	cfg.Database.Password = os.Getenv("DB_PASSWORD")
	cfg.Database.Database = getenvDefault("DB_NAME", "air_quality")
	cfg.Database.SSLMode = getenvDefault("DB_SSLMODE", "disable")
	cfg.Database.MaxOpenConns = getenvInt("DB_MAX_OPEN_CONNS", 5)
	cfg.Database.MaxIdleConns = getenvInt("DB_MAX_IDLE_CONNS", 2)
	if cfg.Database.ConnMaxLifetime, err = getenvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Database.ConnMaxIdleTime, err = getenvDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute); err != nil {
		return nil, err
	}

	cfg.Influx.Enabled = getenvBool("INFLUXDB_ENABLED", false)
	cfg.Influx.URL = os.Getenv("INFLUXDB_URL")
	cfg.Influx.Token = os.Getenv("INFLUXDB_TOKEN")
	cfg.Influx.Org = os.Getenv("INFLUXDB_ORG")
	cfg.Influx.Bucket = getenvDefault("INFLUXDB_BUCKET", "air_quality")

	cfg.Server.Addr = os.Getenv("SERVER_ADDR")
	if cfg.Server.ReadTimeout, err = getenvDuration("SERVER_READ_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.Server.WriteTimeout, err = getenvDuration("SERVER_WRITE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.Server.IdleTimeout, err = getenvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks struct constraints and the output timezone.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := c.Output.Location(); err != nil {
		return fmt.Errorf("invalid OUTPUT_TIMEZONE: %w", err)
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvInt64(key string, def int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
}
