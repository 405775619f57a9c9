// Package config provides configuration for the WIP servers. Values come
// from three layers: built-in defaults, an optional YAML file, and
// uppercase environment variables mirroring the config keys. Environment
// overrides the file; explicit constructor arguments in calling code
// override both.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Default UDP ports per server role.
const (
	DefaultWeatherPort  = 4110
	DefaultLocationPort = 4109
	DefaultQueryPort    = 4111
	DefaultReportPort   = 4112
)

// Common holds the settings every server role recognizes.
type Common struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	Debug             bool   `yaml:"debug"`
	MaxWorkers        int    `yaml:"max_workers"`
	ProtocolVersion   int    `yaml:"protocol_version"`
	AuthEnabled       bool   `yaml:"auth_enabled"`
	Passphrase        string `yaml:"passphrase"`
	HashAlgorithm     string `yaml:"hash_algorithm"`
	UDPBufferSize     int    `yaml:"udp_buffer_size"`
	ResponseTimeoutMS int    `yaml:"response_timeout_ms"`
	LogFile           string `yaml:"log_file"`
}

// ResponseTimeout returns the downstream I/O deadline.
func (c Common) ResponseTimeout() time.Duration {
	return time.Duration(c.ResponseTimeoutMS) * time.Millisecond
}

// Addr renders the listen address.
func (c Common) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WeatherConfig configures the proxy.
type WeatherConfig struct {
	Common `yaml:",inline"`

	LocationServerHost string `yaml:"location_server_host"`
	LocationServerPort int    `yaml:"location_server_port"`
	QueryServerHost    string `yaml:"query_server_host"`
	QueryServerPort    int    `yaml:"query_server_port"`
	ReportServerHost   string `yaml:"report_server_host"`
	ReportServerPort   int    `yaml:"report_server_port"`

	// Per-hop authentication toward the backends.
	LocationAuthEnabled bool   `yaml:"location_auth_enabled"`
	LocationPassphrase  string `yaml:"location_passphrase"`
	QueryAuthEnabled    bool   `yaml:"query_auth_enabled"`
	QueryPassphrase     string `yaml:"query_passphrase"`
	ReportAuthEnabled   bool   `yaml:"report_auth_enabled"`
	ReportPassphrase    string `yaml:"report_passphrase"`

	CoordinateCacheTTLHours int    `yaml:"coordinate_cache_ttl_hours"`
	CoordinateCacheSize     int    `yaml:"coordinate_cache_size"`
	WeatherCacheTTLMinutes  int    `yaml:"weather_cache_ttl_minutes"`
	CacheSnapshotPath       string `yaml:"cache_snapshot_path"`
}

// CoordinateCacheTTL returns the coordinate cache entry lifetime.
func (c WeatherConfig) CoordinateCacheTTL() time.Duration {
	return time.Duration(c.CoordinateCacheTTLHours) * time.Hour
}

// WeatherCacheTTL returns the weather cache entry lifetime.
func (c WeatherConfig) WeatherCacheTTL() time.Duration {
	return time.Duration(c.WeatherCacheTTLMinutes) * time.Minute
}

// LocationAddr renders the location server address.
func (c WeatherConfig) LocationAddr() string {
	return fmt.Sprintf("%s:%d", c.LocationServerHost, c.LocationServerPort)
}

// QueryAddr renders the query server address.
func (c WeatherConfig) QueryAddr() string {
	return fmt.Sprintf("%s:%d", c.QueryServerHost, c.QueryServerPort)
}

// ReportAddr renders the report server address.
func (c WeatherConfig) ReportAddr() string {
	return fmt.Sprintf("%s:%d", c.ReportServerHost, c.ReportServerPort)
}

// LocationConfig configures the coordinate resolver.
type LocationConfig struct {
	Common `yaml:",inline"`

	DatabaseDSN             string `yaml:"database_dsn"`
	DatabaseMinConns        int    `yaml:"database_min_conns"`
	DatabaseMaxConns        int    `yaml:"database_max_conns"`
	CoordinateCacheTTLHours int    `yaml:"coordinate_cache_ttl_hours"`
}

// CoordinateCacheTTL returns the area-code cache entry lifetime.
func (c LocationConfig) CoordinateCacheTTL() time.Duration {
	return time.Duration(c.CoordinateCacheTTLHours) * time.Hour
}

// QueryConfig configures the cached data query service.
type QueryConfig struct {
	Common `yaml:",inline"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	DisasterAlertCacheMin        int    `yaml:"disaster_alert_cache_min"`
	WeatherUpdateTime            string `yaml:"weather_update_time"`
	SkipAreaCheckIntervalMinutes int    `yaml:"skip_area_check_interval_minutes"`
}

// StalenessBound returns how old the alert/disaster pull timestamps may be
// before a refresh is triggered.
func (c QueryConfig) StalenessBound() time.Duration {
	return time.Duration(c.DisasterAlertCacheMin) * time.Minute
}

// UpdateTimes splits the comma-separated weather_update_time list.
func (c QueryConfig) UpdateTimes() []string {
	parts := strings.Split(c.WeatherUpdateTime, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// ReportConfig configures the sensor report sink.
type ReportConfig struct {
	Common `yaml:",inline"`

	ReportDir         string `yaml:"report_dir"`
	MaxReportsPerArea int    `yaml:"max_reports_per_area"`
}

// Config aggregates every server role. Each binary reads its own section.
type Config struct {
	Weather  WeatherConfig  `yaml:"weather_server"`
	Location LocationConfig `yaml:"location_server"`
	Query    QueryConfig    `yaml:"query_server"`
	Report   ReportConfig   `yaml:"report_server"`
}

// Default returns the built-in configuration.
func Default() *Config {
	common := func(port int) Common {
		return Common{
			Host:              "0.0.0.0",
			Port:              port,
			MaxWorkers:        8,
			ProtocolVersion:   1,
			HashAlgorithm:     "sha512",
			UDPBufferSize:     4096,
			ResponseTimeoutMS: 10000,
		}
	}
	return &Config{
		Weather: WeatherConfig{
			Common:                  common(DefaultWeatherPort),
			LocationServerHost:      "127.0.0.1",
			LocationServerPort:      DefaultLocationPort,
			QueryServerHost:         "127.0.0.1",
			QueryServerPort:         DefaultQueryPort,
			ReportServerHost:        "127.0.0.1",
			ReportServerPort:        DefaultReportPort,
			CoordinateCacheTTLHours: 168,
			CoordinateCacheSize:     65536,
			WeatherCacheTTLMinutes:  10,
		},
		Location: LocationConfig{
			Common:                  common(DefaultLocationPort),
			DatabaseMinConns:        1,
			DatabaseMaxConns:        10,
			CoordinateCacheTTLHours: 168,
		},
		Query: QueryConfig{
			Common:                       common(DefaultQueryPort),
			RedisAddr:                    "localhost:6379",
			DisasterAlertCacheMin:        1440,
			WeatherUpdateTime:            "03:00",
			SkipAreaCheckIntervalMinutes: 10,
		},
		Report: ReportConfig{
			Common:            common(DefaultReportPort),
			ReportDir:         "data/reports",
			MaxReportsPerArea: 1000,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and environment overrides, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays the uppercase environment mirror of the config keys.
func (c *Config) applyEnv() {
	applyCommonEnv("WEATHER_SERVER", &c.Weather.Common)
	applyCommonEnv("LOCATION_SERVER", &c.Location.Common)
	applyCommonEnv("QUERY_SERVER", &c.Query.Common)
	applyCommonEnv("REPORT_SERVER", &c.Report.Common)

	envString("LOCATION_SERVER_DATABASE_DSN", &c.Location.DatabaseDSN)
	envInt("LOCATION_SERVER_DATABASE_MIN_CONNS", &c.Location.DatabaseMinConns)
	envInt("LOCATION_SERVER_DATABASE_MAX_CONNS", &c.Location.DatabaseMaxConns)

	envString("QUERY_SERVER_REDIS_ADDR", &c.Query.RedisAddr)
	envString("QUERY_SERVER_REDIS_PASSWORD", &c.Query.RedisPassword)
	envInt("QUERY_SERVER_REDIS_DB", &c.Query.RedisDB)
	envInt("DISASTER_ALERT_CACHE_MIN", &c.Query.DisasterAlertCacheMin)
	envString("WEATHER_UPDATE_TIME", &c.Query.WeatherUpdateTime)
	envInt("SKIP_AREA_CHECK_INTERVAL_MINUTES", &c.Query.SkipAreaCheckIntervalMinutes)

	envString("REPORT_SERVER_REPORT_DIR", &c.Report.ReportDir)
	envInt("REPORT_SERVER_MAX_REPORTS_PER_AREA", &c.Report.MaxReportsPerArea)

	envString("WEATHER_SERVER_LOCATION_SERVER_HOST", &c.Weather.LocationServerHost)
	envInt("WEATHER_SERVER_LOCATION_SERVER_PORT", &c.Weather.LocationServerPort)
	envString("WEATHER_SERVER_QUERY_SERVER_HOST", &c.Weather.QueryServerHost)
	envInt("WEATHER_SERVER_QUERY_SERVER_PORT", &c.Weather.QueryServerPort)
	envString("WEATHER_SERVER_REPORT_SERVER_HOST", &c.Weather.ReportServerHost)
	envInt("WEATHER_SERVER_REPORT_SERVER_PORT", &c.Weather.ReportServerPort)

	envBool("LOCATION_AUTH_ENABLED", &c.Weather.LocationAuthEnabled)
	envString("LOCATION_PASSPHRASE", &c.Weather.LocationPassphrase)
	envBool("QUERY_AUTH_ENABLED", &c.Weather.QueryAuthEnabled)
	envString("QUERY_PASSPHRASE", &c.Weather.QueryPassphrase)
	envBool("REPORT_AUTH_ENABLED", &c.Weather.ReportAuthEnabled)
	envString("REPORT_PASSPHRASE", &c.Weather.ReportPassphrase)

	envInt("COORDINATE_CACHE_TTL_HOURS", &c.Weather.CoordinateCacheTTLHours)
	envInt("WEATHER_CACHE_TTL_MINUTES", &c.Weather.WeatherCacheTTLMinutes)
	envString("CACHE_SNAPSHOT_PATH", &c.Weather.CacheSnapshotPath)
}

func applyCommonEnv(prefix string, c *Common) {
	envString(prefix+"_HOST", &c.Host)
	envInt(prefix+"_PORT", &c.Port)
	envBool(prefix+"_DEBUG", &c.Debug)
	envInt(prefix+"_MAX_WORKERS", &c.MaxWorkers)
	envInt(prefix+"_PROTOCOL_VERSION", &c.ProtocolVersion)
	envBool(prefix+"_AUTH_ENABLED", &c.AuthEnabled)
	envString(prefix+"_PASSPHRASE", &c.Passphrase)
	envString(prefix+"_HASH_ALGORITHM", &c.HashAlgorithm)
	envInt(prefix+"_UDP_BUFFER_SIZE", &c.UDPBufferSize)
	envInt(prefix+"_RESPONSE_TIMEOUT_MS", &c.ResponseTimeoutMS)
	envString(prefix+"_LOG_FILE", &c.LogFile)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
