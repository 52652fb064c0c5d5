package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	DB           DBConfig           `mapstructure:"db"`
	Cron         CronConfig         `mapstructure:"cron"`
	Loop         LoopConfig         `mapstructure:"loop"`
	Lock         LockConfig         `mapstructure:"lock"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Security     SecurityConfig     `mapstructure:"security"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	GHL          GHLConfig          `mapstructure:"ghl"`
	Teamleader   TeamleaderConfig   `mapstructure:"teamleader"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Tenants      TenantsConfig      `mapstructure:"tenants"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
	// PublicURL is used to build OAuth redirect links when no redirect_url is configured.
	PublicURL string `mapstructure:"public_url"`
	// APIToken guards /api/ routes. Empty leaves them open.
	APIToken string `mapstructure:"api_token"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
	// Output is a zap sink path; the CLI sets it to stderr to keep stdout for results.
	Output string `mapstructure:"output"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Sync    string `mapstructure:"sync"`
}

type LoopConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type LockConfig struct {
	Driver    string        `mapstructure:"driver"`
	TTL       time.Duration `mapstructure:"ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SecurityConfig struct {
	TokenKey     string `mapstructure:"token_key"`
	TokenPrevKey string `mapstructure:"token_prev_key"`
}

type HTTPConfig struct {
	GHL        HTTPClientConfig `mapstructure:"ghl"`
	Teamleader HTTPClientConfig `mapstructure:"teamleader"`
}

// HTTPClientConfig tunes the retrying adapter for one provider.
type HTTPClientConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	MaxJitter  time.Duration `mapstructure:"max_jitter"`
	RateLimit  float64       `mapstructure:"rate_limit"`
	Burst      int           `mapstructure:"burst"`
	Breaker    BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
}

type GHLConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	Version             string        `mapstructure:"version"`
	PageSize            int           `mapstructure:"page_size"`
	AppointmentWindow   time.Duration `mapstructure:"appointment_window"`
	AppointmentLookback time.Duration `mapstructure:"appointment_lookback"`
	AppointmentHorizon  time.Duration `mapstructure:"appointment_horizon"`
}

type TeamleaderConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	AuthURL      string `mapstructure:"auth_url"`
	TokenURL     string `mapstructure:"token_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
	PageSize     int    `mapstructure:"page_size"`

	RefreshBuffer time.Duration `mapstructure:"refresh_buffer"`
	// UpdatedSinceFormat is "date" or "datetime"; the other one is the fallback.
	UpdatedSinceFormat string `mapstructure:"updated_since_format"`

	EnrichmentCap            int            `mapstructure:"enrichment_cap"`
	AppointmentPhaseID       string         `mapstructure:"appointment_phase_id"`
	AppointmentPhaseKeywords map[string]int `mapstructure:"appointment_phase_keywords"`
}

type SyncConfig struct {
	FullSyncInterval time.Duration `mapstructure:"full_sync_interval"`
	RefreshWindow    time.Duration `mapstructure:"refresh_window"`
	UpsertChunkSize  int           `mapstructure:"upsert_chunk_size"`
	MaxPages         int           `mapstructure:"max_pages"`
	Prune            bool          `mapstructure:"prune"`
	DryRun           bool          `mapstructure:"dry_run"`

	Entities map[string]EntitySyncConfig `mapstructure:"entities"`
}

// EntitySyncConfig overrides SyncConfig for one entity. Zero values inherit;
// negative durations disable the inherited setting.
type EntitySyncConfig struct {
	Disabled         bool          `mapstructure:"disabled"`
	FullSyncInterval time.Duration `mapstructure:"full_sync_interval"`
	RefreshWindow    time.Duration `mapstructure:"refresh_window"`
	PageSize         int           `mapstructure:"page_size"`
	MaxPages         int           `mapstructure:"max_pages"`
	NoPrune          bool          `mapstructure:"no_prune"`
}

type OrchestratorConfig struct {
	FailFast bool     `mapstructure:"fail_fast"`
	Entities []string `mapstructure:"entities"`
}

type TenantsConfig struct {
	// Source is "config" (Static list) or "db" (tenants table).
	Source string         `mapstructure:"source"`
	Static []TenantConfig `mapstructure:"static"`
}

type TenantConfig struct {
	ID         string `mapstructure:"id"`
	Provider   string `mapstructure:"provider"`
	Name       string `mapstructure:"name"`
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	LocationID string `mapstructure:"location_id"`
	Disabled   bool   `mapstructure:"disabled"`
}

// Entity resolves the effective settings for one entity.
func (c SyncConfig) Entity(name string) EntitySettings {
	out := EntitySettings{
		Enabled:          true,
		FullSyncInterval: c.FullSyncInterval,
		RefreshWindow:    c.RefreshWindow,
		MaxPages:         c.MaxPages,
		Prune:            c.Prune,
		ChunkSize:        c.UpsertChunkSize,
	}
	o, ok := c.Entities[strings.ToLower(name)]
	if !ok {
		return out
	}
	out.Enabled = !o.Disabled
	out.FullSyncInterval = override(out.FullSyncInterval, o.FullSyncInterval)
	out.RefreshWindow = override(out.RefreshWindow, o.RefreshWindow)
	if o.PageSize > 0 {
		out.PageSize = o.PageSize
	}
	if o.MaxPages > 0 {
		out.MaxPages = o.MaxPages
	}
	if o.NoPrune {
		out.Prune = false
	}
	return out
}

type EntitySettings struct {
	Enabled          bool
	FullSyncInterval time.Duration
	RefreshWindow    time.Duration
	PageSize         int
	MaxPages         int
	Prune            bool
	ChunkSize        int
}

func override(base, v time.Duration) time.Duration {
	switch {
	case v < 0:
		return 0
	case v > 0:
		return v
	default:
		return base
	}
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DASHSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("server.api_token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("log.output", "stdout")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.sync", "@every 15m")
	v.SetDefault("loop.interval", "15m")
	v.SetDefault("lock.driver", "memory")
	v.SetDefault("lock.ttl", "2h")
	v.SetDefault("lock.key_prefix", "dashsync:lock:")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("security.token_key", "")
	v.SetDefault("security.token_prev_key", "")

	for _, p := range []string{"ghl", "teamleader"} {
		v.SetDefault("http."+p+".timeout", "30s")
		v.SetDefault("http."+p+".max_retries", 5)
		v.SetDefault("http."+p+".base_delay", "1s")
		v.SetDefault("http."+p+".max_delay", "60s")
		v.SetDefault("http."+p+".max_jitter", "250ms")
		v.SetDefault("http."+p+".breaker.enabled", true)
		v.SetDefault("http."+p+".breaker.max_requests", 3)
		v.SetDefault("http."+p+".breaker.interval", "1m")
		v.SetDefault("http."+p+".breaker.timeout", "2m")
		v.SetDefault("http."+p+".breaker.min_requests", 10)
		v.SetDefault("http."+p+".breaker.failure_ratio", 0.6)
	}
	// GHL allows 100 requests per 10 seconds per location.
	v.SetDefault("http.ghl.rate_limit", 8)
	v.SetDefault("http.ghl.burst", 10)
	v.SetDefault("http.teamleader.rate_limit", 3)
	v.SetDefault("http.teamleader.burst", 5)

	v.SetDefault("ghl.base_url", "https://services.leadconnectorhq.com")
	v.SetDefault("ghl.version", "2021-07-28")
	v.SetDefault("ghl.page_size", 100)
	v.SetDefault("ghl.appointment_window", "720h")
	v.SetDefault("ghl.appointment_lookback", "8760h")
	v.SetDefault("ghl.appointment_horizon", "2160h")

	v.SetDefault("teamleader.base_url", "https://api.focus.teamleader.eu")
	v.SetDefault("teamleader.auth_url", "https://focus.teamleader.eu/oauth2/authorize")
	v.SetDefault("teamleader.token_url", "https://focus.teamleader.eu/oauth2/access_token")
	v.SetDefault("teamleader.client_id", "")
	v.SetDefault("teamleader.client_secret", "")
	v.SetDefault("teamleader.redirect_url", "")
	v.SetDefault("teamleader.page_size", 100)
	v.SetDefault("teamleader.refresh_buffer", "5m")
	v.SetDefault("teamleader.updated_since_format", "date")
	v.SetDefault("teamleader.enrichment_cap", 50)
	v.SetDefault("teamleader.appointment_phase_id", "")
	v.SetDefault("teamleader.appointment_phase_keywords", map[string]int{
		"afspraak":    3,
		"appointment": 3,
		"rendez-vous": 3,
		"meeting":     2,
		"rdv":         2,
		"gepland":     1,
		"scheduled":   1,
		"intake":      1,
	})

	v.SetDefault("sync.full_sync_interval", "24h")
	v.SetDefault("sync.refresh_window", "0s")
	v.SetDefault("sync.upsert_chunk_size", 200)
	v.SetDefault("sync.max_pages", 0)
	v.SetDefault("sync.prune", true)
	v.SetDefault("sync.dry_run", false)

	v.SetDefault("orchestrator.fail_fast", false)
	v.SetDefault("orchestrator.entities", []string{})
	v.SetDefault("tenants.source", "config")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
