package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SecretEnv overrides auth.secret when set.
const SecretEnv = "GATEGUARD_AUTH_SECRET"

type Server struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
	IdleTimeoutMS  int    `yaml:"idle_timeout_ms"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
}

type Observability struct {
	LogLevel       string `yaml:"log_level"`       // "debug","info","warn","error"
	PrometheusPath string `yaml:"prometheus_path"` // e.g. "/metrics"
}

type Limits struct {
	Capacity       int   `yaml:"capacity"`
	WindowMS       int   `yaml:"window_ms"`
	FailOpen       *bool `yaml:"fail_open"` // default true
	StoreTimeoutMS int   `yaml:"store_timeout_ms"`

	// Proxies in front of the gateway that append to X-Forwarded-For.
	// Zero keys clients by the connection address.
	TrustedProxyHops int `yaml:"trusted_proxy_hops"`

	// Applied per client while the store is unreachable; zero disables.
	Fallback struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"fallback"`
}

type Redis struct {
	Memory     bool     `yaml:"memory"` // in-process store, single instance only
	Addrs      []string `yaml:"addrs"`
	Password   string   `yaml:"password"`
	DB         int      `yaml:"db"`
	Prefix     string   `yaml:"prefix"`
	TTLMS      *int     `yaml:"ttl_ms"` // 2x window when unset, 0 disables expiry
	MaxRetries int      `yaml:"max_retries"`
}

type Auth struct {
	Header    string `yaml:"header"`
	Secret    string `yaml:"secret"`
	TTLMS     int64  `yaml:"ttl_ms"`
	Issuer    string `yaml:"issuer"`
	LoginPath string `yaml:"login_path"`
}

type User struct {
	ID           int64  `yaml:"id"`
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

type Credentials struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	Users       []User `yaml:"users"`
}

type Owner struct {
	From string `yaml:"from"` // "path" or "body"
	Name string `yaml:"name"`
}

type Route struct {
	ID      string `yaml:"id"`
	Method  string `yaml:"method"`
	Pattern string `yaml:"pattern"`
	Auth    bool   `yaml:"auth"`
	Owner   *Owner `yaml:"owner"`

	Upstream struct {
		URL       string `yaml:"url"`
		TimeoutMS int    `yaml:"timeout_ms"`
	} `yaml:"upstream"`
}

type Root struct {
	Server        Server        `yaml:"server"`
	Observability Observability `yaml:"observability"`
	Limits        Limits        `yaml:"limits"`
	Redis         Redis         `yaml:"redis"`
	Auth          Auth          `yaml:"auth"`
	Credentials   Credentials   `yaml:"credentials"`
	Routes        []Route       `yaml:"routes"`
}

func (s Server) ReadTimeout() time.Duration {
	if s.ReadTimeoutMS == 0 {
		return 5 * time.Second
	}
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

func (s Server) WriteTimeout() time.Duration {
	if s.WriteTimeoutMS == 0 {
		return 10 * time.Second
	}
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

func (s Server) IdleTimeout() time.Duration {
	if s.IdleTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

func (s Server) MaxBody() int64 {
	if s.MaxBodyBytes == 0 {
		return 10 << 20
	}
	return s.MaxBodyBytes
} // default 10MB

func (l Limits) Window() time.Duration {
	return time.Duration(l.WindowMS) * time.Millisecond
}

func (l Limits) StoreTimeout() time.Duration {
	return time.Duration(l.StoreTimeoutMS) * time.Millisecond
}

func (l Limits) FailOpenEnabled() bool {
	return l.FailOpen == nil || *l.FailOpen
}

func (r Redis) TTL() time.Duration {
	if r.TTLMS == nil {
		return 0
	}
	return time.Duration(*r.TTLMS) * time.Millisecond
}

func (a Auth) TTL() time.Duration {
	return time.Duration(a.TTLMS) * time.Millisecond
}

func (r Route) Timeout() time.Duration {
	return time.Duration(r.Upstream.TimeoutMS) * time.Millisecond
}

func Load(path string) (*Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes b, fills defaults and validates the result.
func Parse(b []byte) (*Root, error) {
	var cfg Root
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if s := os.Getenv(SecretEnv); s != "" {
		cfg.Auth.Secret = s
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Root) applyDefaults() {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.PrometheusPath == "" {
		cfg.Observability.PrometheusPath = "/metrics"
	}

	if cfg.Limits.Capacity == 0 {
		cfg.Limits.Capacity = 10
	}
	if cfg.Limits.WindowMS == 0 {
		cfg.Limits.WindowMS = 60_000
	}
	if cfg.Limits.StoreTimeoutMS == 0 {
		cfg.Limits.StoreTimeoutMS = 250
	}

	if len(cfg.Redis.Addrs) == 0 {
		cfg.Redis.Addrs = []string{"localhost:6379"}
	}
	if cfg.Redis.TTLMS == nil {
		ttl := 2 * cfg.Limits.WindowMS
		cfg.Redis.TTLMS = &ttl
	}

	if cfg.Auth.Header == "" {
		cfg.Auth.Header = "Authorization"
	}
	if cfg.Auth.TTLMS == 0 {
		cfg.Auth.TTLMS = (24 * time.Hour).Milliseconds()
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "gateguard"
	}
	if cfg.Auth.LoginPath == "" {
		cfg.Auth.LoginPath = "/users/login"
	}

	for i := range cfg.Routes {
		if cfg.Routes[i].Upstream.TimeoutMS <= 0 {
			cfg.Routes[i].Upstream.TimeoutMS = 3000
		}
		cfg.Routes[i].Method = strings.ToUpper(cfg.Routes[i].Method)
	}
}

func (cfg *Root) Validate() error {
	var errs []error
	if cfg.Limits.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("limits.capacity must be positive, got %d", cfg.Limits.Capacity))
	}
	if cfg.Limits.WindowMS <= 0 {
		errs = append(errs, fmt.Errorf("limits.window_ms must be positive, got %d", cfg.Limits.WindowMS))
	}
	if cfg.Limits.StoreTimeoutMS < 0 {
		errs = append(errs, errors.New("limits.store_timeout_ms must not be negative"))
	}
	if cfg.Limits.Fallback.RPS < 0 || cfg.Limits.Fallback.Burst < 0 {
		errs = append(errs, errors.New("limits.fallback values must not be negative"))
	}
	if cfg.Limits.TrustedProxyHops < 0 {
		errs = append(errs, errors.New("limits.trusted_proxy_hops must not be negative"))
	}
	if ttl := cfg.Redis.TTL(); ttl != 0 && ttl < cfg.Limits.Window() {
		errs = append(errs, fmt.Errorf("redis.ttl_ms %d is shorter than the window (0 disables expiry)", ttl.Milliseconds()))
	}
	if cfg.Auth.Secret == "" {
		errs = append(errs, fmt.Errorf("auth.secret is required (or set %s)", SecretEnv))
	}
	if cfg.Auth.TTLMS <= 0 {
		errs = append(errs, errors.New("auth.ttl_ms must be positive"))
	}
	if !strings.HasPrefix(cfg.Auth.LoginPath, "/") {
		errs = append(errs, fmt.Errorf("auth.login_path %q must start with /", cfg.Auth.LoginPath))
	}

	for _, rt := range cfg.Routes {
		if err := rt.validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r Route) validate() error {
	if r.ID == "" {
		return fmt.Errorf("route %s %s: missing id", r.Method, r.Pattern)
	}
	if r.Method == "" || !strings.HasPrefix(r.Pattern, "/") {
		return fmt.Errorf("route %s: need a method and a pattern starting with /", r.ID)
	}
	if r.Upstream.URL == "" {
		return fmt.Errorf("route %s: missing upstream.url", r.ID)
	}
	u, err := url.Parse(r.Upstream.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("route %s: bad upstream.url %q", r.ID, r.Upstream.URL)
	}
	if r.Owner != nil {
		switch r.Owner.From {
		case "path", "body":
		default:
			return fmt.Errorf("route %s: owner.from must be path or body, got %q", r.ID, r.Owner.From)
		}
		if r.Owner.Name == "" {
			return fmt.Errorf("route %s: owner.name required", r.ID)
		}
		if r.Owner.From == "path" && !strings.Contains(r.Pattern, "{"+r.Owner.Name+"}") {
			return fmt.Errorf("route %s: pattern has no {%s} wildcard", r.ID, r.Owner.Name)
		}
	}
	return nil
}
