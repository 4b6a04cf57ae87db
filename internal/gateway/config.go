package gateway

import "time"

// Config is the gateway.http module entry.
type Config struct {
	Bind            string        `yaml:"bind"`
	Auth            AuthConfig    `yaml:"auth"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Metrics mounts GET /metrics. It is public like /health.
	Metrics bool `yaml:"metrics"`
}

func (c *Config) defaults() {
	c.Bind = orDefault(c.Bind, "127.0.0.1:8080")
	c.ReadTimeout = orDefault(c.ReadTimeout, 10*time.Second)
	c.WriteTimeout = orDefault(c.WriteTimeout, 30*time.Second)
	c.ShutdownTimeout = orDefault(c.ShutdownTimeout, 5*time.Second)
}

func orDefault[T string | time.Duration](v, def T) T {
	var zero T
	if v <= zero {
		return def
	}
	return v
}

// AuthConfig protects the admin routes. Every credential may be a
// "secret:NAME" reference into security.secrets.
type AuthConfig struct {
	// BearerToken is accepted as client "admin".
	BearerToken string `yaml:"bearer_token"`

	// Clients maps a client name to its bearer token. The name is
	// recorded in audit events of the requests it makes.
	Clients map[string]string `yaml:"clients"`

	BasicUser string `yaml:"basic_user"`
	BasicPass string `yaml:"basic_pass"`
}

// IsConfigured reports whether any credential is set. Admin routes are
// not mounted otherwise.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != "" || len(a.Clients) > 0 || (a.BasicUser != "" && a.BasicPass != "")
}
