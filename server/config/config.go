// config is everything the launcher can set: defaults, then a toml file, then flags
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-sql-driver/mysql"
	"github.com/joeycumines/logiface"
)

// trigger modes: bit 0 is connections, bit 1 is the listener
const (
	TrigLTLT = iota
	TrigLTET
	TrigETLT
	TrigETET
)

var (
	ErrPort     = errors.New("config: port out of range")
	ErrTrigMode = errors.New("config: trig_mode must be 0..3")
	ErrWorkers  = errors.New("config: workers must be positive")
	ErrRoot     = errors.New("config: root is empty")
	ErrLevel    = errors.New("config: unknown log level")
	ErrNegative = errors.New("config: negative value")
	ErrDSN      = errors.New("config: bad dsn")
	ErrHost     = errors.New("config: host must be an IPv4 address")
)

// Duration is a time.Duration read from a toml string like "60s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Backlog  int    `toml:"backlog"`
	TrigMode int    `toml:"trig_mode"`

	// idle timeout, 0 disables eviction
	Timeout       Duration `toml:"timeout"`
	Linger        bool     `toml:"linger"`
	LingerSeconds int      `toml:"linger_seconds"`

	Workers   int `toml:"workers"`
	QueueSize int `toml:"queue_size"`
	MaxConns  int `toml:"max_conns"`

	Root         string `toml:"root"`
	ErrorPage    string `toml:"error_page"`
	MaxBody      int    `toml:"max_body"`
	KeepAliveMax int    `toml:"keep_alive_max"`

	Level string `toml:"level"`

	DSN        string `toml:"dsn"`
	DBPool     int    `toml:"db_pool"`
	BcryptCost int    `toml:"bcrypt_cost"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Host:          "0.0.0.0",
		Port:          9006,
		Backlog:       128,
		TrigMode:      TrigETET,
		Timeout:       Duration{60 * time.Second},
		LingerSeconds: 1,
		Workers:       8,
		MaxConns:      65536,
		Root:          "./resources",
		ErrorPage:     "/index.html",
		MaxBody:       1 << 20,
		KeepAliveMax:  6,
		Level:         "info",
		DBPool:        12,
		BcryptCost:    10,
	}
}

// Load applies the toml file at path over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		keys := make([]string, len(undec))
		for i, k := range undec {
			keys[i] = k.String()
		}
		return cfg, fmt.Errorf("config: unknown keys: %s", strings.Join(keys, ", "))
	}
	return cfg, nil
}

// ListenEdge reports edge triggering for the listener.
func (c Config) ListenEdge() bool { return c.TrigMode&2 != 0 }

// ConnEdge reports edge triggering for connections.
func (c Config) ConnEdge() bool { return c.TrigMode&1 != 0 }

// LogLevel maps Level to a logiface level.
func (c Config) LogLevel() (logiface.Level, error) {
	switch strings.ToLower(c.Level) {
	case "trace":
		return logiface.LevelTrace, nil
	case "debug":
		return logiface.LevelDebug, nil
	case "", "info":
		return logiface.LevelInformational, nil
	case "warn", "warning":
		return logiface.LevelWarning, nil
	case "error":
		return logiface.LevelError, nil
	}
	return logiface.LevelDisabled, fmt.Errorf("%w: %q", ErrLevel, c.Level)
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrPort, c.Port))
	}
	if c.TrigMode < TrigLTLT || c.TrigMode > TrigETET {
		errs = append(errs, fmt.Errorf("%w: %d", ErrTrigMode, c.TrigMode))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrWorkers, c.Workers))
	}
	if _, err := c.Addr(); err != nil {
		errs = append(errs, err)
	}
	if c.Root == "" {
		errs = append(errs, ErrRoot)
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	for name, v := range map[string]int{
		"timeout":        int(c.Timeout.Duration),
		"queue_size":     c.QueueSize,
		"max_conns":      c.MaxConns,
		"max_body":       c.MaxBody,
		"linger_seconds": c.LingerSeconds,
		"db_pool":        c.DBPool,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%w: %s", ErrNegative, name))
		}
	}
	if c.DSN != "" {
		if _, err := mysql.ParseDSN(c.DSN); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrDSN, err))
		}
	}
	return errors.Join(errs...)
}

// Addr is Host as the four bytes the engine binds to, empty means every interface.
func (c Config) Addr() ([4]byte, error) {
	if c.Host == "" {
		return [4]byte{}, nil
	}
	ip, err := netip.ParseAddr(c.Host)
	if err != nil || !ip.Unmap().Is4() {
		return [4]byte{}, fmt.Errorf("%w: %q", ErrHost, c.Host)
	}
	return ip.Unmap().As4(), nil
}
