// Package conf loads a Client's on-disk configuration: its bind address,
// storage home directory, and the router/log tuning knobs left
// implementation-defined. Configuration files are ini, read with
// gopkg.in/ini.v1, the same library and MustXxx-with-default idiom the
// rest of this codebase's config loading uses.
package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"
)

// Config is one Client's resolved configuration, after defaults have been
// applied and any ini file on disk has been layered on top.
type Config struct {
	BindHost string
	BindPort int

	// HomeDir is the root c4 stores its per-port state under; each bound
	// port gets its own subdirectory so two local Clients never collide.
	HomeDir string

	LogLevel string
	LogPath  string

	TupleLimit int
	QueueDepth int
}

// Default returns a Config usable with no ini file at all: loopback bind,
// $HOME/c4_home storage, info-level logging to stdout, the router's
// built-in tuple limit and queue depth.
func Default() *Config {
	return &Config{
		BindHost:   "127.0.0.1",
		BindPort:   7032,
		HomeDir:    defaultHomeDir(),
		LogLevel:   "info",
		TupleLimit: 0,
		QueueDepth: 0,
	}
}

func defaultHomeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "c4_home")
	}
	return "c4_home"
}

// Load starts from Default and overlays any keys present in the ini file at
// path. A missing file is not an error — callers that want a file to be
// mandatory should os.Stat it themselves first.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	raw, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("conf: parse %s: %w", path, err)
	}
	sec := raw.Section("c4")

	cfg.BindHost = sec.Key("bind_host").MustString(cfg.BindHost)
	cfg.BindPort = sec.Key("bind_port").MustInt(cfg.BindPort)
	cfg.HomeDir = sec.Key("home_dir").MustString(cfg.HomeDir)
	cfg.LogLevel = sec.Key("log_level").MustString(cfg.LogLevel)
	cfg.LogPath = sec.Key("log_path").MustString(cfg.LogPath)
	cfg.TupleLimit = sec.Key("tuple_limit").MustInt(cfg.TupleLimit)
	cfg.QueueDepth = sec.Key("queue_depth").MustInt(cfg.QueueDepth)
	return cfg, nil
}

// LocalAddr is the location-spec string this Client advertises for itself,
// in the "tcp:host:port" form every loc-spec column value and peer dial
// uses.
func (c *Config) LocalAddr() string {
	return fmt.Sprintf("tcp:%s:%d", c.BindHost, c.BindPort)
}

// ListenAddr is the host:port pair net.Listen expects.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.BindHost, c.BindPort)
}

// PortDir is this Client's private state directory, home/tcp_<port>, the
// sibling-port isolation scheme the original's get_user_home_dir uses so
// multiple local Clients never share a database file.
func (c *Config) PortDir() string {
	return filepath.Join(c.HomeDir, fmt.Sprintf("tcp_%d", c.BindPort))
}

// SQLitePath is where a Client's shared SQLite-backed tables persist.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.PortDir(), "sqlite.db")
}

// EnsurePortDir creates PortDir if it doesn't already exist.
func (c *Config) EnsurePortDir() error {
	return os.MkdirAll(c.PortDir(), 0o755)
}
