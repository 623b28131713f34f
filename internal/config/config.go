// Package config holds Axiom's single immutable configuration struct.
// All configuration is captured here; nothing else in the program does
// a string-keyed runtime lookup.
package config

import (
	"net"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/rifflock/lfshook"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	"github.com/sirupsen/logrus"
)

// Default filenames, relative to DataDir.
const (
	DefaultLedgerFile   = "ledger.db"
	DefaultIdentityFile = "identity.pem"
	DefaultTLSDir       = "tls"
	DefaultCertFile     = "node.crt"
	DefaultKeyFile      = "node.key"
	DefaultLogFile      = "axiom.log"
)

// Protocol constants. These are not user-configurable; they are named
// here so every component references the same symbol instead of a
// repeated magic number.
const (
	MaxFactsPerBlock     = 512
	SlotDuration         = 30 * time.Second
	FactPullTimeout      = 30 * time.Second
	BlockPullTimeout     = 60 * time.Second
	DefaultRequestTimeout = 10 * time.Second
	MaxPeers             = 32
	PeerGossipInterval   = 60 * time.Second
	BlacklistTTL         = 1 * time.Hour
	DedupCacheSize       = 4096
	DedupCacheTTL        = 10 * time.Minute
	MaxFrameSize         = 16 * 1024 * 1024 // 16 MiB
	OutboundQueueSize    = 256
	HTTPWorkerPoolSize   = 16
	PeerListReplySize    = 64
	BlocksReplySize      = 100
	ShutdownGrace        = 5 * time.Second
)

// Config is the single, fully-enumerated configuration object for an
// Axiom node. It is constructed once at startup by the CLI layer and
// then treated as read-only for the lifetime of the process.
type Config struct {
	// P2PPort is the TCP port the gossip transport listens on.
	P2PPort int `mapstructure:"p2p-port"`

	// APIPort is the TCP port the HTTP API listens on.
	APIPort int `mapstructure:"api-port"`

	// Host is the bind address for both the P2P and HTTP listeners.
	Host string `mapstructure:"host"`

	// BootstrapPeers are contacted at startup to seed the peer table.
	BootstrapPeers []string `mapstructure:"bootstrap-peer"`

	// DataDir is the top-level directory containing all persisted state.
	DataDir string `mapstructure:"data-dir"`

	// IdentityPath overrides the default "<data-dir>/identity.pem" location.
	IdentityPath string `mapstructure:"identity"`

	// SharedKeys is test-only: every node configured with it uses the
	// same keypair, identified by IdentityPath.
	SharedKeys bool `mapstructure:"shared-keys"`

	// LogLevel controls logrus verbosity: debug, info, warn, error, fatal, panic.
	LogLevel string `mapstructure:"log-level"`

	// Debug enables debug-only endpoints such as /debug/propose_block.
	Debug bool `mapstructure:"debug"`

	logger *logrus.Entry
}

// NewDefaultConfig returns a Config with every field set to its default value.
func NewDefaultConfig() *Config {
	return &Config{
		P2PPort:    7946,
		APIPort:    8080,
		Host:       "127.0.0.1",
		DataDir:    DefaultDataDir(),
		LogLevel:   "info",
		SharedKeys: false,
		Debug:      false,
	}
}

// LedgerPath returns the path of the storage database.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.DataDir, DefaultLedgerFile)
}

// IdentityFilePath returns the path of the node's private key, honoring
// an explicit override.
func (c *Config) IdentityFilePath() string {
	if c.IdentityPath != "" {
		return c.IdentityPath
	}
	return filepath.Join(c.DataDir, DefaultIdentityFile)
}

// CertFilePath returns the path of the node's TLS certificate.
func (c *Config) CertFilePath() string {
	return filepath.Join(c.DataDir, DefaultTLSDir, DefaultCertFile)
}

// KeyFilePath returns the path of the node's TLS private key.
func (c *Config) KeyFilePath() string {
	return filepath.Join(c.DataDir, DefaultTLSDir, DefaultKeyFile)
}

// P2PAddr returns the host:port the gossip transport binds to.
func (c *Config) P2PAddr() string {
	return addr(c.Host, c.P2PPort)
}

// APIAddr returns the host:port the HTTP API binds to.
func (c *Config) APIAddr() string {
	return addr(c.Host, c.APIPort)
}

func addr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Logger returns a formatted logrus Entry, constructing it (and
// attaching a file-tee hook writing to <data-dir>/axiom.log) on first use.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		base := logrus.New()
		base.Level = LevelFromString(c.LogLevel)
		base.Formatter = new(prefixed.TextFormatter)

		logPath := filepath.Join(c.DataDir, DefaultLogFile)
		hook := lfshook.NewHook(lfshook.PathMap{
			logrus.DebugLevel: logPath,
			logrus.InfoLevel:  logPath,
			logrus.WarnLevel:  logPath,
			logrus.ErrorLevel: logPath,
			logrus.FatalLevel: logPath,
		}, &prefixed.TextFormatter{})
		base.AddHook(hook)

		c.logger = logrus.NewEntry(base)
	}
	return c.logger.WithField("prefix", "axiom")
}

// LevelFromString parses a string into a logrus level, defaulting to Info.
func LevelFromString(l string) logrus.Level {
	lvl, err := logrus.ParseLevel(l)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// DefaultDataDir returns the default directory for node state, honoring
// platform conventions for where per-user application state lives.
func DefaultDataDir() string {
	home := HomeDir()
	if home == "" {
		return ".axiom"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Axiom")
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "Axiom")
	default:
		return filepath.Join(home, ".axiom")
	}
}

// HomeDir returns the current user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}
