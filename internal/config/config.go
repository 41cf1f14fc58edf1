// Package config implements layered process configuration (§4.12): a JSON
// file is parsed first, environment variables (via caarlos0/env) override
// file values, and CLI flags (via spf13/pflag, matching the -H/-V/-C/-S/-P
// /-D/--stacktracer/--threadprofiler forms of spec.md §6) override both.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"
)

// Config is the fully-resolved process configuration.
type Config struct {
	ConfigFile string `json:"-" env:"PILIGHTD_CONFIG"`

	ListenAddr     string `json:"listenAddr" env:"PILIGHTD_LISTEN"`
	NodeUUID       string `json:"nodeUUID" env:"PILIGHTD_UUID"`
	ReceiveRepeats int    `json:"receiveRepeats" env:"PILIGHTD_RECEIVE_REPEATS"`
	MaxClients     int    `json:"maxClients" env:"PILIGHTD_MAX_CLIENTS"`
	WebEnabled     bool   `json:"webEnabled" env:"PILIGHTD_WEB_ENABLED"`

	PidFile string `json:"pidFile" env:"PILIGHTD_PIDFILE"`

	MasterHost string `json:"masterHost" env:"PILIGHTD_MASTER_HOST"`
	MasterPort int    `json:"masterPort" env:"PILIGHTD_MASTER_PORT"`

	SSDPEnabled bool `json:"ssdpEnabled" env:"PILIGHTD_SSDP_ENABLED"`
	MDNSEnabled bool `json:"mdnsEnabled" env:"PILIGHTD_MDNS_ENABLED"`
	MDNSName    string `json:"mdnsName" env:"PILIGHTD_MDNS_NAME"`

	MetricsAddr string `json:"metricsAddr" env:"PILIGHTD_METRICS_ADDR"`

	SerialDevice string `json:"serialDevice" env:"PILIGHTD_SERIAL_DEVICE"`
	SerialBaud   int    `json:"serialBaud" env:"PILIGHTD_SERIAL_BAUD"`

	Debug          bool `json:"-" env:"PILIGHTD_DEBUG"`
	Stacktracer    bool `json:"-" env:"PILIGHTD_STACKTRACER"`
	ThreadProfiler bool `json:"-" env:"PILIGHTD_THREADPROFILER"`

	Help    bool `json:"-"`
	Version bool `json:"-"`
}

// Defaults returns the compiled-in baseline before any file/env/flag layer
// is applied.
func Defaults() Config {
	return Config{
		ConfigFile:     "/etc/pilightd/config.json",
		ListenAddr:     ":5000",
		ReceiveRepeats: 1,
		WebEnabled:     true,
		PidFile:        "/var/run/pilightd.pid",
		SSDPEnabled:    true,
		MetricsAddr:    ":9092",
		SerialDevice:   "/dev/ttyUSB0",
		SerialBaud:     115200,
	}
}

// Load resolves the layered configuration from args (excluding argv[0]).
func Load(args []string) (*Config, error) {
	cfg := Defaults()

	fs := pflag.NewFlagSet("pilightd", pflag.ContinueOnError)
	help := fs.BoolP("help", "H", false, "print usage and exit")
	version := fs.BoolP("version", "V", false, "print version and exit")
	configFile := fs.StringP("config", "C", cfg.ConfigFile, "config file path")
	masterHost := fs.StringP("master", "S", cfg.MasterHost, "master broker address (peer/clientize mode)")
	masterPort := fs.IntP("port", "P", cfg.MasterPort, "master broker port (peer/clientize mode)")
	debug := fs.BoolP("nodaemon", "D", cfg.Debug, "run in foreground with verbose logging")
	stacktracer := fs.Bool("stacktracer", cfg.Stacktracer, "accepted for command-line compatibility; has no effect")
	threadprofiler := fs.Bool("threadprofiler", cfg.ThreadProfiler, "accepted for command-line compatibility; has no effect")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}

	// Layer 1: config file (flag value wins for the path itself, since we
	// need it before the file can be read).
	if fs.Changed("config") {
		cfg.ConfigFile = *configFile
	}
	if data, err := os.ReadFile(cfg.ConfigFile); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", cfg.ConfigFile, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %s: %w", cfg.ConfigFile, err)
	}

	// Layer 2: environment overrides file values.
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}

	// Layer 3: explicitly-set flags override both file and environment.
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "master":
			cfg.MasterHost = *masterHost
		case "port":
			cfg.MasterPort = *masterPort
		case "nodaemon":
			cfg.Debug = *debug
		case "stacktracer":
			cfg.Stacktracer = *stacktracer
		case "threadprofiler":
			cfg.ThreadProfiler = *threadprofiler
		}
	})
	cfg.Help = *help
	cfg.Version = *version

	return &cfg, nil
}
