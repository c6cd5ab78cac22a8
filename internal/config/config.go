package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name searched for in the config paths.
	ConfigFileName = "stackanalyser"
	// EnvPrefix prefixes environment overrides, e.g. STACKANALYSER_IMAGEJ_JAVA.
	EnvPrefix = "STACKANALYSER"
	// ConfigEnv names an explicit config file.
	ConfigEnv = "STACKANALYSER_CONFIG"

	defaultChunkSize = 1000000
)

// Config holds user-editable settings.
type Config struct {
	ImageJ    ImageJ    `mapstructure:"imagej" json:"imagej"`
	Workspace Workspace `mapstructure:"workspace" json:"workspace"`
	Mail      Mail      `mapstructure:"mail" json:"mail"`
	Logging   Logging   `mapstructure:"logging" json:"logging"`
	Paths     Paths     `mapstructure:"paths" json:"paths"`
	Server    Server    `mapstructure:"server" json:"server"`
	Pipeline  Pipeline  `mapstructure:"pipeline" json:"pipeline"`
}

// ImageJ locates the headless ImageJ installation.
type ImageJ struct {
	Java      string   `mapstructure:"java" json:"java"`
	Classpath []string `mapstructure:"classpath" json:"classpath"`
	Path      string   `mapstructure:"path" json:"path"`
	JVMArgs   []string `mapstructure:"jvm_args" json:"jvm_args"`
}

// Workspace controls the per-run temporary directories.
type Workspace struct {
	Root        string `mapstructure:"root" json:"root"`
	ForceRemove bool   `mapstructure:"force_remove" json:"force_remove"`
	ChunkSize   int    `mapstructure:"chunk_size" json:"chunk_size"`
}

// Mail configures report delivery. An empty host disables sending.
type Mail struct {
	Host             string `mapstructure:"host" json:"host"`
	Port             int    `mapstructure:"port" json:"port"`
	From             string `mapstructure:"from" json:"from"`
	Username         string `mapstructure:"username" json:"username"`
	Password         string `mapstructure:"password" json:"-"`
	DefaultRecipient string `mapstructure:"default_recipient" json:"default_recipient"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `mapstructure:"level" json:"level"`             // debug, info, warn, error
	Format     string `mapstructure:"format" json:"format"`           // text, json
	FileOutput bool   `mapstructure:"file_output" json:"file_output"` // Enable file logging
	LogDir     string `mapstructure:"log_dir" json:"log_dir"`
}

// Paths configures persistent state.
type Paths struct {
	DatabaseDriver string `mapstructure:"database_driver" json:"database_driver"` // sqlite or sqlite3
	DatabasePath   string `mapstructure:"database_path" json:"database_path"`
	CatalogPath    string `mapstructure:"catalog_path" json:"catalog_path"`
}

// Server configures the serve command.
type Server struct {
	HTTPAddr string `mapstructure:"http_addr" json:"http_addr"`
	GRPCAddr string `mapstructure:"grpc_addr" json:"grpc_addr"`
	LockFile string `mapstructure:"lock_file" json:"lock_file"`
}

// Pipeline controls the run queue in serve mode.
type Pipeline struct {
	Workers   int `mapstructure:"workers" json:"workers"`
	QueueSize int `mapstructure:"queue_size" json:"queue_size"`
}

// Load reads configuration from the first config file found, environment
// overrides and built-in defaults, in increasing order of precedence.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if explicit := os.Getenv(ConfigEnv); explicit != "" {
		path, err := expandUser(explicit)
		if err != nil {
			return nil, err
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(ConfigFileName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "stackanalyser"))
		}
		v.AddConfigPath("/etc/stackanalyser")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	active = v
	return &cfg, nil
}

// active is the viper instance behind the most recent Load, used by Watch.
var active *viper.Viper

// FileUsed returns the config file read by the last Load, if any.
func FileUsed() string {
	if active == nil {
		return ""
	}
	return active.ConfigFileUsed()
}

// Watch reloads the configuration whenever the config file changes and
// passes the result to fn. It does nothing when no file was read.
func Watch(fn func(*Config, fsnotify.Event)) {
	v := active
	if v == nil || v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			return
		}
		if err := cfg.normalise(); err != nil {
			return
		}
		fn(&cfg, e)
	})
	v.WatchConfig()
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("imagej.java", d.ImageJ.Java)
	v.SetDefault("imagej.classpath", d.ImageJ.Classpath)
	v.SetDefault("imagej.path", d.ImageJ.Path)
	v.SetDefault("imagej.jvm_args", d.ImageJ.JVMArgs)

	v.SetDefault("workspace.root", d.Workspace.Root)
	v.SetDefault("workspace.force_remove", d.Workspace.ForceRemove)
	v.SetDefault("workspace.chunk_size", d.Workspace.ChunkSize)

	v.SetDefault("mail.host", d.Mail.Host)
	v.SetDefault("mail.port", d.Mail.Port)
	v.SetDefault("mail.from", d.Mail.From)
	v.SetDefault("mail.username", d.Mail.Username)
	v.SetDefault("mail.password", d.Mail.Password)
	v.SetDefault("mail.default_recipient", d.Mail.DefaultRecipient)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file_output", d.Logging.FileOutput)
	v.SetDefault("logging.log_dir", d.Logging.LogDir)

	v.SetDefault("paths.database_driver", d.Paths.DatabaseDriver)
	v.SetDefault("paths.database_path", d.Paths.DatabasePath)
	v.SetDefault("paths.catalog_path", d.Paths.CatalogPath)

	v.SetDefault("server.http_addr", d.Server.HTTPAddr)
	v.SetDefault("server.grpc_addr", d.Server.GRPCAddr)
	v.SetDefault("server.lock_file", d.Server.LockFile)

	v.SetDefault("pipeline.workers", d.Pipeline.Workers)
	v.SetDefault("pipeline.queue_size", d.Pipeline.QueueSize)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ImageJ: ImageJ{
			Java:      "java",
			Classpath: []string{"/usr/local/ImageJ/headless.jar", "/usr/local/ImageJ/ij.jar"},
			Path:      "/usr/local/ImageJ",
		},
		Workspace: Workspace{
			Root:        os.TempDir(),
			ForceRemove: true,
			ChunkSize:   defaultChunkSize,
		},
		Mail: Mail{
			Port: 25,
			From: "admin@omero.host.com",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
			LogDir: "./logs",
		},
		Paths: Paths{
			DatabaseDriver: "sqlite",
			DatabasePath:   filepath.Join(os.TempDir(), "stackanalyser.db"),
			CatalogPath:    filepath.Join(os.TempDir(), "stackanalyser-catalog.db"),
		},
		Server: Server{
			HTTPAddr: "127.0.0.1:8080",
			GRPCAddr: "127.0.0.1:9090",
			LockFile: filepath.Join(os.TempDir(), "stackanalyser.lock"),
		},
		Pipeline: Pipeline{
			Workers:   1,
			QueueSize: 100,
		},
	}
}

func (c *Config) normalise() error {
	var err error
	for _, p := range []*string{&c.Workspace.Root, &c.Logging.LogDir, &c.Paths.DatabasePath, &c.Paths.CatalogPath, &c.Server.LockFile, &c.ImageJ.Path} {
		if *p, err = expandUser(*p); err != nil {
			return err
		}
	}
	if c.Workspace.ChunkSize <= 0 {
		c.Workspace.ChunkSize = defaultChunkSize
	}
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = 1
	}
	switch c.Paths.DatabaseDriver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("paths.database_driver: unsupported driver %q", c.Paths.DatabaseDriver)
	}
	return nil
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
