package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/ctrdb/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"
	envPrefix      = "CTRDB"

	cfgKeyDriver       = "driver"
	cfgKeyDSN          = "dsn"
	cfgKeyReadOnlyDSN  = "readonly_dsn"
	cfgKeyConnTimeout  = "conn_timeout"
	cfgKeyMaxReadConns = "max_read_conns"
	cfgKeyDataDir      = "data_dir"
	cfgKeyLogLevel     = "log_level"
	cfgKeyLogJSON      = "log_json"
)

// configFile is the structure written to config.yaml on first run.
type configFile struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn,omitempty"`
	ReadOnlyDSN  string `yaml:"readonly_dsn,omitempty"`
	ConnTimeout  string `yaml:"conn_timeout"`
	MaxReadConns int    `yaml:"max_read_conns"`
	DataDir      string `yaml:"data_dir,omitempty"`
	LogLevel     string `yaml:"log_level"`
	LogJSON      bool   `yaml:"log_json"`
}

func defaultConfigFile(dataDir string) configFile {
	return configFile{
		Driver:       types.DriverSQLite,
		ConnTimeout:  types.DefaultConnTimeout.String(),
		MaxReadConns: types.DefaultMaxReadConns,
		DataDir:      dataDir,
		LogLevel:     "warn",
	}
}

// loadConfig reads config.yaml from configDir. Every key may be overridden
// by a CTRDB_-prefixed environment variable. A missing file is not an error.
func loadConfig(configDir string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(cfgKeyDriver, types.DriverSQLite)
	v.SetDefault(cfgKeyConnTimeout, types.DefaultConnTimeout)
	v.SetDefault(cfgKeyMaxReadConns, types.DefaultMaxReadConns)
	v.SetDefault(cfgKeyLogLevel, "warn")
	v.SetDefault(cfgKeyLogJSON, false)
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// ensureDefaultConfigFile creates configDir and a default config.yaml if the
// file does not exist yet. A non-empty dataDir is recorded in the file.
func ensureDefaultConfigFile(configDir, dataDir string) (string, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	path := filepath.Join(configDir, configFileExt)
	_, err := os.Stat(path)
	if err == nil {
		return path, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat config file: %w", err)
	}
	data, err := yaml.Marshal(defaultConfigFile(dataDir))
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return path, os.WriteFile(path, data, 0o644)
}
