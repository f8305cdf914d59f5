package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir       string = ".pdbg"
	configDirXdg    string = "pdbg"
	configFile      string = "config.yml"
	defaultBackend  string = "sim"
	defaultCacheLen int    = 512
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Backend selects the hardware access method ("sim" is the only
	// backend built into this tree).
	Backend string `yaml:"backend"`
	// DeviceTree is the path of the YAML device-tree description.
	DeviceTree string `yaml:"device-tree"`
	// MachineImage is the path of the simulated machine description used
	// by the sim backend.
	MachineImage string `yaml:"machine-image"`

	// StrictStackCheck enables the kernel address check on every stack
	// pointer before it is unwound. Off by default.
	StrictStackCheck bool `yaml:"strict-stack-check"`

	// MemCacheSize is the number of 64-bit memory words cached between run
	// control operations. Zero disables the cache.
	MemCacheSize *int `yaml:"mem-cache-size,omitempty"`

	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// Prompt of the interactive shell.
	Prompt string `yaml:"prompt"`
}

// CacheSize returns the configured memory cache size, or the default.
func (c *Config) CacheSize() int {
	if c.MemCacheSize == nil {
		return defaultCacheLen
	}
	return *c.MemCacheSize
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() (*Config, error) {
	err := createConfigPath()
	if err != nil {
		return &Config{Backend: defaultBackend}, fmt.Errorf("could not create config directory: %v", err)
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return &Config{Backend: defaultBackend}, fmt.Errorf("unable to get config file path: %v", err)
	}

	if _, err := os.Stat(fullConfigFile); os.IsNotExist(err) {
		f, err := createDefaultConfig(fullConfigFile)
		if err != nil {
			return &Config{Backend: defaultBackend}, fmt.Errorf("error creating default config file: %v", err)
		}
		f.Close()
	}
	return LoadConfigFile(fullConfigFile)
}

// LoadConfigFile reads and decodes the configuration at the given path.
func LoadConfigFile(fullConfigFile string) (*Config, error) {
	f, err := os.Open(fullConfigFile)
	if err != nil {
		return &Config{Backend: defaultBackend}, err
	}
	defer f.Close()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		return &Config{Backend: defaultBackend}, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return &Config{Backend: defaultBackend}, fmt.Errorf("unable to decode config file: %v", err)
	}
	if c.Backend == "" {
		c.Backend = defaultBackend
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the pdbg debug probe.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Hardware access method.
# backend: sim

# Device-tree description of the machine.
# device-tree: /etc/pdbg/system.yml

# Machine image used by the sim backend.
# machine-image: /etc/pdbg/machine.yml

# Only unwind stack pointers that look like kernel addresses.
# strict-stack-check: true

# Number of 64-bit memory words cached between run control commands.
# mem-cache-size: 512

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Prompt of the interactive shell.
# prompt: "(pdbg) "
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return path.Join(xdg, configDirXdg, file), nil
	}

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
