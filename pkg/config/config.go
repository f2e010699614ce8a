package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"
	"strings"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".stackvars"
	configFile string = "config.yml"
)

const defaultTypeCacheSize = 4096

// SubstitutePathRule describes a rule for substitution of path to source code file.
type SubstitutePathRule struct {
	// Directory path will be substituted if it matches `From`.
	From string
	// Path to which substitution is performed.
	To string
}

// SubstitutePathRules is a slice of source code path substitution rules.
type SubstitutePathRules []SubstitutePathRule

// Substitute applies the first rule whose From is a prefix of dir, on a
// path component boundary.
func (rules SubstitutePathRules) Substitute(dir string) string {
	for _, r := range rules {
		from := strings.TrimSuffix(r.From, "/")
		if dir == from {
			return r.To
		}
		if from != "" && strings.HasPrefix(dir, from+"/") {
			return path.Join(r.To, dir[len(from)+1:])
		}
	}
	return dir
}

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases of the explore shell.
	Aliases map[string][]string `yaml:"aliases"`
	// Source code path substitution rules, applied to the directory of
	// every printed record.
	SubstitutePath SubstitutePathRules `yaml:"substitute-path"`

	// If ShowLocationExpr is true records are printed with the decoded
	// location expressions instead of the number of location entries.
	ShowLocationExpr bool `yaml:"show-location-expr"`

	// TypeCacheSize is the number of resolved types a query context keeps.
	TypeCacheSize *int `yaml:"type-cache-size,omitempty"`

	// MaxRecords stops the vars command after printing that many records,
	// zero means no limit.
	MaxRecords *int `yaml:"max-records,omitempty"`

	// Color is one of "auto", "always" or "never".
	Color string `yaml:"color,omitempty"`
}

// GetTypeCacheSize returns the configured type cache size, or the default.
func (c *Config) GetTypeCacheSize() int {
	if c.TypeCacheSize == nil || *c.TypeCacheSize <= 0 {
		return defaultTypeCacheSize
	}
	return *c.TypeCacheSize
}

// GetMaxRecords returns the configured record limit, zero if unlimited.
func (c *Config) GetMaxRecords() int {
	if c.MaxRecords == nil || *c.MaxRecords < 0 {
		return 0
	}
	return *c.MaxRecords
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		fmt.Printf("Unable to read config data: %v.", err)
		return &Config{}
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		fmt.Printf("Unable to decode config file: %v.", err)
		return &Config{}
	}

	return &c
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
	if _, err := f.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("unable to rewind configuration file: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for stackvars.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command
# of the explore shell.
aliases:
  # command: ["alias1", "alias2"]

# Define sources path substitution rules. Can be used to rewrite the compile
# directory stored in the debug information of a binary, if it was built in a
# different place.
substitute-path:
  # - {from: path, to: path}

# Uncomment the following line to print the location expressions of every record.
# show-location-expr: true

# Number of resolved types kept by the query and explore commands.
# type-cache-size: 4096

# Maximum number of records printed by the vars command, 0 means no limit.
# max-records: 0

# Terminal colors: auto, always or never.
# color: auto
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
	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		userHomeDir = "."
		if usr, err := user.Current(); err == nil {
			userHomeDir = usr.HomeDir
		}
	}
	return path.Join(userHomeDir, configDir, file), nil
}
