// Package brand holds the product identity and the default filesystem
// layout. Values come from the embedded brand.json.
package brand

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
)

//go:embed brand.json
var brandJSON []byte

// Brand is the decoded form of brand.json.
type Brand struct {
	Name             string `json:"name"`
	BinaryName       string `json:"binaryName"`
	Description      string `json:"description"`
	ConfigEnvPrefix  string `json:"configEnvPrefix"`
	DefaultConfigDir string `json:"defaultConfigDir"`
	DefaultStateDir  string `json:"defaultStateDir"`
	ConfigFileName   string `json:"configFileName"`
	RulesDirName     string `json:"rulesDirName"`
	LocksDirName     string `json:"locksDirName"`
	DatabaseName     string `json:"databaseName"`
}

var b = mustLoad(brandJSON)

func mustLoad(data []byte) Brand {
	var out Brand
	if err := json.Unmarshal(data, &out); err != nil {
		panic("brand: parse brand.json: " + err.Error())
	}
	return out
}

var (
	Name             = b.Name
	BinaryName       = b.BinaryName
	Description      = b.Description
	ConfigEnvPrefix  = b.ConfigEnvPrefix
	DefaultConfigDir = b.DefaultConfigDir
	DefaultStateDir  = b.DefaultStateDir
	ConfigFileName   = b.ConfigFileName
	RulesDirName     = b.RulesDirName
	LocksDirName     = b.LocksDirName
	DatabaseName     = b.DatabaseName

	// Set at build time via -ldflags.
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Get returns the decoded brand.
func Get() Brand {
	return b
}

// UserAgent is the User-Agent sent when fetching MUD files and signatures.
func UserAgent(version string) string {
	if version == "" {
		version = "dev"
	}
	return Name + "/" + version
}

// GetStateDir resolves the state directory.
// Priority: MUDGATE_STATE_DIR > MUDGATE_PREFIX/state > DefaultStateDir
func GetStateDir() string {
	return resolveDir("STATE_DIR", "state", DefaultStateDir)
}

// GetConfigDir resolves the config directory.
// Priority: MUDGATE_CONFIG_DIR > MUDGATE_PREFIX/config > DefaultConfigDir
func GetConfigDir() string {
	return resolveDir("CONFIG_DIR", "config", DefaultConfigDir)
}

// DefaultConfigPath is the config file used when --config is not given.
func DefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), ConfigFileName)
}

func resolveDir(envName, sub, fallback string) string {
	if dir := os.Getenv(ConfigEnvPrefix + "_" + envName); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, sub)
	}
	return fallback
}
