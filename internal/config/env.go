package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig     = "VPANEL_CONFIG"
	EnvServer     = "VPANEL_SERVER"
	EnvTokenStore = "VPANEL_TOKEN_STORE"
)

// EnvOverrides holds values read from the environment.
type EnvOverrides struct {
	ConfigPath string // VPANEL_CONFIG
	Server     string // VPANEL_SERVER
	TokenStore string // VPANEL_TOKEN_STORE: file, sqlite or memory
}

// ReadEnvOverrides reads the override variables. It does not modify any Config.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Server:     os.Getenv(EnvServer),
		TokenStore: os.Getenv(EnvTokenStore),
	}
}
