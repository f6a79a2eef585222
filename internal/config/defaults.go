package config

// Default values: layer 0 of the override chain.
const (
	defaultBaseURL         = "http://localhost:8888/api/v1"
	defaultSessionStore    = StoreFile
	defaultRequestTimeout  = "30s"
	defaultRefreshTimeout  = "15s"
	defaultChunkSize       = "5MiB"
	defaultChunkRetries    = 2
	defaultChunkTimeout    = "2m"
	defaultParallelUploads = 2
	defaultLogLevel        = "warn"
	defaultLogFormat       = "auto"
)

// Session store backends.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL: defaultBaseURL,
		},
		Session: SessionConfig{
			Store: defaultSessionStore,
		},
		Network: NetworkConfig{
			RequestTimeout: defaultRequestTimeout,
			RefreshTimeout: defaultRefreshTimeout,
		},
		Transfers: TransfersConfig{
			ChunkSize:       defaultChunkSize,
			ChunkRetries:    defaultChunkRetries,
			ChunkTimeout:    defaultChunkTimeout,
			ParallelUploads: defaultParallelUploads,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
