package config

const (
	defaultConfigPath     = "~/.config/romid/config.toml"
	defaultDataDir        = "~/.local/share/romid"
	defaultLogDir         = "~/.local/share/romid/logs"
	defaultHashCacheName  = "hashcache.msgpack.zst"
	indexFileName         = "index.db"
	defaultOverridesPath  = "~/.config/romid/overrides.json"
	defaultBatchSize      = 20000
	minBatchSize          = 10000
	maxBatchSize          = 100000
	defaultLockWait       = 0
	defaultCacheEntries   = 200000
	defaultWorkers        = 4
	defaultMaxEntries     = 4096
	defaultDominanceRatio = 0.8
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
)

var defaultAlgorithms = []string{"crc32", "sha1"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Index: Index{
			BatchSize:       defaultBatchSize,
			LockWaitSeconds: defaultLockWait,
		},
		Overrides: Overrides{
			Path: defaultOverridesPath,
		},
		Hashing: Hashing{
			Algorithms:   append([]string(nil), defaultAlgorithms...),
			CacheEntries: defaultCacheEntries,
			Workers:      defaultWorkers,
		},
		Archive: Archive{
			MaxEntries:     defaultMaxEntries,
			DominanceRatio: defaultDominanceRatio,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
