package analyzer

const (
	// DefaultMaxLookback bounds the instructions inspected by one register
	// query, across every register it has to chase.
	DefaultMaxLookback = 4096
	// DefaultCacheSize is the number of decoded functions kept in memory.
	DefaultCacheSize = 1024
)

type Config struct {
	MaxLookback int
	CacheSize   int
	// Demangle C++, block and Swift names returned by SymbolAt.
	Demangle bool
}

// DefaultConfig returns the configuration used when nil is passed.
func DefaultConfig() *Config {
	return &Config{
		MaxLookback: DefaultMaxLookback,
		CacheSize:   DefaultCacheSize,
		Demangle:    true,
	}
}

func (c *Config) normalize() *Config {
	if c == nil {
		return DefaultConfig()
	}
	out := *c
	if out.MaxLookback <= 0 {
		out.MaxLookback = DefaultMaxLookback
	}
	if out.CacheSize <= 0 {
		out.CacheSize = DefaultCacheSize
	}
	return &out
}
