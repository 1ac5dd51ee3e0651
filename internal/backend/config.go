package backend

import (
	"fmt"
	"time"
)

// IndexConfig selects and configures one named index provider.
type IndexConfig struct {
	// Backend is a shorthand or fully-qualified provider identifier.
	Backend string

	// Options are passed to the provider's constructor.
	Options map[string]string
}

// Config is the semantic configuration surface of the Backend. Parsing it
// from files or flags is the caller's concern.
type Config struct {
	// Backend is a shorthand or fully-qualified storage identifier.
	Backend string

	// StorageOptions are passed to the storage manager's constructor.
	StorageOptions map[string]string

	// Index configures one provider per index name.
	Index map[string]IndexConfig

	// BufferSize is the mutation-buffer size; 0 disables buffering and
	// it is clamped to 0 on backends without batch mutation.
	BufferSize int

	// WriteAttempts and ReadAttempts bound retrying operations. Both
	// must be positive.
	WriteAttempts int
	ReadAttempts  int

	// AttemptWait is the pause between retry attempts.
	AttemptWait time.Duration

	// SetupWait is the total wait budget for the version gate.
	SetupWait time.Duration

	// BasicMetrics instruments the stores; MergeBasicMetrics publishes
	// them under one merged name instead of per-store names.
	BasicMetrics      bool
	MergeBasicMetrics bool

	// IDBlockSize is the identifier block size handed out by the id
	// authority.
	IDBlockSize uint64
}

// DefaultConfig returns the standard configuration against the in-memory
// backend.
func DefaultConfig() Config {
	return Config{
		Backend:       "inmemory",
		BufferSize:    1024,
		WriteAttempts: 5,
		ReadAttempts:  3,
		AttemptWait:   250 * time.Millisecond,
		SetupWait:     30 * time.Second,
		IDBlockSize:   10000,
	}
}

// validate rejects out-of-range values. Violations are configuration
// errors, reported before any backend is instantiated.
func (c *Config) validate() error {
	if c.Backend == "" {
		return configErr("validate config", "storage backend must be set", nil)
	}
	if c.BufferSize < 0 {
		return configErr("validate config",
			fmt.Sprintf("buffer size must be non-negative (use 0 to disable), got %d", c.BufferSize), nil)
	}
	if c.WriteAttempts <= 0 {
		return configErr("validate config",
			fmt.Sprintf("write attempts must be positive, got %d", c.WriteAttempts), nil)
	}
	if c.ReadAttempts <= 0 {
		return configErr("validate config",
			fmt.Sprintf("read attempts must be positive, got %d", c.ReadAttempts), nil)
	}
	if c.AttemptWait <= 0 {
		return configErr("validate config",
			fmt.Sprintf("attempt wait time must be positive, got %v", c.AttemptWait), nil)
	}
	if c.SetupWait <= 0 {
		return configErr("validate config",
			fmt.Sprintf("setup wait budget must be positive, got %v", c.SetupWait), nil)
	}
	if c.IDBlockSize == 0 {
		c.IDBlockSize = DefaultConfig().IDBlockSize
	}
	for name, idx := range c.Index {
		if name == "" {
			return configErr("validate config", "index name must not be empty", nil)
		}
		if idx.Backend == "" {
			return configErr("validate config",
				fmt.Sprintf("index %q: backend must be set", name), nil)
		}
	}
	return nil
}
