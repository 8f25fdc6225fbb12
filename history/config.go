package history

import (
	"fmt"
	"time"

	"github.com/0xmhha/hellostorage-go/internal/constants"
)

// Config holds the fetch policy
type Config struct {
	// MaxRange is the largest End-Start distance of a window
	MaxRange uint64

	// MaxRetries is the number of consecutive failures of one window that ends the session
	MaxRetries int

	// WindowDelay is waited before every window after the first successful one
	WindowDelay time.Duration

	// RetryDelay is waited before querying a failed window again
	RetryDelay time.Duration

	// Location and TimeLayout render Entry.Time
	Location   *time.Location
	TimeLayout string
}

// DefaultConfig returns the policy the public endpoints tolerate
func DefaultConfig() *Config {
	return &Config{
		MaxRange:    constants.DefaultMaxBlockRange,
		MaxRetries:  constants.DefaultHistoryMaxRetries,
		WindowDelay: constants.DefaultWindowDelay,
		RetryDelay:  constants.DefaultRetryDelay,
		Location:    time.Local,
		TimeLayout:  constants.DefaultTimeLayout,
	}
}

// Validate validates the fetch policy
func (c *Config) Validate() error {
	if c.MaxRange == 0 {
		return fmt.Errorf("max range must be positive")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive")
	}
	if c.WindowDelay < 0 {
		return fmt.Errorf("window delay cannot be negative")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay cannot be negative")
	}
	return nil
}

func (c *Config) location() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}

func (c *Config) layout() string {
	if c.TimeLayout == "" {
		return constants.DefaultTimeLayout
	}
	return c.TimeLayout
}
