package recurrence

import (
	"time"

	"github.com/cyp0633/kolabdav/cache"
)

// Config holds configuration options for the recurrence engine
type Config struct {
	MaxExpansionOccurrences int           // Maximum occurrences to check in HasOccurrenceInRange
	LargeRangeThreshold     time.Duration // Threshold for "large" time ranges that get limited expansion
	LargeRangeLimit         time.Duration // Limit for expansion when range exceeds threshold
}

// DefaultConfig provides sensible defaults for production use
var DefaultConfig = Config{
	MaxExpansionOccurrences: 100,
	LargeRangeThreshold:     90 * 24 * time.Hour,
	LargeRangeLimit:         90 * 24 * time.Hour,
}

// NewEngineWithConfig creates a recurrence engine with custom configuration.
// c memoizes range checks; nil disables caching.
func NewEngineWithConfig(config Config, c cache.Cache) *Engine {
	return &Engine{
		cache:  c,
		config: config,
	}
}
