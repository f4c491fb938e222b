package recurrence

import (
	"time"
)

// Info contains all recurrence-related information for a record
type Info struct {
	RRULE        string      // The RRULE value without the "RRULE:" prefix
	RDATE        []time.Time // Additional recurrence dates
	EXDATE       []time.Time // Exception dates (excluded occurrences)
	RecurrenceID *time.Time  // For exception instances - which occurrence this overrides
}

// Occurrence represents a single occurrence of a record in time
type Occurrence struct {
	Start        time.Time
	End          time.Time
	IsException  bool       // True if this is an exception/override instance
	RecurrenceID *time.Time // If this is an exception, the original occurrence time
}

// ExpansionOptions controls how recurrence expansion behaves
type ExpansionOptions struct {
	MaxOccurrences    int  // Maximum number of occurrences to expand (0 = unlimited)
	IncludeExceptions bool // Whether to include exception instances in expansion
}

// DefaultExpansionOptions provides sensible defaults for expansion
var DefaultExpansionOptions = ExpansionOptions{
	MaxOccurrences:    1000,
	IncludeExceptions: true,
}
