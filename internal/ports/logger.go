package ports

import "github.com/bft-labs/upshift/pkg/log"

// Logger is the structured logger used across the application layer.
type Logger = log.Logger

// Field is a structured log field.
type Field = log.Field

// Field constructors, re-exported so internal packages need a single import.
var (
	String   = log.String
	Int      = log.Int
	Float64  = log.Float64
	Bool     = log.Bool
	Duration = log.Duration
	Time     = log.Time
	Strings  = log.Strings
	Stringer = log.Stringer
	Err      = log.Err
	Any      = log.Any

	// WithFields binds fields to every entry written through the returned logger.
	WithFields = log.With
)
