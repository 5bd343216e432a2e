// Package log is the logging facade shared by the engine, its adapters and
// embedding applications.
//
// The engine only sees the Logger interface. Wrap an application logger:
//
//	logger := log.NewZerologAdapterWithLogger(zerolog.New(os.Stderr))
//
// or tag everything one component writes:
//
//	execLog := log.With(logger, log.String("execution_id", id))
//
// NewNoopLogger is the default when nothing is configured.
package log
