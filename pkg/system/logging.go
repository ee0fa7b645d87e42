package system

import (
	stdlog "log"

	"go.uber.org/zap"
)

// NewLogger builds the process logger. Debug mode uses the human readable
// development encoder; otherwise the JSON production encoder is used and only
// warnings and errors are written.
func NewLogger(debug bool) *zap.SugaredLogger {
	var zlog *zap.Logger
	var err error
	if debug {
		zlog, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		// CLI output goes to stdout, keep logs on stderr.
		cfg.OutputPaths = []string{"stderr"}
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		zlog, err = cfg.Build()
	}
	if err != nil {
		stdlog.Fatalf("failed to set up logger: %v", err)
	}
	return zlog.Sugar()
}

// OrNop returns log, or a no-op logger when log is nil.
func OrNop(log *zap.SugaredLogger) *zap.SugaredLogger {
	if log == nil {
		return zap.NewNop().Sugar()
	}
	return log
}

// MaskToken keeps only the tail of a credential so it can be correlated in
// logs without being usable.
func MaskToken(t string) string {
	if len(t) < 20 {
		return "***"
	}
	return "..." + t[len(t)-6:]
}

// AccountFields returns key/value pairs identifying an account for
// SugaredLogger.With or Infow/Errorw calls. The name is omitted when empty.
func AccountFields(uuid, name string) []interface{} {
	if name == "" {
		return []interface{}{"uuid", uuid}
	}
	return []interface{}{"uuid", uuid, "name", name}
}
