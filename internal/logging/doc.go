// Package logging provides structured logging for logwait.
//
// It wraps Go's log/slog to emit JSON lines with persistent context
// attributes. Child loggers created through the With* methods share the
// underlying writer, so closing any of them closes the file once.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(logDir, logging.LevelInfo)
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	log := logger.WithProcess("aionr").WithComponent("dispatcher")
//	log.Info("wait resolved", "request_id", 3, "status", "observed")
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"wait resolved","process":"aionr","component":"dispatcher","request_id":3,"status":"observed"}
//
// # Rotation
//
// [NewLoggerWithRotation] writes through a [RotatingWriter], which renames
// logwait.log to logwait.log.1 once it grows past RotationConfig.MaxSizeMB
// and optionally gzips the backup.
//
// An empty log directory sends output to stderr; [NopLogger] discards it.
package logging
