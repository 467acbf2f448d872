// Package logging builds the process logger on top of log/slog.
//
// # Overview
//
//   - JSON or text output to stdout, or to a size-rotated file via lumberjack
//   - A level that can be changed while running (config reloads)
//   - Redaction of credentials in attribute values, and of dictated text,
//     which is logged only as its length
//   - request_id and user taken from the context of *Context calls
//
// # Usage
//
//	logger, err := logging.New(cfg.Telemetry.Logging, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//	slog.SetDefault(logger.Logger)
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	slog.InfoContext(ctx, "transcribed", "seconds", 8)
package logging
