// Package audit records security-relevant session events.
//
// Events are written as JSON lines. The FileLogger appends to audit.log in
// its base directory and rotates the file once it grows past MaxSize,
// keeping at most MaxFiles rotated files.
//
//	logger, err := audit.NewFileLogger(audit.FileLoggerConfig{BasePath: dir, Rotate: true})
//	if err != nil {
//		return err
//	}
//	defer logger.Close()
//
//	ev := audit.NewEvent(r, audit.EventTypeLogin, audit.EventStatusSuccess)
//	ev.Username = "jane"
//	logger.Log(r.Context(), ev)
//
// A nil Logger is never handed out; NewNopLogger discards everything.
package audit
