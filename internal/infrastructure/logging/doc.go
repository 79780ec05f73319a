// Package logging builds the engine's structured logger on log/slog.
//
// Every entry carries service and version fields. The logging section of
// config.yaml sets the level (debug up to critical) and chooses json or
// text output on stdout or stderr:
//
//	log := logging.New(cfg.Logging, version)
//	engineLog := log.Component("engine")
//	engineLog.Warn("admission refused", "live", 80)
//
// Critical sits above error and is kept for failures that stop scripts
// from running at all. Script output is logged at info; never log session
// contents or broker credentials.
package logging
