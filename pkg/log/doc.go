/*
Package log provides structured logging for a3s box using zerolog.

A single global Logger is configured once via Init and then specialized
with component/box/image-scoped child loggers for the rest of the
codebase.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	log.Info("a3s box starting")

	boxLog := log.WithBoxID(box.ID)
	boxLog.Info().Str("state", string(box.State)).Msg("box started")

# Design

Global logger pattern, as used throughout this codebase: a package-level
zerolog.Logger, initialized in cmd/boxd's cobra.OnInitialize hook,
specialized with .With() child loggers rather than passed explicitly
through every call.
*/
package log
