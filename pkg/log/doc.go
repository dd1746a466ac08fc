/*
Package log provides structured logging for fabric using zerolog.

The package wraps a single global zerolog.Logger, configured once via
Init, plus helpers that attach component and entity context fields so
every log line from a subsystem carries its name without repeating
.Str("component", ...) at every call site.

# Usage

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	matcherLog := log.WithComponent("matcher")
	matcherLog.Info().Str("workload_id", id).Msg("elected owner")

	log.Logger.Error().Err(err).Msg("state server failed to start")

WithNodeID, WithServiceID, and WithTaskID attach the corresponding ID
field for call sites that log about a specific node, service, or task
without constructing a full component logger.

# Format

JSONOutput selects zerolog's JSON encoder for production; when false,
Init uses zerolog.ConsoleWriter for readable local development output.
Both include a timestamp on every line.
*/
package log
