// Package logging sets up structured slog output for the fabindex CLI.
//
// By default logs are JSON lines on stderr at the configured level. With
// --debug they are also written to a rotating file under ~/.fabindex/logs/,
// which `fabindex logs` reads back.
package logging
