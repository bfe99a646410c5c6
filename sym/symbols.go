// Package sym defines the symbols rankpulse attaches to log lines and CLI output.
// They are stable across the CLI and the logs.
package sym

// Glyphs for the engine's segments.
const (
	AM         = "≡" // configuration and settings
	Pulse      = "꩜" // scheduling and run execution
	PulseOpen  = "✿" // graceful startup
	PulseClose = "❀" // graceful shutdown
	DB         = "⊔" // storage
	Crawl      = "⟶" // provider calls made on behalf of a run
)

// Prefix returns "glyph text" for human output.
func Prefix(symbol, text string) string {
	return symbol + " " + text
}
