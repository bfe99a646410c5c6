package logger

import (
	"github.com/teranos/rankpulse/sym"
	"go.uber.org/zap"
)

// Instance logger wrappers. These tag any logger with a segment glyph so
// logs are queryable by symbol while messages stay clean.
//
//	t.logger = logger.AddPulseSymbol(baseLogger)
//	t.logger.Infow("Ticker started", "interval", interval)

// AddPulseSymbol wraps a logger with the Pulse symbol (꩜)
func AddPulseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Pulse)
}

// AddPulseOpenSymbol wraps a logger with the PulseOpen symbol (✿)
func AddPulseOpenSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.PulseOpen)
}

// AddPulseCloseSymbol wraps a logger with the PulseClose symbol (❀)
func AddPulseCloseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.PulseClose)
}

// AddCrawlSymbol wraps a logger with the Crawl symbol (⟶)
func AddCrawlSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Crawl)
}

// PulseInfow logs an info message on the global logger with the Pulse symbol
func PulseInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, sym.Pulse}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// PulseWarnw logs a warning on the global logger with the Pulse symbol
func PulseWarnw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, sym.Pulse}, keysAndValues...)
		Logger.Warnw(msg, fields...)
	}
}
