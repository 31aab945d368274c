package badgerstore

import (
	"github.com/10gen/mongo-external-sync/internal/logger"
	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

type badgerLogger struct {
	l         *logger.Logger
	component string
}

var _ badger.Logger = &badgerLogger{}

// NewLogger sends badger’s log messages to l, each prefixed with
// component.
func NewLogger(l *logger.Logger, component string) badger.Logger {
	return &badgerLogger{l: l, component: component}
}

func (bl *badgerLogger) Errorf(tmpl string, args ...any) {
	bl.log(zerolog.ErrorLevel, "error", tmpl, args...)
}

func (bl *badgerLogger) Warningf(tmpl string, args ...any) {
	bl.log(zerolog.DebugLevel, "warn", tmpl, args...)
}

// Badger’s “info” is chatter about compactions and the like.
func (bl *badgerLogger) Infof(tmpl string, args ...any) {
	bl.log(zerolog.TraceLevel, "info", tmpl, args...)
}

func (bl *badgerLogger) Debugf(tmpl string, args ...any) {
	bl.log(zerolog.TraceLevel, "debug", tmpl, args...)
}

func (bl *badgerLogger) log(lv zerolog.Level, badgerLevel string, tmpl string, args ...any) {
	bl.l.WithLevel(lv).Msgf(bl.component+" ("+badgerLevel+"): "+tmpl, args...)
}
