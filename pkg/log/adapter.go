// Package log bridges third-party loggers to logrus.
package log

import "github.com/sirupsen/logrus"

// BadgerLogrusAdapter implements badger.Logger using logrus.
// Badger's info output is routine compaction and replay noise, so it is
// logged at debug level.
type BadgerLogrusAdapter struct {
	entry *logrus.Entry
}

// NewBadgerLogrusAdapter creates an adapter tagged with component=badgerdb
func NewBadgerLogrusAdapter(entry *logrus.Entry) *BadgerLogrusAdapter {
	return &BadgerLogrusAdapter{entry: entry.WithField("component", "badgerdb")}
}

func (l *BadgerLogrusAdapter) Errorf(f string, v ...any)   { l.entry.Errorf(f, v...) }
func (l *BadgerLogrusAdapter) Warningf(f string, v ...any) { l.entry.Warnf(f, v...) }
func (l *BadgerLogrusAdapter) Infof(f string, v ...any)    { l.entry.Debugf(f, v...) }
func (l *BadgerLogrusAdapter) Debugf(f string, v ...any)   { l.entry.Tracef(f, v...) }
