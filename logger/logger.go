// Package logger holds the process-wide zap logger.
package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	base *zap.Logger
	once sync.Once
)

// Base returns the shared logger, building a production logger on first use.
func Base() *zap.Logger {
	once.Do(func() {
		if base != nil {
			return
		}
		l, err := zap.NewProduction()
		if err != nil {
			l = zap.NewNop()
		}
		base = l
	})
	return base
}

// Init replaces the shared logger. Development mode switches to the console encoder.
func Init(development bool) error {
	var (
		l   *zap.Logger
		err error
	)
	if development {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return err
	}
	once.Do(func() {})
	base = l
	return nil
}

// Sync flushes buffered entries.
func Sync() {
	if base != nil {
		_ = base.Sync()
	}
}
