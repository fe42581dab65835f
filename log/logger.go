/*
 *
 * cypress-code-coverage-v8 - native browser coverage for end-to-end test runs
 * Copyright (C) 2024 parkuman
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package log wraps logrus with the category-prefixed diagnostic logging used
// by every part of the coverage pipeline. All pipeline output is identifiable
// by its "cov:" category prefix so it can be told apart from the host test
// runner's own logging.
package log

import (
	"io"
	"regexp"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is a categorized logger. A category names the pipeline stage a line
// originates from, e.g. "cov:cdp" or "cov:convert".
type Logger struct {
	Log            *logrus.Logger
	mu             sync.Mutex
	debugOverride  bool
	categoryFilter *regexp.Regexp
}

// NewNullLogger will create a logger where log lines will
// be discarded and not logged anywhere.
func NewNullLogger() *Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return New(log, false, nil)
}

// New creates a new logger.
func New(logger *logrus.Logger, debugOverride bool, categoryFilter *regexp.Regexp) *Logger {
	return &Logger{
		Log:            logger,
		debugOverride:  debugOverride,
		categoryFilter: categoryFilter,
	}
}

func (l *Logger) Tracef(category string, msg string, args ...interface{}) {
	l.Logf(logrus.TraceLevel, category, msg, args...)
}

func (l *Logger) Debugf(category string, msg string, args ...interface{}) {
	l.Logf(logrus.DebugLevel, category, msg, args...)
}

func (l *Logger) Errorf(category string, msg string, args ...interface{}) {
	l.Logf(logrus.ErrorLevel, category, msg, args...)
}

func (l *Logger) Infof(category string, msg string, args ...interface{}) {
	l.Logf(logrus.InfoLevel, category, msg, args...)
}

// Warnf is for the handful of conditions serious enough to warrant operator
// attention (no session, missing debug port argument, non-V8 browser).
func (l *Logger) Warnf(category string, msg string, args ...interface{}) {
	l.Logf(logrus.WarnLevel, category, msg, args...)
}

func (l *Logger) Logf(level logrus.Level, category string, msg string, args ...interface{}) {
	if l == nil {
		return
	}
	if l.Log.GetLevel() < level && !l.debugOverride {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.categoryFilter != nil && !l.categoryFilter.MatchString(category) {
		return
	}

	entry := l.Log.WithField("category", category)
	if l.debugOverride && level > logrus.InfoLevel {
		entry.Infof(msg, args...)
		return
	}
	entry.Logf(level, msg, args...)
}

// DebugMode returns true if the logger is in debug mode, either through its
// logrus level or via the debug override.
func (l *Logger) DebugMode() bool {
	return l.debugOverride || l.Log.GetLevel() == logrus.DebugLevel
}

// SetCategoryFilter restricts logging to categories matching the given
// regular expression.
func (l *Logger) SetCategoryFilter(filter string) error {
	if filter == "" {
		return nil
	}
	var err error
	if l.categoryFilter, err = regexp.Compile(filter); err != nil {
		return err
	}
	return nil
}
