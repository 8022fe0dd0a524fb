// Copyright 2014-present Webcast.io. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See the LICENSE file for details.

package jobukyu

import "log"

// Logger defines an interface that implementers can use to redirect
// logging into their own application.
type Logger interface {
	Printf(format string, v ...interface{})
}

// NewStdLogger returns a Logger backed by the Go log package.
func NewStdLogger() Logger {
	return stdLogger{}
}

// stdLogger implements the Logger interface by wrapping the Go log package.
type stdLogger struct{}

func (stdLogger) Printf(format string, v ...interface{}) {
	log.Printf(format, v...)
}
