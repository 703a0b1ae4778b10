// Copyright 2024 The IronPLC Authors. All rights reserved.
// Use of this source code is governed by the Apache v2 license.

// Package log provides the leveled key/value logger used across the
// runtime. Callers inject their own Logger through the library Options;
// the default is a std logger filtered to errors.
package log

import (
	"fmt"
	"io"
	"log"
	"sync"
)

// DefaultMessageKey is the key under which formatted helper messages are
// logged.
const DefaultMessageKey = "msg"

// Logger is the minimal logging interface.
type Logger interface {
	Log(level Level, keyvals ...interface{}) error
}

type stdLogger struct {
	log  *log.Logger
	pool *sync.Pool
}

// NewStdLogger returns a Logger writing plain text to w.
func NewStdLogger(w io.Writer) Logger {
	return &stdLogger{
		log: log.New(w, "", 0),
		pool: &sync.Pool{
			New: func() interface{} {
				return new(bytes)
			},
		},
	}
}

type bytes []byte

func (l *stdLogger) Log(level Level, keyvals ...interface{}) error {
	if len(keyvals) == 0 {
		return nil
	}
	if (len(keyvals) & 1) == 1 {
		keyvals = append(keyvals, "KEYVALS UNPAIRED")
	}
	buf := l.pool.Get().(*bytes)
	*buf = append(*buf, level.String()...)
	for i := 0; i < len(keyvals); i += 2 {
		*buf = append(*buf, ' ')
		*buf = append(*buf, fmt.Sprintf("%s=%v", keyvals[i], keyvals[i+1])...)
	}
	_ = l.log.Output(4, string(*buf))
	*buf = (*buf)[:0]
	l.pool.Put(buf)
	return nil
}
