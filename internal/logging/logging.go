// Copyright 2025 Stacklok, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging provides the process-wide structured logger used across
// the authorization server. It mirrors the teacher's singleton-accessor
// pattern (Get/Debugw/Infow/Warnw/Errorw) on top of zap's SugaredLogger.
package logging

import (
	"os"
	"sync/atomic"

	"go.uber.org/zap"
)

var singleton atomic.Pointer[zap.SugaredLogger]

func init() {
	l, _ := newDefault()
	singleton.Store(l)
}

func newDefault() (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	if os.Getenv("OAUTH_DEBUG") == "true" {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.Development = true
		cfg.Encoding = "console"
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar(), err
	}
	return logger.Sugar(), nil
}

// Get returns the current process-wide logger.
func Get() *zap.SugaredLogger {
	return singleton.Load()
}

// Set replaces the process-wide logger.
func Set(l *zap.SugaredLogger) {
	singleton.Store(l)
}

// Debugw logs at debug level with structured key/value pairs.
func Debugw(msg string, kv ...any) { Get().Debugw(msg, kv...) }

// Infow logs at info level with structured key/value pairs.
func Infow(msg string, kv ...any) { Get().Infow(msg, kv...) }

// Warnw logs at warn level with structured key/value pairs.
func Warnw(msg string, kv ...any) { Get().Warnw(msg, kv...) }

// Errorw logs at error level with structured key/value pairs.
func Errorw(msg string, kv ...any) { Get().Errorw(msg, kv...) }

// Debug logs an unstructured debug message.
func Debug(msg string) { Get().Debug(msg) }
