// Copyright (C) 2023-2026, Tree Ledger, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewDefaultLogger returns a logger that writes JSON-encoded entries at or
// above [level] to stderr.
func NewDefaultLogger(prefix string, level Level) Logger {
	consoleEnc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	consoleCore := NewWrappedCore(level, os.Stderr, consoleEnc)
	return NewLogger(prefix, consoleCore)
}
