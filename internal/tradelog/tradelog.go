// Package tradelog writes the append-only trade log and error log files.
package tradelog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tradebot-v1/internal/model"
	"tradebot-v1/internal/state"
)

// Files holds the open trade and error logs. Trade lines use
// TradeRecord.LogLine; the error log is a zap console-encoded file with one
// line per recovery decision.
type Files struct {
	mu      sync.Mutex
	trades  *os.File
	errFile *os.File
	errs    *zap.Logger
}

// Open opens (creating parent directories) both log files in append mode.
func Open(tradePath, errorPath string) (*Files, error) {
	trades, err := openAppend(tradePath)
	if err != nil {
		return nil, fmt.Errorf("tradelog: trade log: %w", err)
	}
	errFile, err := openAppend(errorPath)
	if err != nil {
		trades.Close()
		return nil, fmt.Errorf("tradelog: error log: %w", err)
	}

	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	enc.CallerKey = zapcore.OmitKey
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(errFile), zapcore.DebugLevel)

	return &Files{trades: trades, errFile: errFile, errs: zap.New(core)}, nil
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// RecordTrade appends one trade line.
func (f *Files) RecordTrade(rec model.TradeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := fmt.Fprintf(f.trades, "%s | %s\n", rec.LogLine(), rec.Status)
	return err
}

// RecordRecovery appends one error log line for a recovery decision.
func (f *Files) RecordRecovery(ev state.RecoveryEvent) error {
	a := ev.Action
	f.errs.Log(a.Level, a.Reason,
		zap.String("action", string(a.Type)),
		zap.String("kind", string(a.Kind)),
		zap.String("symbol", a.Symbol),
		zap.Bool("applied", ev.Applied),
		zap.String("detail", ev.Detail),
		zap.Bool("fatal", a.Fatal),
	)
	return nil
}

// Close flushes and closes both files.
func (f *Files) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.errs.Sync()
	err1 := f.trades.Close()
	err2 := f.errFile.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
