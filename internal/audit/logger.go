package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
	"k8s.io/klog/v2"

	"github.com/radio-control/apd/internal/config"
)

// FileName is the audit log inside the configured directory.
const FileName = "audit.jsonl"

// Outcomes recorded per action.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AuditEntry is one JSONL record.
type AuditEntry struct {
	Timestamp time.Time              `json:"ts"`
	User      string                 `json:"user"`
	Interface string                 `json:"interface,omitempty"`
	Action    string                 `json:"action"`
	Params    map[string]interface{} `json:"params"`
	Outcome   string                 `json:"outcome"`
	Code      string                 `json:"code"`
}

// Logger appends audit records to a size-rotated file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	out      *lumberjack.Logger
	userOf   func(context.Context) string
	codeOf   func(error) string
	now      func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithUserFunc sets how the acting user is read from a request context.
func WithUserFunc(fn func(context.Context) string) Option {
	return func(l *Logger) { l.userOf = fn }
}

// WithCodeFunc sets how an operation error maps to a result code.
func WithCodeFunc(fn func(error) string) Option {
	return func(l *Logger) { l.codeOf = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// NewLogger opens the audit log under cfg.Dir.
func NewLogger(cfg config.AuditConfig, opts ...Option) (*Logger, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	filePath := filepath.Join(cfg.Dir, FileName)
	l := &Logger{
		filePath: filePath,
		out: &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		},
		userOf: func(context.Context) string { return "" },
		codeOf: getCodeFromError,
		now:    time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// LogAction records a read-only action.
func (l *Logger) LogAction(ctx context.Context, action, iface string, err error) {
	l.LogControlAction(ctx, action, iface, nil, err)
}

// LogControlAction records an administrative action with its parameters.
func (l *Logger) LogControlAction(ctx context.Context, action, iface string, params map[string]interface{}, err error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	user := l.userOf(ctx)
	if user == "" {
		user = "unknown"
	}
	l.writeEntry(AuditEntry{
		Timestamp: l.now().UTC(),
		User:      user,
		Interface: iface,
		Action:    action,
		Params:    params,
		Outcome:   outcome,
		Code:      l.codeOf(err),
	})
}

func (l *Logger) writeEntry(entry AuditEntry) {
	jsonData, err := json.Marshal(entry)
	if err != nil {
		klog.Errorf("audit: failed to marshal entry for %s: %v", entry.Action, err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		klog.Warningf("audit: logger closed, dropping %s", entry.Action)
		return
	}
	if _, err := l.out.Write(append(jsonData, '\n')); err != nil {
		klog.Errorf("audit: failed to write entry for %s: %v", entry.Action, err)
	}
}

// getCodeFromError reads the result token carried by err. Sentinel errors
// of the driver and interface layers are upper-case tokens.
func getCodeFromError(err error) string {
	if err == nil {
		return "SUCCESS"
	}
	errStr := err.Error()
	for _, token := range []string{"INVALID_RANGE", "UNAVAILABLE", "BUSY", "NOT_FOUND", "UNAUTHORIZED", "FORBIDDEN"} {
		if strings.Contains(errStr, token) {
			return token
		}
	}
	return "ERROR"
}

// Close closes the audit log.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out == nil {
		return nil
	}
	err := l.out.Close()
	l.out = nil
	return err
}

// GetFilePath returns the path of the active audit file.
func (l *Logger) GetFilePath() string {
	return l.filePath
}

// Rotate moves the active file aside and starts a new one.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out == nil {
		return fmt.Errorf("audit logger closed")
	}
	if err := l.out.Rotate(); err != nil {
		return fmt.Errorf("failed to rotate audit log: %w", err)
	}
	return nil
}
