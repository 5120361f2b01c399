package accounting

import (
	"context"
	"time"

	"k8s.io/klog/v2"

	"github.com/radio-control/apd/internal/bss"
)

// LogSink writes accounting records to the daemon log.
type LogSink struct {
	now func() time.Time
}

var _ bss.Accounting = (*LogSink)(nil)

// NewLogSink creates a LogSink.
func NewLogSink() *LogSink {
	return &LogSink{now: time.Now}
}

func (l *LogSink) write(event string, s bss.Session) error {
	b, err := newRecord(event, s, l.now()).Encode()
	if err != nil {
		return err
	}
	klog.Infof("accounting: %s", b)
	return nil
}

func (l *LogSink) SessionStarted(_ context.Context, s bss.Session) error {
	return l.write(EventStart, s)
}

func (l *LogSink) SessionFailed(_ context.Context, s bss.Session) error {
	return l.write(EventFail, s)
}

func (l *LogSink) SessionStopped(_ context.Context, s bss.Session) error {
	return l.write(EventStop, s)
}
