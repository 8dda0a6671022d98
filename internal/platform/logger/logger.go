package logger

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/ohmynofan/b402-claimer/internal/domain/model"
	"github.com/ohmynofan/b402-claimer/internal/platform/ui"
	"github.com/ohmynofan/b402-claimer/pkg/utils"
)

var (
	fileLogger *log.Logger
	once       sync.Once
	logFile    *os.File
)

func Init(path string) error {
	var err error
	once.Do(func() {
		os.Remove(path)
		if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return
		}
		logFile, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return
		}
		fileLogger = log.New(logFile, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	})
	return err
}

func Close() error {
	if logFile != nil {
		return logFile.Close()
	}
	return nil
}

type ClassLogger struct {
	class  string
	status *model.Status
}

func NewLogger(v interface{}, status *model.Status) *ClassLogger {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return &ClassLogger{class: t.Name(), status: status}
}

func NewNamed(name string, status *model.Status) *ClassLogger {
	return &ClassLogger{class: name, status: status}
}

// Log writes msg to the log file and shows it as the panel status line.
func (l *ClassLogger) Log(msg string) {
	l.write(msg)
	if l.status == nil {
		return
	}
	ui.UpdateStatus(l.status.Snapshot(), shortenForDisplay(msg), 0)
}

// Countdown logs msg and keeps the panel delay counter running for d.
// It returns early with ctx.Err() when ctx is cancelled.
func (l *ClassLogger) Countdown(ctx context.Context, msg string, d time.Duration) error {
	l.write(msg)
	displayMsg := shortenForDisplay(msg)

	interval := time.Second
	for remaining := d; remaining > 0; remaining -= interval {
		if l.status != nil {
			ui.UpdateStatus(l.status.Snapshot(), displayMsg, remaining)
		}
		sleepTime := interval
		if remaining < interval {
			sleepTime = remaining
		}
		timer := time.NewTimer(sleepTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if l.status != nil {
		ui.UpdateStatus(l.status.Snapshot(), displayMsg, 0)
	}
	return nil
}

func (l *ClassLogger) JustLog(msg string) {
	l.write(msg)
}

func (l *ClassLogger) LogObject(msg string, obj interface{}) {
	if fileLogger == nil {
		return
	}
	formattedString, err := utils.FormatObject(obj)
	if err != nil {
		l.JustLog(fmt.Sprintf("Error formatting object: %v", err))
		return
	}
	l.JustLog(fmt.Sprintf("%s : \n%v", msg, formattedString))
}

func (l *ClassLogger) write(msg string) {
	if fileLogger == nil {
		return
	}
	fileLogger.Printf("[%s][%s] %s", l.class, callerFunc(3), msg)
}

func callerFunc(skip int) string {
	pc, _, _, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown"
	}
	parts := strings.Split(fn.Name(), ".")
	return parts[len(parts)-1]
}

func shortenForDisplay(msg string) string {
	const maxLen = 140
	runes := []rune(msg)
	if len(runes) <= maxLen {
		return msg
	}
	return string(runes[:maxLen-1]) + "…"
}
