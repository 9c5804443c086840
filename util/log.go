package util

import (
	"io"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kivyx/ota/management/server/context"
)

// LogConsole sends log output to stderr instead of a file
const LogConsole = "console"

type LogSource string

// HTTPSource marks contexts of API requests, see CustomFormatter
const HTTPSource LogSource = "HTTP"

// InitLog parses and sets log-level input
func InitLog(logLevel string, logPath string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Errorf("Failed parsing log-level %s: %s", logLevel, err)
		return err
	}

	if logPath != "" && logPath != LogConsole {
		lumberjackLogger := &lumberjack.Logger{
			// Log file absolute path, os agnostic
			Filename:   filepath.ToSlash(logPath),
			MaxSize:    5, // MB
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		}
		log.SetOutput(io.Writer(lumberjackLogger))
	}

	log.SetFormatter(&CustomFormatter{TextFormatter: log.TextFormatter{FullTimestamp: true}})
	log.SetLevel(level)
	return nil
}

// CustomFormatter adds request scoped fields carried by the entry context
type CustomFormatter struct {
	log.TextFormatter
}

func (f *CustomFormatter) Format(entry *log.Entry) ([]byte, error) {
	if entry.Context == nil {
		return f.TextFormatter.Format(entry)
	}

	if source, _ := entry.Context.Value(context.LogSourceKey).(LogSource); source == HTTPSource {
		return f.formatHTTPLog(entry)
	}
	return f.TextFormatter.Format(entry)
}

func (f *CustomFormatter) formatHTTPLog(entry *log.Entry) ([]byte, error) {
	if ctxReqID, ok := entry.Context.Value(context.RequestIDKey).(string); ok {
		entry.Data["requestID"] = ctxReqID
	}
	if ctxDeviceID, ok := entry.Context.Value(context.DeviceIDKey).(string); ok {
		entry.Data["deviceID"] = ctxDeviceID
	}
	if ctxApp, ok := entry.Context.Value(context.AppKey).(string); ok {
		entry.Data["app"] = ctxApp
	}

	return f.TextFormatter.Format(entry)
}
