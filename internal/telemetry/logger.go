package telemetry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

var (
	logger     *logrus.Logger
	loggerOnce sync.Once
	fileHook   *FileLogHook
)

// FileLogHook mirrors every log entry as a JSON line into a file, for local
// collectors that tail files instead of receiving OTLP.
type FileLogHook struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// InitLogger initializes the global logger
func InitLogger(cfg *Config) error {
	var err error
	loggerOnce.Do(func() {
		l := logrus.New()

		level, parseErr := logrus.ParseLevel(cfg.LogLevel)
		if parseErr != nil {
			level = logrus.InfoLevel
		}
		l.SetLevel(level)
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "@timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
		l.AddHook(&serviceHook{fields: logrus.Fields{
			"service.name":    cfg.ServiceName,
			"service.version": cfg.ServiceVersion,
			"environment":     cfg.Environment,
		}})

		if cfg.ExportToFile && cfg.LogsFilePath != "" {
			fileHook, err = NewFileLogHook(cfg.LogsFilePath)
			if err != nil {
				l.WithError(err).Error("Failed to create file log hook")
			} else {
				l.AddHook(fileHook)
			}
		}

		logger = l
	})
	return err
}

// serviceHook stamps the service identity on every entry
type serviceHook struct {
	fields logrus.Fields
}

func (h *serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *serviceHook) Fire(entry *logrus.Entry) error {
	for k, v := range h.fields {
		if _, ok := entry.Data[k]; !ok {
			entry.Data[k] = v
		}
	}
	return nil
}

// NewFileLogHook opens filePath for appending, creating parent directories
func NewFileLogHook(filePath string) (*FileLogHook, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	return &FileLogHook{
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

// Levels returns the log levels this hook is interested in
func (f *FileLogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire writes the entry as one JSON line
func (f *FileLogHook) Fire(entry *logrus.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data := make(map[string]interface{}, len(entry.Data)+3)
	for k, v := range entry.Data {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		data[k] = v
	}
	data["@timestamp"] = entry.Time.Format(timestampFormat)
	data["level"] = entry.Level.String()
	data["message"] = entry.Message

	return f.encoder.Encode(data)
}

// Close closes the underlying file
func (f *FileLogHook) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Close()
}

// L returns the global logger instance
func L() *logrus.Logger {
	if logger == nil {
		return logrus.StandardLogger()
	}
	return logger
}

// WithContext adds trace information to the logger
func WithContext(ctx context.Context) *logrus.Entry {
	entry := L().WithContext(ctx)

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		entry = entry.WithFields(logrus.Fields{
			"trace.id": span.SpanContext().TraceID().String(),
			"span.id":  span.SpanContext().SpanID().String(),
		})
	}

	return entry
}

// WithFields adds fields to the logger
func WithFields(fields logrus.Fields) *logrus.Entry {
	return L().WithFields(fields)
}

// WithError adds an error to the logger
func WithError(err error) *logrus.Entry {
	return L().WithError(err)
}

// WithCommand returns an entry tagged with the app and command tag
func WithCommand(ctx context.Context, appKey, tag string) *logrus.Entry {
	return WithContext(ctx).WithFields(logrus.Fields{
		"app_key": appKey,
		"tag":     tag,
	})
}

// CloseLogger closes any open resources
func CloseLogger() error {
	if fileHook != nil {
		return fileHook.Close()
	}
	return nil
}
