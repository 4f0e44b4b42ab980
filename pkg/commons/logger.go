package commons

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the application-wide logging contract. All services log through
// this interface rather than using zap directly so call sites stay decoupled
// from the backend.
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})

	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})

	// Benchmark records how long a named stage took.
	Benchmark(name string, elapsed time.Duration)

	Sync() error
}

type loggerOptions struct {
	name  string
	path  string
	level string
}

type LoggerOption func(*loggerOptions)

// Name sets the logical service name attached to every entry.
func Name(name string) LoggerOption {
	return func(o *loggerOptions) { o.name = name }
}

// Path enables rotated file output under the given directory.
func Path(path string) LoggerOption {
	return func(o *loggerOptions) { o.path = path }
}

// Level sets the minimum level: debug, info, warn or error.
func Level(level string) LoggerOption {
	return func(o *loggerOptions) { o.level = level }
}

type applicationLogger struct {
	sugar *zap.SugaredLogger
}

// NewApplicationLogger builds the standard zap-backed logger. With no options
// it logs to stderr at debug level, which is what tests use.
func NewApplicationLogger(opts ...LoggerOption) (Logger, error) {
	options := &loggerOptions{
		name:  "rapida",
		level: "debug",
	}
	for _, opt := range opts {
		opt(options)
	}

	level := zapcore.DebugLevel
	if err := level.Set(options.level); err != nil {
		level = zapcore.DebugLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderConfig)

	var sink zapcore.WriteSyncer
	if options.path != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(options.path, options.name+".log"),
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
	} else {
		sink = zapcore.AddSync(os.Stderr)
	}

	core := zapcore.NewCore(encoder, sink, level)
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).
		Named(options.name)

	return &applicationLogger{sugar: logger.Sugar()}, nil
}

func (l *applicationLogger) Debug(args ...interface{}) { l.sugar.Debug(args...) }
func (l *applicationLogger) Info(args ...interface{})  { l.sugar.Info(args...) }
func (l *applicationLogger) Warn(args ...interface{})  { l.sugar.Warn(args...) }
func (l *applicationLogger) Error(args ...interface{}) { l.sugar.Error(args...) }

func (l *applicationLogger) Debugf(template string, args ...interface{}) {
	l.sugar.Debugf(template, args...)
}

func (l *applicationLogger) Infof(template string, args ...interface{}) {
	l.sugar.Infof(template, args...)
}

func (l *applicationLogger) Warnf(template string, args ...interface{}) {
	l.sugar.Warnf(template, args...)
}

func (l *applicationLogger) Errorf(template string, args ...interface{}) {
	l.sugar.Errorf(template, args...)
}

func (l *applicationLogger) Benchmark(name string, elapsed time.Duration) {
	l.sugar.Infow("benchmark", "stage", name, "elapsed_ms", elapsed.Milliseconds())
}

func (l *applicationLogger) Sync() error { return l.sugar.Sync() }
