// Package logger provides the process-wide structured logger used by every
// c4 subsystem. It wraps logrus with a compact fixed-width formatter so log
// lines stay readable when several Client runtime threads log concurrently.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var root = newDefault()

// Config controls where log output goes and at what level.
type Config struct {
	Path  string
	Level string
}

type lineFormatter struct{}

func (lineFormatter) Format(e *logrus.Entry) ([]byte, error) {
	level := strings.ToUpper(e.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%-4s] %s", e.Time.Format("15:04:05.000"), level, e.Message)
	for k, v := range e.Data {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(lineFormatter{})
	l.SetLevel(logrus.InfoLevel)
	if isatty.IsTerminal(os.Stdout.Fd()) {
		l.SetOutput(colorable.NewColorableStdout())
	} else {
		l.SetOutput(os.Stdout)
	}
	return l
}

func parseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Init reconfigures the package logger. Safe to call once at Client startup;
// unconfigured use still logs to stdout at info level.
func Init(cfg Config) error {
	root.SetLevel(parseLevel(cfg.Level))
	if cfg.Path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		root.Warnf("could not open log file %s, staying on stdout: %v", cfg.Path, err)
		return err
	}
	root.SetOutput(io.MultiWriter(os.Stdout, f))
	return nil
}

// With returns a logger scoped to a subsystem, e.g. logger.With("router").
func With(component string) *logrus.Entry {
	return root.WithField("c4", component)
}

func Debugf(format string, args ...interface{}) { root.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { root.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { root.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { root.Errorf(format, args...) }
