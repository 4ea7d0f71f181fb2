// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

package genericconf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// HandlerFromLogType returns a slog handler writing to output in the requested
// format. "plaintext" and "json" are supported.
func HandlerFromLogType(logType string, output io.Writer) (slog.Handler, error) {
	if logType == "plaintext" {
		return log.NewTerminalHandler(output, false), nil
	} else if logType == "json" {
		return log.JSONHandler(output), nil
	}
	return nil, fmt.Errorf("invalid log type: %s", logType)
}

// ToSlogLevel parses either a named level or a legacy numeric verbosity.
func ToSlogLevel(str string) (slog.Level, error) {
	switch strings.ToLower(str) {
	case "trace":
		return log.LevelTrace, nil
	case "debug":
		return log.LevelDebug, nil
	case "info":
		return log.LevelInfo, nil
	case "warn":
		return log.LevelWarn, nil
	case "error":
		return log.LevelError, nil
	case "crit":
		return log.LevelCrit, nil
	default:
		legacyLevel, err := strconv.Atoi(str)
		if err != nil {
			return log.LevelTrace, errors.New("invalid log-level")
		}
		return log.FromLegacyLevel(legacyLevel), nil
	}
}

var globalFileLoggerFactory = fileLoggerFactory{}

type fileLoggerFactory struct {
	// writerMutex is to avoid parallel writes to the file-logger
	writerMutex sync.Mutex
	writer      *lumberjack.Logger

	cancel context.CancelFunc

	// writeStartPing and writeDonePing are used to simulate sending of data via a buffered channel
	// when Write is called and receiving it on another go-routine to write it to the io.Writer.
	writeStartPing chan struct{}
	writeDonePing  chan struct{}
}

// Write is essentially a wrapper for filewriter or lumberjack.Logger's Write method to implement
// config.BufSize functionality, data is dropped when l.writeStartPing channel (of size config.BuffSize) is full
func (l *fileLoggerFactory) Write(p []byte) (n int, err error) {
	select {
	case l.writeStartPing <- struct{}{}:
		// Write data to the filelogger
		l.writerMutex.Lock()
		_, _ = l.writer.Write(p)
		l.writerMutex.Unlock()
		l.writeDonePing <- struct{}{}
	default:
	}
	return len(p), nil
}

// newFileWriter is not threadsafe
func (l *fileLoggerFactory) newFileWriter(config *FileLoggingConfig) io.Writer {
	l.close()
	l.writer = &lumberjack.Logger{
		Filename:   config.File,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		LocalTime:  config.LocalTime,
		Compress:   config.Compress,
	}
	l.writeStartPing = make(chan struct{}, config.BufSize)
	l.writeDonePing = make(chan struct{}, config.BufSize)
	// capture copy
	writeStartPing := l.writeStartPing
	writeDonePing := l.writeDonePing
	var consumerCtx context.Context
	consumerCtx, l.cancel = context.WithCancel(context.Background())
	go func() {
		// writeStartPing channel signals Write operations to correctly implement config.BufSize functionality
		for {
			select {
			case <-writeStartPing:
				<-writeDonePing
			case <-consumerCtx.Done():
				return
			}
		}
	}()
	return l
}

// close is not threadsafe
func (l *fileLoggerFactory) close() error {
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	if l.writer != nil {
		if err := l.writer.Close(); err != nil {
			return err
		}
		l.writer = nil
	}
	return nil
}

// InitLog is not threadsafe
func InitLog(logType string, logLevel string, fileLoggingConfig *FileLoggingConfig) error {
	// always close previous instance of file logger
	if err := globalFileLoggerFactory.close(); err != nil {
		return fmt.Errorf("failed to close file writer: %w", err)
	}
	var output io.Writer
	if fileLoggingConfig.Enable {
		output = io.MultiWriter(
			io.Writer(os.Stderr),
			// on overflow writeStartPing are dropped silently
			globalFileLoggerFactory.newFileWriter(fileLoggingConfig),
		)
	} else {
		output = io.Writer(os.Stderr)
	}
	handler, err := HandlerFromLogType(logType, output)
	if err != nil {
		return fmt.Errorf("error parsing log type when creating handler: %w", err)
	}
	slogLevel, err := ToSlogLevel(logLevel)
	if err != nil {
		return fmt.Errorf("error parsing log level: %w", err)
	}

	glogger := log.NewGlogHandler(handler)
	glogger.Verbosity(slogLevel)
	log.SetDefault(log.NewLogger(glogger))
	return nil
}
