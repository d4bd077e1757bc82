// Package logging provides meshline's async file logger: a zap core backed
// by a lock queue, decoupling request goroutines from file I/O. The file is
// opened in append mode, written, and closed on every single record, and
// named "YYYY-M-D-log.txt" — one file per day, rotation by name alone.
package logging

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// queueWriteSyncer implements zapcore.WriteSyncer on top of a lockQueue of
// already-formatted log lines. zap calls Write() from the caller's
// goroutine; a single background goroutine drains the queue and performs
// the actual file I/O, so logging never blocks the RPC hot path on disk.
type queueWriteSyncer struct {
	dir   string
	queue *lockQueue[[]byte]
}

// NewAsyncCore builds a zapcore.Core that writes INFO and ERROR records
// (the only two levels meshline emits) to dir/YYYY-M-D-log.txt. The
// returned func stops the drain goroutine; callers should defer it.
func NewAsyncCore(dir string) (zapcore.Core, func() error) {
	ws := &queueWriteSyncer{
		dir:   dir,
		queue: newLockQueue[[]byte](),
	}
	go ws.run()

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:    "", // the file name carries the date; records stay timestamp-free
		LevelKey:   "level",
		NameKey:    "logger",
		MessageKey: "msg",
		EncodeTime: zapcore.ISO8601TimeEncoder,
	}
	encoder := zapcore.NewConsoleEncoder(encoderCfg)

	levelEnabler := zapcore.LevelEnabler(zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l == zapcore.InfoLevel || l == zapcore.ErrorLevel
	}))

	core := zapcore.NewCore(encoder, ws, levelEnabler)
	return core, ws.Close
}

func (w *queueWriteSyncer) Write(p []byte) (int, error) {
	line := make([]byte, len(p))
	copy(line, p)
	w.queue.Push(line)
	return len(p), nil
}

func (w *queueWriteSyncer) Sync() error { return nil }

func (w *queueWriteSyncer) Close() error {
	w.queue.Close()
	return nil
}

// run is the single consumer goroutine: pop one formatted line, open
// today's file in append mode, write, close. A failure to open the file is
// fatal — a process that can't log is worse than one that restarts. Pop
// returns false once Close has run, ending the loop instead of leaving the
// goroutine parked forever.
func (w *queueWriteSyncer) run() {
	for {
		line, ok := w.queue.Pop()
		if !ok {
			return
		}

		now := time.Now()
		fileName := fmt.Sprintf("%s/%d-%d-%d-log.txt", w.dir, now.Year(), int(now.Month()), now.Day())
		f, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logger file %s open error: %v\n", fileName, err)
			os.Exit(1)
		}
		f.Write(line)
		f.Close()
	}
}
