// Package ptyio exposes live IMU sample batches as CSV on a pseudo-terminal so
// that serial plotters and `cat /dev/pts/N` can follow a training session.
//
// The PTY master is written from a background goroutine fed by a ring buffer.
// Writes never block the caller: when a reader falls behind, bytes that do not
// fit in the ring are dropped and counted in Stats.
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/stingray/internal/groutine"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Options configures a Writer. Zero fields take their defaults.
type Options struct {
	WriteCap    int           `default:"65536"` // ring capacity in bytes
	PollTimeout time.Duration `default:"50ms"`  // upper bound on shutdown latency
}

// Stats are runtime counters for monitoring backpressure.
type Stats struct {
	QueueLen     int
	QueueCap     int
	DroppedBytes uint64
	WrittenBytes uint64
}

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// Writer is a non-blocking io.WriteCloser backed by a PTY master.
type Writer struct {
	logger      *logrus.Logger
	master      *os.File
	slave       *os.File
	ttyName     string
	pollTimeout time.Duration

	buf    *ringbuffer.RingBuffer
	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}

	closed  atomic.Bool
	dropped atomic.Uint64
	written atomic.Uint64
}

// NewWriter opens a PTY pair and starts the write loop. The slave is kept
// open for the lifetime of the writer so its path stays valid.
func NewWriter(opts *Options, logger *logrus.Logger) (*Writer, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	defaults.SetDefaults(&o)
	if logger == nil {
		logger = noopLogger
	}

	master, slave, err := open()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		logger:      logger,
		master:      master,
		slave:       slave,
		ttyName:     slave.Name(),
		pollTimeout: o.PollTimeout,
		buf:         ringbuffer.New(o.WriteCap),
		wake:        make(chan struct{}, 1),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	groutine.Go(ctx, "pty-write-loop", w.writeLoop)

	logger.WithField("tty", w.ttyName).Info("Sample tap opened")
	return w, nil
}

func open() (*os.File, *os.File, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	// Raw mode keeps the CSV byte-exact: no echo, no CRLF translation.
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return nil, nil, closeBoth(master, slave, fmt.Errorf("failed to set PTY %s to raw mode: %w", slave.Name(), err))
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		return nil, nil, closeBoth(master, slave, fmt.Errorf("failed to set PTY %s to nonblocking mode: %w", slave.Name(), err))
	}
	return master, slave, nil
}

func closeBoth(master, slave *os.File, cause error) error {
	return errors.Join(cause, master.Close(), slave.Close())
}

// TTYName returns the slave path, e.g. /dev/pts/5.
func (w *Writer) TTYName() string {
	return w.ttyName
}

// Write queues data for the slave. It returns the number of bytes queued,
// which is less than len(data) when the ring is full.
func (w *Writer) Write(data []byte) (int, error) {
	if w.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}

	n, err := w.buf.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return n, err
	}
	if n < len(data) {
		dropped := len(data) - n
		w.dropped.Add(uint64(dropped))
		w.logger.WithFields(logrus.Fields{
			"dropped": dropped,
			"queued":  n,
		}).Warn("Sample tap buffer overflow")
	}
	if n > 0 {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
	return n, nil
}

func (w *Writer) writeLoop(ctx context.Context) {
	defer close(w.done)

	fd := int32(w.master.Fd())
	pollFd := []unix.PollFd{{Fd: fd, Events: unix.POLLOUT}}
	timeout := int(w.pollTimeout / time.Millisecond)
	chunk := make([]byte, 4096)

	for {
		if w.buf.IsEmpty() {
			select {
			case <-ctx.Done():
				return
			case <-w.wake:
			case <-time.After(w.pollTimeout):
			}
			continue
		}

		n, err := w.buf.TryRead(chunk)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			w.logger.WithField("error", err).Warn("Sample tap ring read failed")
			continue
		}

		for off := 0; off < n; {
			if ctx.Err() != nil {
				return
			}
			m, err := w.master.Write(chunk[off:n])
			if m > 0 {
				off += m
				w.written.Add(uint64(m))
			}
			switch {
			case err == nil:
			case errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EAGAIN):
				if _, perr := unix.Poll(pollFd, timeout); perr != nil && !errors.Is(perr, syscall.EINTR) {
					w.logger.WithField("error", perr).Warn("Sample tap poll failed")
				}
			case errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EBADF):
				return
			default:
				w.logger.WithField("error", err).Warn("Sample tap write loop exiting")
				return
			}
		}
	}
}

// Stats returns instantaneous counters.
func (w *Writer) Stats() Stats {
	return Stats{
		QueueLen:     w.buf.Length(),
		QueueCap:     w.buf.Capacity(),
		DroppedBytes: w.dropped.Load(),
		WrittenBytes: w.written.Load(),
	}
}

// Close stops the write loop and closes both ends of the PTY.
func (w *Writer) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	w.cancel()
	<-w.done
	err := errors.Join(w.master.Close(), w.slave.Close())
	w.logger.WithField("tty", w.ttyName).Info("Sample tap closed")
	return err
}
