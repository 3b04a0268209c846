package logger

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

const (
	defaultBatchSize = 64 * 1024
	queueDepth       = 256
)

var errWriterClosed = errors.New("logger: writer closed")

// asyncWriter fans log lines out to its sinks from a single goroutine.
// Queued lines are batched up to batchSize bytes per sink write.
type asyncWriter struct {
	sinks     []io.Writer
	batchSize int

	lines   chan []byte
	flushes chan chan error
	stopped chan struct{}

	// sendMu lets Close wait out in-flight sends before closing lines.
	sendMu sync.RWMutex
	closed bool

	mu  sync.Mutex
	err error
}

func newAsyncWriter(writers []io.Writer, batchSize int) *asyncWriter {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	w := &asyncWriter{
		batchSize: batchSize,
		lines:     make(chan []byte, queueDepth),
		flushes:   make(chan chan error),
		stopped:   make(chan struct{}),
	}
	for _, sink := range writers {
		if sink != nil {
			w.sinks = append(w.sinks, sink)
		}
	}
	go w.run()
	return w
}

func (w *asyncWriter) run() {
	defer close(w.stopped)
	var batch bytes.Buffer
	for {
		select {
		case line, ok := <-w.lines:
			if !ok {
				w.emit(&batch)
				return
			}
			batch.Write(line)
			w.drain(&batch)
		case ack := <-w.flushes:
			w.drain(&batch)
			ack <- w.lastErr()
		}
	}
}

// drain moves every queued line into batch, emitting whenever it fills up.
func (w *asyncWriter) drain(batch *bytes.Buffer) {
	for {
		if batch.Len() >= w.batchSize {
			w.emit(batch)
		}
		select {
		case line, ok := <-w.lines:
			if !ok {
				w.emit(batch)
				return
			}
			batch.Write(line)
		default:
			w.emit(batch)
			return
		}
	}
}

func (w *asyncWriter) emit(batch *bytes.Buffer) {
	if batch.Len() == 0 {
		return
	}
	data := batch.Bytes()
	var errs []error
	for _, sink := range w.sinks {
		if _, err := sink.Write(data); err != nil {
			errs = append(errs, err)
		}
	}
	batch.Reset()
	w.keepErr(errors.Join(errs...))
}

// Write queues a copy of p. It blocks while the queue is full.
func (w *asyncWriter) Write(p []byte) error {
	if err := w.lastErr(); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	w.sendMu.RLock()
	defer w.sendMu.RUnlock()
	if w.closed {
		return errWriterClosed
	}
	w.lines <- append([]byte(nil), p...)
	return nil
}

// Flush returns once every line queued before the call reached the sinks.
func (w *asyncWriter) Flush() error {
	ack := make(chan error, 1)
	select {
	case w.flushes <- ack:
		return <-ack
	case <-w.stopped:
		return w.lastErr()
	}
}

// Close writes out the queue, stops the goroutine and reports the first sink error.
func (w *asyncWriter) Close() error {
	w.sendMu.Lock()
	if !w.closed {
		w.closed = true
		close(w.lines)
	}
	w.sendMu.Unlock()
	<-w.stopped
	return w.lastErr()
}

func (w *asyncWriter) lastErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *asyncWriter) keepErr(err error) {
	if err == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
}
