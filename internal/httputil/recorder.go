package httputil

import (
	"bufio"
	"errors"
	"net"
	"net/http"
)

// StatusRecorder captures the status code written through it. It forwards
// Hijack and Flush so websocket upgrades and streaming keep working behind
// middleware.
type StatusRecorder struct {
	http.ResponseWriter
	Status  int
	written bool
}

// NewStatusRecorder wraps w. Status defaults to 200.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	if rec, ok := w.(*StatusRecorder); ok {
		return rec
	}
	return &StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
}

func (r *StatusRecorder) WriteHeader(code int) {
	if r.written {
		return
	}
	r.Status = code
	r.written = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *StatusRecorder) Write(b []byte) (int, error) {
	if !r.written {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

// Written reports whether a status line has been sent.
func (r *StatusRecorder) Written() bool {
	return r.written
}

func (r *StatusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker. A hijacked connection is reported as 101.
func (r *StatusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("httputil: underlying writer does not support hijacking")
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		r.Status = http.StatusSwitchingProtocols
		r.written = true
	}
	return conn, rw, err
}

func (r *StatusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
