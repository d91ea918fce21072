package server

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// FiberResponseWriter presents a Fiber context as an http.ResponseWriter so
// net/http handlers (the Prometheus exporter in particular) can write through
// it without a second listener.
type FiberResponseWriter struct {
	ctx         *fiber.Ctx
	status      int
	header      http.Header
	headersSent bool
}

// NewFiberResponseWriter wraps the given Fiber context.
func NewFiberResponseWriter(ctx *fiber.Ctx) *FiberResponseWriter {
	return &FiberResponseWriter{
		ctx:    ctx,
		status: http.StatusOK,
		header: make(http.Header),
	}
}

// Header returns the header map that is copied to the Fiber response on the
// first Write.
func (w *FiberResponseWriter) Header() http.Header {
	return w.header
}

// WriteHeader records the status code. The actual response line is emitted
// by Fiber when the body is written.
func (w *FiberResponseWriter) WriteHeader(statusCode int) {
	w.status = statusCode
}

// Write flushes the buffered headers and status once, then streams the body
// into the Fiber response.
func (w *FiberResponseWriter) Write(data []byte) (int, error) {
	if !w.headersSent {
		for key, values := range w.header {
			for _, value := range values {
				w.ctx.Set(key, value)
			}
		}
		if w.status != http.StatusOK {
			w.ctx.Status(w.status)
		}
		w.headersSent = true
	}
	return w.ctx.Write(data)
}
