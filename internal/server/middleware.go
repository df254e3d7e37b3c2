package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	platformerrors "github.com/jmgilman/go/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RequestIDHeader carries the request correlation ID
const RequestIDHeader = "X-Request-ID"

type contextKey string

const contextKeyRequestID contextKey = "whydah_request_id"

// RequestID extracts the request ID from a request context
func RequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKeyRequestID).(string)
	return id, ok
}

// requestID reuses an incoming X-Request-ID or assigns a new one
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), contextKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// instrument wraps each request in a span, records request metrics and
// writes one access log line.
func (s *Server) instrument(next http.Handler) http.Handler {
	tracer := s.telemetry.Tracer()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "http.request",
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
			),
		)
		defer span.End()

		start := time.Now()

		// Create response writer wrapper to capture status code
		wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		req := r.WithContext(ctx)
		next.ServeHTTP(wrapper, req)

		duration := time.Since(start)

		// set by the mux on the request it routed
		route := req.Pattern
		if route == "" || route == "/" {
			route = "unmatched"
		} else {
			span.SetName(route)
		}

		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", wrapper.statusCode),
			attribute.Int64("http.duration_ms", duration.Milliseconds()),
		)
		s.telemetry.RecordRequest(ctx, r.Method, route, wrapper.statusCode, duration)

		requestID, _ := RequestID(ctx)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"status", wrapper.statusCode,
			"duration_ms", duration.Milliseconds(),
			"request_id", requestID,
		)
	})
}

// recoverer turns a handler panic into a JSON 500
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			requestID, _ := RequestID(r.Context())
			s.logger.Error("panic while serving request",
				"panic", fmt.Sprint(rec), "path", r.URL.Path, "request_id", requestID)

			err := platformerrors.New(platformerrors.CodeInternal, "internal server error")
			if wrapper, ok := w.(*responseWriter); !ok || !wrapper.wroteHeader {
				writeError(w, r, http.StatusInternalServerError, err)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(statusCode int) {
	if w.wroteHeader {
		return
	}
	w.statusCode = statusCode
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
