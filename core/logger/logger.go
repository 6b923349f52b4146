/*
Package logger provides request scoped logrus loggers

Every request gets a logger entry carrying a request ID. Once a user is
authenticated, the entry also carries the user's identity. Handlers
retrieve the entry with FromContext.
*/
package logger

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Format selects the log output format
type Format string

// supported log formats
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// RequestIDHeader is the response header which echoes the request ID
const RequestIDHeader = "X-Request-Id"

type contextLoggerValues struct {
	RequestID string `json:"requestID"`
	Identity  string `json:"identity,omitempty"`
}

type contextKeyRequestLoggerType struct{}

var contextKeyRequestLogger = &contextKeyRequestLoggerType{}

const (
	requestIDLoggerKey string = "requestID"
	identityLoggerKey  string = "identity"
)

// InitLogger sets level and format for all log statements. Text output uses
// full timestamps, JSON output is meant for log collectors.
func InitLogger(logLevel logrus.Level, format Format) {
	if format == FormatJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		customFormatter := new(logrus.TextFormatter)
		customFormatter.TimestampFormat = "2006-01-02 15:04:05"
		customFormatter.FullTimestamp = true
		logrus.SetFormatter(customFormatter)
	}
	logrus.SetLevel(logLevel)
}

// AddRequestID adds a logger with a new request ID to every request, unless
// the context has a logger already. The request ID is returned in the
// X-Request-Id header.
func AddRequestID(router *mux.Router) {
	router.Use(RequestIDMiddleware)
}

// RequestIDMiddleware is the middleware installed by AddRequestID
func RequestIDMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, _ := ContextWithLogger(r.Context())
		if id := RequestIDFromContext(ctx); id != "" {
			w.Header().Set(RequestIDHeader, id)
		}
		h.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Default returns a logger without a request ID.
func Default() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}

// ContextWithLogger returns a new context with a logger if the given context has no logger yet. If
// the context already has a logger the given context will be returned.
func ContextWithLogger(ctx context.Context) (context.Context, *logrus.Entry) {
	if ctx == nil {
		ctx = context.Background()
	} else if rlog := loggerFromContext(ctx); rlog != nil {
		return ctx, rlog
	}
	rlog := logrus.WithField(requestIDLoggerKey, uuid.NewString())
	return context.WithValue(ctx, contextKeyRequestLogger, rlog), rlog
}

// ContextWithLoggerFromData returns a context with a logger restored from data
// created by SerializeLoggerContext. If data is invalid, a fresh logger is
// used. A context which already has a logger is returned unchanged.
func ContextWithLoggerFromData(ctx context.Context, data []byte) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if loggerFromContext(ctx) != nil {
		return ctx
	}

	var values contextLoggerValues
	if err := json.Unmarshal(data, &values); err != nil || values.RequestID == "" {
		ctx, _ = ContextWithLogger(ctx)
		return ctx
	}

	rlog := logrus.WithField(requestIDLoggerKey, values.RequestID)
	if values.Identity != "" {
		rlog = rlog.WithField(identityLoggerKey, values.Identity)
	}
	return context.WithValue(ctx, contextKeyRequestLogger, rlog)
}

func loggerFromContext(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return nil
	}
	rlog, _ := ctx.Value(contextKeyRequestLogger).(*logrus.Entry)
	return rlog
}

// FromContext returns the logger from the context. If the context does not have a logger
// the default logger is returned.
func FromContext(ctx context.Context) *logrus.Entry {
	if rlog := loggerFromContext(ctx); rlog != nil {
		return rlog
	}
	return Default()
}

// ContextWithLoggerIdentity returns a new context with a logger and identity.
func ContextWithLoggerIdentity(ctx context.Context, identity string) (context.Context, *logrus.Entry) {
	ctx, rlog := ContextWithLogger(ctx)
	rlog = rlog.WithField(identityLoggerKey, identity)
	return context.WithValue(ctx, contextKeyRequestLogger, rlog), rlog
}

// SerializeLoggerContext returns a json representation of the request ID and
// identity of the context's logger, or "{}" if there is none.
func SerializeLoggerContext(ctx context.Context) []byte {
	values := loggerValues(ctx)
	if values.RequestID == "" {
		return []byte("{}")
	}
	res, err := json.Marshal(values)
	if err != nil {
		return []byte("{}")
	}
	return res
}

// RequestIDFromContext returns the request id for the given context.
func RequestIDFromContext(ctx context.Context) string {
	return loggerValues(ctx).RequestID
}

func loggerValues(ctx context.Context) contextLoggerValues {
	var values contextLoggerValues
	rlog := loggerFromContext(ctx)
	if rlog == nil {
		return values
	}
	if s, ok := rlog.Data[requestIDLoggerKey].(string); ok {
		values.RequestID = s
	}
	if s, ok := rlog.Data[identityLoggerKey].(string); ok {
		values.Identity = s
	}
	return values
}
