package backend

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/handlers"

	"github.com/relabs-tech/popstats/core/logger"
)

// accessLog logs one line per request at info level
func accessLog(h http.Handler) http.Handler {
	return handlers.CustomLoggingHandler(io.Discard, h, func(_ io.Writer, params handlers.LogFormatterParams) {
		logger.Default().WithField("status", params.StatusCode).
			WithField("size", params.Size).
			Infoln(fmt.Sprintf("%s %s %s", params.Request.Method, params.URL.RequestURI(), params.Request.RemoteAddr))
	})
}
