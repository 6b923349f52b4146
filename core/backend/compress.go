package backend

import (
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

func (b *Backend) handleCompression(router *mux.Router) {
	router.Use(handlers.CompressHandler)
}
