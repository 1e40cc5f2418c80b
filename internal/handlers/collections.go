package handlers

import (
	"errors"

	"github.com/lunacd/vorg/internal/server"
	"github.com/lunacd/vorg/internal/storage"
)

// CollectionsHandler serves the collection listing.
type CollectionsHandler struct {
	store storage.CollectionStore
}

// NewCollectionsHandler creates a new CollectionsHandler.
func NewCollectionsHandler(store storage.CollectionStore) *CollectionsHandler {
	return &CollectionsHandler{store: store}
}

type itemPayload struct {
	Path string `json:"path"`
}

type collectionPayload struct {
	Title string        `json:"title"`
	Items []itemPayload `json:"items"`
}

type collectionsPayload struct {
	Collections []collectionPayload `json:"collections"`
}

// Handle lists every collection with its items' derived store paths.
func (h *CollectionsHandler) Handle(_ *server.Request) server.Response {
	collections, err := h.store.GetCollections()
	if err != nil {
		if errors.Is(err, storage.ErrStoreIO) {
			return server.ServerError{Message: "Failed to read collections from the store."}
		}
		return server.ServerError{Message: "Internal server error."}
	}

	payload := collectionsPayload{Collections: make([]collectionPayload, 0, len(collections))}
	for _, c := range collections {
		items := make([]itemPayload, 0, len(c.Items))
		for _, it := range c.Items {
			items = append(items, itemPayload{Path: it.StorePath()})
		}
		payload.Collections = append(payload.Collections, collectionPayload{
			Title: c.Title,
			Items: items,
		})
	}
	return server.Json{Payload: payload}
}
