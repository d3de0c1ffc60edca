package handlers

import (
	"net/http"

	"streambridge/services/proxy"
)

// StreamProxyHandler fronts the stream proxy service.
type StreamProxyHandler struct {
	service *proxy.Service
}

// NewStreamProxyHandler creates a new StreamProxyHandler.
func NewStreamProxyHandler(service *proxy.Service) *StreamProxyHandler {
	return &StreamProxyHandler{service: service}
}

// Proxy handles GET/HEAD/OPTIONS /api/stream-proxy.
func (h *StreamProxyHandler) Proxy(w http.ResponseWriter, r *http.Request) {
	h.service.Proxy(w, r)
}
