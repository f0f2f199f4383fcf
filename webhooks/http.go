package webhooks

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/goliatone/go-notify/core"
)

// NewHTTPHandler serves POST deliveries for every registered endpoint path.
// Requests are limited per client IP when cfg.RequestsPerMinute is positive.
func NewHTTPHandler(receiver *Receiver, cfg core.ReceiverConfig) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	if cfg.RequestsPerMinute > 0 {
		router.Use(httprate.LimitByIP(cfg.RequestsPerMinute, time.Minute))
	}
	router.Post("/*", func(w http.ResponseWriter, r *http.Request) {
		serveDelivery(receiver, cfg.MaxBodyBytes, w, r)
	})
	return router
}

func serveDelivery(receiver *Receiver, maxBodyBytes int64, w http.ResponseWriter, r *http.Request) {
	reader := io.Reader(r.Body)
	if maxBodyBytes > 0 {
		reader = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeResponse(w, respond(http.StatusRequestEntityTooLarge, core.StateReceived, false, "", "payload too large"))
			return
		}
		writeResponse(w, respond(http.StatusBadRequest, core.StateReceived, false, "", "failed to read body"))
		return
	}

	response := receiver.Receive(r.Context(), core.InboundRequest{
		Path:     r.URL.Path,
		Method:   r.Method,
		Headers:  flattenHeaders(r.Header),
		Body:     body,
		SourceIP: clientIP(r.RemoteAddr),
	})
	writeResponse(w, response)
}

func writeResponse(w http.ResponseWriter, response core.WebhookResponse) {
	status := response.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

func flattenHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for key, values := range headers {
		if len(values) > 0 {
			out[key] = values[0]
		}
	}
	return out
}

func clientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
