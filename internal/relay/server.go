package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,

	// Development relay: browsers on any origin may connect.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// BroadcastRequest is the body of POST /api/v1/internal/broadcast, used by
// backend workers to push assessment status to a patient's sockets.
type BroadcastRequest struct {
	PatientID          string         `json:"patient_id"`
	Status             string         `json:"status"`
	Message            string         `json:"message,omitempty"`
	PendingInteraction map[string]any `json:"pending_interaction,omitempty"`
	Result             map[string]any `json:"result,omitempty"`
}

type statusPush struct {
	Status             string         `json:"status"`
	Message            string         `json:"message,omitempty"`
	PendingInteraction map[string]any `json:"pending_interaction,omitempty"`
	Result             map[string]any `json:"result,omitempty"`
}

// NewHandler returns the relay's routes.
func NewHandler(hub *Hub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", healthCheckHandler)
	r.Get("/metrics", hub.metrics.handler().ServeHTTP)
	r.Get("/ws/{patient_id}", ServeWs(hub))
	r.Post("/api/v1/internal/broadcast", broadcastHandler(hub))
	return r
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Relay is healthy."))
}

// ServeWs upgrades the request and joins the socket to the patient's room.
// The token query parameter is accepted as-is.
func ServeWs(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID := chi.URLParam(r, "patient_id")
		if patientID == "" {
			http.Error(w, "missing patient id", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "error", err)
			return
		}

		client := &Client{
			hub:       hub,
			conn:      conn,
			patientID: patientID,
			send:      make(chan []byte, sendBuffer),
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		slog.Debug("relay socket opened", "patient_id", patientID, "token", r.URL.Query().Has("token"))

		go client.WritePump()
		go client.ReadPump()
	}
}

func broadcastHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BroadcastRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageSize)).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if req.PatientID == "" || req.Status == "" {
			http.Error(w, "patient_id and status are required", http.StatusBadRequest)
			return
		}

		data, err := json.Marshal(statusPush{
			Status:             req.Status,
			Message:            req.Message,
			PendingInteraction: req.PendingInteraction,
			Result:             req.Result,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		slog.Info("internal broadcast", "patient_id", req.PatientID, "status", req.Status)
		hub.Publish(req.PatientID, data)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "broadcasted"})
	}
}

// ListenAndServe runs the relay on addr until ctx is done.
func ListenAndServe(ctx context.Context, addr string) error {
	hub := NewHub()
	go hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("relay listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
