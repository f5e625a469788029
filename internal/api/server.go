// Package api serves the operational HTTP surface: Prometheus metrics,
// queue statistics and the moderation hold list. It is read-only except
// for releasing or discarding held messages.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/busybox42/listflow/internal/queue"
)

// Server is the ops API over the switchboards.
type Server struct {
	listen string
	boards map[string]*queue.Switchboard
	hold   *queue.Switchboard
	// released holds go back to incoming for a fresh pipeline pass.
	incoming *queue.Switchboard

	httpServer *http.Server
	log        *slog.Logger
}

// NewServer builds the API over the given queues. boards must include
// every queue stats should report on.
func NewServer(listen string, boards map[string]*queue.Switchboard, hold, incoming *queue.Switchboard) *Server {
	return &Server{
		listen:   listen,
		boards:   boards,
		hold:     hold,
		incoming: incoming,
		log:      slog.Default().With("component", "api"),
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/api/stats", s.handleStats).Methods("GET")
	r.HandleFunc("/api/queue/{name}", s.handleQueue).Methods("GET")
	r.HandleFunc("/api/holds", s.handleHolds).Methods("GET")
	r.HandleFunc("/api/holds/{id}/release", s.handleReleaseHold).Methods("POST")
	r.HandleFunc("/api/holds/{id}/discard", s.handleDiscardHold).Methods("POST")
	return r
}

// Start serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listen,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening", "addr", s.listen)
		errCh <- s.httpServer.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type queueStats struct {
	Queue   string `json:"queue"`
	Pending int    `json:"pending"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := make([]queueStats, 0, len(s.boards))
	for name, sb := range s.boards {
		n, err := sb.Len()
		if err != nil {
			s.serverError(w, fmt.Errorf("failed to read %s queue: %w", name, err))
			return
		}
		stats = append(stats, queueStats{Queue: name, Pending: n})
	}
	writeJSON(w, http.StatusOK, stats)
}

type itemSummary struct {
	ID       string    `json:"id"`
	List     string    `json:"list"`
	Enqueued time.Time `json:"enqueued"`
	// Received is when the message first entered the system; unlike
	// Enqueued it survives moves between queues.
	Received string `json:"received,omitempty"`
	Attempts int    `json:"attempts"`
	Reason   string `json:"reason,omitempty"`
	Bytes    int    `json:"bytes"`
}

func summarize(items []*queue.Item) []itemSummary {
	out := make([]itemSummary, len(items))
	for i, item := range items {
		out[i] = itemSummary{
			ID:       item.ID,
			List:     item.Meta.GetString(queue.MetaListname),
			Enqueued: item.Enqueued,
			Received: item.Meta.GetString(queue.MetaReceived),
			Attempts: item.Attempts,
			Reason:   item.Meta.GetString(queue.MetaReason),
			Bytes:    len(item.Message),
		}
	}
	return out
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	sb, ok := s.boards[name]
	if !ok {
		http.Error(w, "unknown queue: "+name, http.StatusNotFound)
		return
	}
	items, err := sb.Pending()
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(items))
}

func (s *Server) handleHolds(w http.ResponseWriter, r *http.Request) {
	items, err := s.hold.Pending()
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(items))
}

// claimHold finds and claims one held item by ID. Non-matching items are
// claimed during the scan and requeued afterwards; the hold queue is small
// and moderation is rare.
func (s *Server) claimHold(id string) (*queue.Item, error) {
	var skipped []*queue.Item
	defer func() {
		for _, item := range skipped {
			if err := s.hold.Requeue(item); err != nil {
				s.log.Error("failed to requeue held item after scan", "item_id", item.ID, "error", err)
			}
		}
	}()
	for {
		item, err := s.hold.Dequeue()
		if err != nil {
			return nil, err
		}
		if item == nil {
			return nil, nil
		}
		if item.ID == id {
			return item, nil
		}
		skipped = append(skipped, item)
	}
}

func (s *Server) handleReleaseHold(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	item, err := s.claimHold(id)
	if err != nil {
		s.serverError(w, err)
		return
	}
	if item == nil {
		http.Error(w, "no held message with id "+id, http.StatusNotFound)
		return
	}
	// The approved flag makes the holding stages pass on the second run;
	// the full pipeline still executes, so recipient calculation and
	// fan-out happen for the released post.
	item.Meta[queue.MetaApproved] = true
	delete(item.Meta, queue.MetaReason)
	if err := s.hold.MoveTo(s.incoming, item); err != nil {
		s.serverError(w, err)
		return
	}
	s.log.Info("held message released", "item_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "released", "id": id})
}

func (s *Server) handleDiscardHold(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	item, err := s.claimHold(id)
	if err != nil {
		s.serverError(w, err)
		return
	}
	if item == nil {
		http.Error(w, "no held message with id "+id, http.StatusNotFound)
		return
	}
	if err := s.hold.Finish(item); err != nil {
		s.serverError(w, err)
		return
	}
	s.log.Info("held message discarded", "item_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "discarded", "id": id})
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.log.Error("api request failed", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
