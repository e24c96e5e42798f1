package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"roomquest.ai/internal/hub"
	"roomquest.ai/internal/persistence/roomstore"
	"roomquest.ai/internal/transport/ws"
)

type app struct {
	cluster    *hub.Cluster
	store      roomstore.Store
	gateway    *ws.Server
	adminToken string
	log        *log.Logger
}

func (a *app) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/metrics", a.metrics)
	mux.HandleFunc("/admin/v1/state", a.admin(a.state))
	mux.HandleFunc("/admin/v1/rooms", a.admin(a.rooms))
	mux.HandleFunc("/admin/v1/notify", a.admin(a.notify))
	mux.HandleFunc("/admin/v1/chain_progress", a.admin(a.chainProgress))
	mux.HandleFunc("/v1/ws", a.gateway.Handler())
	return mux
}

func (a *app) metrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	s := a.cluster.Runtime().Stats()

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP roomquest_activations Activated entities per kind.\n")
	fmt.Fprintf(rw, "# TYPE roomquest_activations gauge\n")
	kinds := make([]string, 0, len(s.Activations))
	for k := range s.Activations {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(rw, "roomquest_activations{kind=%q} %d\n", k, s.Activations[k])
	}
	fmt.Fprintf(rw, "# HELP roomquest_queue_depth Pending calls across entity inboxes.\n")
	fmt.Fprintf(rw, "# TYPE roomquest_queue_depth gauge\n")
	fmt.Fprintf(rw, "roomquest_queue_depth %d\n", s.QueueDepth)
	fmt.Fprintf(rw, "# HELP roomquest_sessions Connected WebSocket sessions.\n")
	fmt.Fprintf(rw, "# TYPE roomquest_sessions gauge\n")
	fmt.Fprintf(rw, "roomquest_sessions %d\n", a.gateway.Sessions())
	fmt.Fprintf(rw, "# HELP roomquest_calls_total Entity calls dispatched.\n")
	fmt.Fprintf(rw, "# TYPE roomquest_calls_total counter\n")
	fmt.Fprintf(rw, "roomquest_calls_total{path=%q} %d\n", "inbox", s.Calls-s.ReentrantCalls)
	fmt.Fprintf(rw, "roomquest_calls_total{path=%q} %d\n", "reentrant", s.ReentrantCalls)
	fmt.Fprintf(rw, "# HELP roomquest_failures_total Runtime failures by kind.\n")
	fmt.Fprintf(rw, "# TYPE roomquest_failures_total counter\n")
	fmt.Fprintf(rw, "roomquest_failures_total{kind=%q} %d\n", "activation", s.ActivationFailures)
	fmt.Fprintf(rw, "roomquest_failures_total{kind=%q} %d\n", "panic", s.Panics)
	fmt.Fprintf(rw, "roomquest_failures_total{kind=%q} %d\n", "fanout_branch", s.BranchFailures)
	fmt.Fprintf(rw, "roomquest_failures_total{kind=%q} %d\n", "stale_call", s.StaleCalls)
}

// admin guards a handler: a configured token is required as a bearer token,
// otherwise only loopback clients are let through.
func (a *app) admin(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if a.adminToken != "" {
			if r.Header.Get("Authorization") != "Bearer "+a.adminToken {
				http.Error(rw, "unauthorized", http.StatusUnauthorized)
				return
			}
		} else if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func (a *app) state(rw http.ResponseWriter, r *http.Request) {
	resp := struct {
		Rooms    []string `json:"rooms"`
		Players  []string `json:"players"`
		Chains   []string `json:"chains"`
		Sessions int64    `json:"sessions"`
		Stats    any      `json:"stats"`
	}{
		Rooms:    a.cluster.Rooms(),
		Players:  a.cluster.Players(),
		Chains:   a.cluster.Chains(),
		Sessions: a.gateway.Sessions(),
		Stats:    a.cluster.Runtime().Stats(),
	}
	writeJSON(rw, http.StatusOK, resp)
}

func (a *app) rooms(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	switch r.Method {
	case http.MethodGet:
		rooms, err := a.store.Rooms(ctx)
		if err != nil {
			writeJSON(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, rooms)
	case http.MethodPost:
		var room roomstore.Room
		if err := json.NewDecoder(r.Body).Decode(&room); err != nil || strings.TrimSpace(room.ID) == "" {
			writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "room id required"})
			return
		}
		if room.Name == "" {
			room.Name = room.ID
		}
		if room.CreatedAt.IsZero() {
			room.CreatedAt = time.Now().UTC()
		}
		if err := a.store.PutRoom(ctx, room); err != nil {
			writeJSON(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		a.log.Printf("admin: stored room %s", room.ID)
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "room": room})
	default:
		rw.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (a *app) notify(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		RoomID string `json:"room_id"`
		Text   string `json:"text"`
		// Persist sends a stored system message instead of a transient notice.
		Persist bool `json:"persist"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoomID == "" || req.Text == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "room_id and text required"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	room := a.cluster.Room(req.RoomID)
	var err error
	if req.Persist {
		err = room.SendMessage(ctx, req.Text)
	} else {
		err = room.SendNotification(ctx, req.Text)
	}
	if err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true})
}

func (a *app) chainProgress(rw http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("chain"))
	if id == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "chain required"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	ch := a.cluster.Chain(id)
	progress, err := ch.AllPlayersProgress(ctx)
	if err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	expired, err := ch.IsExpired(ctx)
	if err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"chain": id, "expired": expired, "players": progress})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
