package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"torrer/bridgepool"
	"torrer/bridgepool/model"
	"torrer/bridgepool/storage"
	"torrer/internal/core/fallback"
	"torrer/internal/shared/errs"
	"torrer/internal/shared/logger"
	"torrer/internal/tor/circuit"
)

const daemonQueryTimeout = 30 * time.Second

// Controller defines what the web handler needs from the application.
// This decouples the web package from the app package.
type Controller interface {
	FallbackSnapshot() fallback.Snapshot
	ListBridges() ([]model.Bridge, error)
	AddBridge(b model.Bridge) error
	RemoveBridge(address string, port int) error
	PrioritizedBridges() []bridgepool.Priority
	Circuits(ctx context.Context) ([]circuit.Info, error)
}

type Handler struct {
	controller Controller
}

func NewHandler(controller Controller) *Handler {
	return &Handler{controller: controller}
}

// HandleStatus 处理 GET /api/status 请求，返回回退引擎的当前状态。
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.controller.FallbackSnapshot())
}

// HandleBridges 处理 /api/bridges 的 GET（列表）、POST（添加）与 DELETE（删除）请求。
func (h *Handler) HandleBridges(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listBridges(w, r)
	case http.MethodPost:
		h.addBridge(w, r)
	case http.MethodDelete:
		h.removeBridge(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandlePriority 处理 GET /api/bridges/priority 请求。
func (h *Handler) HandlePriority(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.controller.PrioritizedBridges())
}

// HandleCircuits 处理 GET /api/circuits 请求，实时查询 Tor 守护进程。
func (h *Handler) HandleCircuits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), daemonQueryTimeout)
	defer cancel()

	circuits, err := h.controller.Circuits(ctx)
	if err != nil {
		l := logger.WithComponent("Web/Handler")
		l.Warn().Err(err).Msg("Failed to query circuits.")
		status := http.StatusBadGateway
		if errors.Is(err, errs.ErrTimeout) {
			status = http.StatusGatewayTimeout
		}
		http.Error(w, "Failed to query Tor: "+err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, circuits)
}

func (h *Handler) listBridges(w http.ResponseWriter, r *http.Request) {
	bridges, err := h.controller.ListBridges()
	if err != nil {
		http.Error(w, "Failed to list bridges: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, bridges)
}

type addBridgeRequest struct {
	Line string `json:"line"`
}

func (h *Handler) addBridge(w http.ResponseWriter, r *http.Request) {
	var req addBridgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	b, err := model.ParseBridge(req.Line)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.controller.AddBridge(b); err != nil {
		if errors.Is(err, storage.ErrBridgeExists) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, "Failed to add bridge: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *Handler) removeBridge(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	port, err := strconv.Atoi(r.URL.Query().Get("port"))
	if address == "" || err != nil {
		http.Error(w, "Missing or invalid address/port", http.StatusBadRequest)
		return
	}

	if err := h.controller.RemoveBridge(address, port); err != nil {
		if errors.Is(err, storage.ErrBridgeNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to remove bridge: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
