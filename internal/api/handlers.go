package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dmitrijs2005/offlinegate/internal/common"
	"github.com/dmitrijs2005/offlinegate/internal/queue"
	"github.com/dmitrijs2005/offlinegate/internal/store"
	"github.com/dmitrijs2005/offlinegate/internal/worker"
	"github.com/go-chi/chi/v5"
)

const maxMessageSize = 1 << 20

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Worker        worker.Status `json:"worker"`
	Mode          string        `json:"mode"`
	Pending       int           `json:"pending"`
	StoreDegraded bool          `json:"storeDegraded"`
}

// MessageResponse is returned by POST /messages.
type MessageResponse struct {
	OK     bool `json:"ok"`
	Result any  `json:"result,omitempty"`
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Worker: h.coord.Status(), Mode: "unknown"}
	if h.syncer != nil {
		resp.Mode = string(h.syncer.Mode())
	}
	actions, err := h.queue.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp.Pending = len(actions)
	if d, ok := h.store.(interface{ Degraded() bool }); ok {
		resp.StoreDegraded = d.Degraded()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) postMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_MESSAGE", "could not read body")
		return
	}
	msg, err := worker.DecodeMessage(body)
	if err != nil {
		if errors.Is(err, common.ErrUnknownMessage) {
			writeError(w, http.StatusBadRequest, "UNKNOWN_MESSAGE", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_MESSAGE", err.Error())
		return
	}

	result, err := h.coord.Handle(r.Context(), msg)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{OK: true, Result: result})
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	if h.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "SYNC_DISABLED", "sync trigger is not running")
		return
	}
	res, err := h.syncer.Request(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) listActions(w http.ResponseWriter, r *http.Request) {
	actions, err := h.queue.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if actions == nil {
		actions = []queue.Action{}
	}
	writeJSON(w, http.StatusOK, actions)
}

func (h *Handler) removeAction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "id must be a positive integer")
		return
	}
	if err := h.queue.Remove(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clearActions(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Clear(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listCollection(w http.ResponseWriter, r *http.Request) {
	c, err := store.ParseCollection(chi.URLParam(r, "collection"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rows, err := h.store.GetAll(r.Context(), c)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	c, err := store.ParseCollection(chi.URLParam(r, "collection"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	// User-data keys are paths and arrive escaped.
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_KEY", err.Error())
		return
	}
	raw, err := h.store.Get(r.Context(), c, key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if raw == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no record "+key+" in "+string(c))
		return
	}
	writeRaw(w, http.StatusOK, raw)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(r.Context(), "control request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, code, err.Error())
}
