package admin

import (
	"encoding/json"
	"net/http"
	"strconv"
)

type friendRequest struct {
	UserID   uint64 `json:"user_id"`
	FriendID uint64 `json:"friend_id"`
}

type groupRequest struct {
	UserID  uint64 `json:"user_id"`
	GroupID uint64 `json:"group_id"`
}

func (s *Server) handlePutFriend(w http.ResponseWriter, r *http.Request) {
	if s.Rel == nil {
		writeError(w, http.StatusServiceUnavailable, "relationship store not configured")
		return
	}
	var req friendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.Rel.AddFriend(r.Context(), req.UserID, req.FriendID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteFriend(w http.ResponseWriter, r *http.Request) {
	if s.Rel == nil {
		writeError(w, http.StatusServiceUnavailable, "relationship store not configured")
		return
	}
	var req friendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.Rel.RemoveFriend(r.Context(), req.UserID, req.FriendID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePostGroup(w http.ResponseWriter, r *http.Request) {
	if s.Rel == nil {
		writeError(w, http.StatusServiceUnavailable, "relationship store not configured")
		return
	}
	var req groupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.Rel.JoinGroup(r.Context(), req.UserID, req.GroupID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if s.Rel == nil {
		writeError(w, http.StatusServiceUnavailable, "relationship store not configured")
		return
	}
	var req groupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.Rel.LeaveGroup(r.Context(), req.UserID, req.GroupID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWhichNode(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("user_id")
	userID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing or invalid user_id")
		return
	}
	nodeID, err := s.Registry.WhichNode(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint32{"node_id": nodeID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
