package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const maxRequestBody = 1 << 20 // 1 MB

type createTaskRequest struct {
	Description string `json:"description"`
}

type messageRequest struct {
	Message string `json:"message"`
}

type fileEntry struct {
	Path  string `json:"path"`
	Size  int64  `json:"size"`
	IsDir bool   `json:"is_dir"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}

	task, err := s.manager.Launch(r.Context(), req.Description)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to launch task")
		writeError(w, http.StatusInternalServerError, "failed to launch task")
		return
	}

	s.logger.Info().Str("taskId", task.ID).Msg("Task created")
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	tasks, err := s.store.ListTasks(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if _, err := s.store.GetTask(r.Context(), taskID); err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	turns, err := s.store.ListTurns(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list turns")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"turns": turns})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if _, err := s.store.GetTask(r.Context(), taskID); err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	root := s.manager.WorkspacePath(taskID)
	entries := []fileEntry{}
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		entry := fileEntry{Path: filepath.ToSlash(rel), IsDir: d.IsDir()}
		if !d.IsDir() {
			if info, err := d.Info(); err == nil {
				entry.Size = info.Size()
			}
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"files": []fileEntry{}})
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to list files")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"files": entries})
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if _, err := s.store.GetTask(r.Context(), taskID); err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	root := s.manager.WorkspacePath(taskID)
	resolved := filepath.Join(root, filepath.FromSlash(r.PathValue("path")))
	resolved = filepath.Clean(resolved)
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		writeError(w, http.StatusBadRequest, "path traversal not allowed")
		return
	}

	info, err := os.Stat(resolved)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	http.ServeFile(w, r, resolved)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if err := s.manager.Cancel(taskID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Info().Str("taskId", taskID).Msg("Task cancellation requested")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) handleMessageTask(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	taskID := r.PathValue("id")
	if err := s.manager.Inject(taskID, req.Message); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleLLMStatus(w http.ResponseWriter, _ *http.Request) {
	if s.llmStatus == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"backends": map[string]interface{}{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"backends":  s.llmStatus.Status(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
