package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"daq/internal/config"
	"daq/internal/daqerr"
	"daq/internal/session"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GET /data — drains the visualization buffer and returns it alongside
// status fields.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	status := s.ctrl.Status()
	viz := s.ctrl.Viz()

	var data []float64
	if viz != nil {
		data = viz.Drain()
	}

	resp := map[string]interface{}{
		"success":       true,
		"data":          data,
		"counter":       status.Counter,
		"sample_rate":   s.cfg.Device.SampleRate,
		"is_collecting": status.IsCollecting,
	}
	if status.IsCollecting {
		resp["start_time"] = status.StartTime
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /status — {is_collecting, counter}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.ctrl.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"is_collecting": status.IsCollecting,
		"counter":       status.Counter,
	})
}

type startBody struct {
	Label      string `json:"label"`
	CSVEnabled bool   `json:"csv_enabled"`
	SQLEnabled bool   `json:"sql_enabled"`
	SQLHost    string `json:"sql_host,omitempty"`
	SQLPort    int    `json:"sql_port,omitempty"`
	SQLUser    string `json:"sql_user,omitempty"`
	SQLPass    string `json:"sql_password,omitempty"`
	SQLDB      string `json:"sql_database,omitempty"`
}

// POST /start.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{"success": false, "message": "method not allowed"})
		return
	}
	var body startBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": "invalid json body"})
		return
	}

	req := session.StartRequest{
		Label:      body.Label,
		CSVEnabled: body.CSVEnabled,
		SQLEnabled: body.SQLEnabled,
	}
	if body.SQLHost != "" {
		req.SQLConfig = &config.SQLConfig{
			Enabled:       true,
			Host:          body.SQLHost,
			Port:          body.SQLPort,
			User:          body.SQLUser,
			Password:      body.SQLPass,
			Database:      body.SQLDB,
			UploadSeconds: s.cfg.SQL.UploadSeconds,
		}
	}

	if err := s.ctrl.Start(r.Context(), req); err != nil {
		status, msg := resolveAppError(err)
		writeJSON(w, status, map[string]interface{}{"success": false, "message": msg})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// POST /stop — initiates finalize and returns immediately.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{"success": false, "message": "method not allowed"})
		return
	}
	if err := s.ctrl.Stop(r.Context()); err != nil {
		status, msg := resolveAppError(err)
		writeJSON(w, status, map[string]interface{}{"success": false, "message": msg})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

var configFiles = map[string]string{
	"device": "PET-7H24M.ini",
	"csv":    "csv.ini",
	"sql":    "sql.ini",
}

// GET|POST /config — read/write the three INI files. GET renders their raw
// contents as a small preformatted HTML page; POST overwrites one file and
// reloads the in-memory Store.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	which := r.URL.Query().Get("which")
	if which == "" {
		which = "device"
	}
	filename, ok := configFiles[which]
	if !ok {
		writeError(w, fmt.Errorf("%w: unknown config file %q", daqerr.ErrConfig, which))
		return
	}
	path := filepath.Join(s.cfgDir, filename)

	switch r.Method {
	case http.MethodGet:
		contents, err := os.ReadFile(path)
		if err != nil {
			writeError(w, fmt.Errorf("%w: %v", daqerr.ErrFileIO, err))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<html><body><pre>%s</pre></body></html>", htmlEscape(string(contents)))

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, fmt.Errorf("%w: %v", daqerr.ErrFileIO, err))
			return
		}
		if err := os.WriteFile(path, body, 0o644); err != nil {
			writeError(w, fmt.Errorf("%w: %v", daqerr.ErrFileIO, err))
			return
		}
		reloaded, err := config.Load(s.cfgDir)
		if err != nil {
			writeError(w, fmt.Errorf("%w: %v", daqerr.ErrConfig, err))
			return
		}
		*s.cfg = *reloaded
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{"success": false})
	}
}

func htmlEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// safeJoin sandboxes a user-supplied relative path under root, rejecting
// anything that, after normalization, escapes it.
func safeJoin(root, userPath string) (string, error) {
	joined := filepath.Join(root, userPath)
	rel, err := filepath.Rel(root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", daqerr.ErrPathEscape
	}
	return joined, nil
}

// GET /files?path=… — lists a sandboxed directory.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	reqPath := r.URL.Query().Get("path")
	full, err := safeJoin(s.outputRoot, reqPath)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", daqerr.ErrFileIO, err))
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "files": names})
}

// GET /download?path=… — serves a sandboxed file's raw bytes.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	reqPath := r.URL.Query().Get("path")
	full, err := safeJoin(s.outputRoot, reqPath)
	if err != nil {
		writeError(w, err)
		return
	}
	f, err := os.Open(full)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", daqerr.ErrFileIO, err))
		return
	}
	defer f.Close()
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filepath.Base(full)+"\"")
	io.Copy(w, f)
}

// GET /healthz — liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
