package httpapi

import (
	"errors"
	"net/http"

	"daq/internal/daqerr"
)

type appErrorInfo struct {
	statusCode int
	publicMsg  string
}

// appErrorTable maps the shared sentinel errors (internal/daqerr) to HTTP
// status metadata, looked up by resolveAppError.
var appErrorTable = map[error]appErrorInfo{
	daqerr.ErrConfig:         {http.StatusBadRequest, "invalid run configuration"},
	daqerr.ErrDeviceInit:     {http.StatusBadGateway, "device initialization failed"},
	daqerr.ErrDeviceOverflow: {http.StatusConflict, "device buffer overflow"},
	daqerr.ErrTransientRead:  {http.StatusBadGateway, "transient device read error"},
	daqerr.ErrQueueFull:      {http.StatusServiceUnavailable, "downstream queue full"},
	daqerr.ErrFileIO:         {http.StatusInternalServerError, "file i/o error"},
	daqerr.ErrUpload:         {http.StatusBadGateway, "sql upload failed"},
	daqerr.ErrPathEscape:     {http.StatusBadRequest, "path escapes output root"},
	daqerr.ErrAlreadyRunning: {http.StatusConflict, "a run is already in progress"},
	daqerr.ErrNotRunning:     {http.StatusConflict, "no run in progress"},
}

// resolveAppError converts a (possibly wrapped) error into an HTTP status
// code and a public-facing message, falling back to a generic 500.
func resolveAppError(err error) (int, string) {
	for sentinel, info := range appErrorTable {
		if errors.Is(err, sentinel) {
			return info.statusCode, info.publicMsg
		}
	}
	return http.StatusInternalServerError, "unexpected error"
}

func writeError(w http.ResponseWriter, err error) {
	status, msg := resolveAppError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
