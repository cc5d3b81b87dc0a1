package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	resultOK    = "ok"
	resultError = "error"
)

// Response is the JSON envelope of every REST reply. ServerTime lets a
// client compare snapshot timestamps against the server clock.
type Response struct {
	Result        string `json:"result"`
	Data          any    `json:"data,omitempty"`
	Code          string `json:"code,omitempty"`
	Message       string `json:"message,omitempty"`
	Details       any    `json:"details,omitempty"`
	ServerTime    int64  `json:"serverTime"`
	CorrelationID string `json:"correlationId"`
}

func newResponse(result string) *Response {
	return &Response{
		Result:        result,
		ServerTime:    time.Now().UnixMilli(),
		CorrelationID: uuid.NewString(),
	}
}

// WriteSuccess writes data with status 200.
func WriteSuccess(w http.ResponseWriter, data any) {
	resp := newResponse(resultOK)
	resp.Data = data
	writeResponse(w, http.StatusOK, resp)
}

// WriteError writes an error envelope with the given status.
func WriteError(w http.ResponseWriter, statusCode int, code, message string, details any) {
	resp := newResponse(resultError)
	resp.Code = code
	resp.Message = message
	resp.Details = details
	writeResponse(w, statusCode, resp)
}

func writeResponse(w http.ResponseWriter, statusCode int, resp *Response) {
	body, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "encode response: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	// Snapshots are live data.
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	_, _ = w.Write(append(body, '\n'))
}
