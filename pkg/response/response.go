package response

import (
	"encoding/json"
	"net/http"
)

type APIResponse struct {
	Success bool        `json:"success"`
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func JSON(w http.ResponseWriter, status int, data interface{}) {
	write(w, status, APIResponse{
		Success: true,
		Status:  "success",
		Data:    data,
	})
}

// Message is a success envelope carrying a human readable message.
func Message(w http.ResponseWriter, status int, msg string, data interface{}) {
	write(w, status, APIResponse{
		Success: true,
		Status:  "success",
		Message: msg,
		Data:    data,
	})
}

func Error(w http.ResponseWriter, status int, msg string) {
	write(w, status, APIResponse{
		Success: false,
		Status:  "error",
		Error:   msg,
	})
}

// Raw writes v without the envelope. Provider callbacks expect their own ack
// shape.
func Raw(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func write(w http.ResponseWriter, status int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
