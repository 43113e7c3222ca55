// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"encoding/json"
	"io"
	"net/http"
)

// MaxBodyBytes caps request bodies read by DecodeJSON.
const MaxBodyBytes = 1 << 20

// ProblemDetail represents RFC7807 problem details.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, "application/json", status, data)
}

// Problem sends an RFC7807 problem details response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	problem(w, ProblemDetail{Title: title, Status: status, Detail: detail})
}

func problem(w http.ResponseWriter, body any) {
	status := http.StatusInternalServerError
	switch p := body.(type) {
	case ProblemDetail:
		status = p.Status
	case ValidationProblem:
		status = p.Status
	}
	write(w, "application/problem+json", status, body)
}

func write(w http.ResponseWriter, contentType string, status int, data any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// DecodeJSON decodes at most MaxBodyBytes of the request body into target.
func DecodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes)).Decode(target)
}
