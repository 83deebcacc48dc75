package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Response is the JSON body served by Handler.
type Response struct {
	Status    string                   `json:"status"`
	Timestamp string                   `json:"timestamp"`
	Checks    map[string]CheckResponse `json:"checks,omitempty"`
}

// CheckResponse is the JSON form of a single Result.
type CheckResponse struct {
	Status   string         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// CheckAll runs every checker sequentially and keys results by name.
func CheckAll(ctx context.Context, checkers ...Checker) map[string]Result {
	results := make(map[string]Result, len(checkers))
	for _, c := range checkers {
		start := time.Now()
		r := c.Check(ctx)
		r.Duration = time.Since(start)
		results[c.Name()] = r
	}
	return results
}

// NewResponse converts results into the JSON response form.
func NewResponse(results map[string]Result) Response {
	resp := Response{
		Status:    Worst(results).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    make(map[string]CheckResponse, len(results)),
	}
	for name, r := range results {
		check := CheckResponse{
			Status:   r.Status.String(),
			Message:  r.Message,
			Duration: r.Duration.String(),
			Details:  r.Details,
		}
		if r.Error != nil {
			check.Error = r.Error.Error()
		}
		resp.Checks[name] = check
	}
	return resp
}

// Handler serves the combined result of checkers as JSON.
func Handler(checkers ...Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		results := CheckAll(ctx, checkers...)

		w.Header().Set("Content-Type", "application/json")
		if Worst(results) == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(NewResponse(results))
	}
}

// LivenessHandler answers 200 OK while the process is serving.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}
