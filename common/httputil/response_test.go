package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name   string
		status int
		data   any
	}{
		{name: "map", status: http.StatusOK, data: map[string]string{"status": "healthy"}},
		{name: "struct", status: http.StatusCreated, data: struct{ ID string }{"123"}},
		{name: "slice", status: http.StatusOK, data: []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteJSON(w, tt.status, tt.data)

			if w.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected application/json, got %q", ct)
			}
			var out any
			if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
				t.Errorf("invalid JSON body: %v", err)
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, http.StatusBadRequest, "Invalid JSON")

	var body ErrorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if body.Success || body.Error != "Invalid JSON" || body.Details != "" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestWriteErrorDetails(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorDetails(w, http.StatusInternalServerError, "VRE delivery failed", "freeze failed")

	var body ErrorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Details != "freeze failed" {
		t.Errorf("expected details, got %+v", body)
	}
}
