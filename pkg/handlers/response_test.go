package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-pricematch/pkg/apperrors"
)

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		errorCode  string
		message    string
	}{
		{"bad request", http.StatusBadRequest, "bad_request", "invalid input"},
		{"not found", http.StatusNotFound, "not_found", "resource not found"},
		{"internal error", http.StatusInternalServerError, "internal_error", "something went wrong"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			err := ErrorResponse(w, tt.statusCode, tt.errorCode, tt.message)
			if err != nil {
				t.Fatalf("ErrorResponse returned error: %v", err)
			}

			resp := w.Result()
			defer resp.Body.Close()

			if resp.StatusCode != tt.statusCode {
				t.Errorf("status code = %d, want %d", resp.StatusCode, tt.statusCode)
			}

			ct := resp.Header.Get("Content-Type")
			if ct != "application/json" {
				t.Errorf("Content-Type = %q, want %q", ct, "application/json")
			}

			var body ApiResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response body: %v", err)
			}

			if body.Success {
				t.Error("expected success=false")
			}
			if body.Error != tt.errorCode {
				t.Errorf("error = %q, want %q", body.Error, tt.errorCode)
			}
			if body.Message != tt.message {
				t.Errorf("message = %q, want %q", body.Message, tt.message)
			}
		})
	}
}

func TestWriteJSON_Status200(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"key": "value"}

	if err := WriteJSON(w, http.StatusOK, data); err != nil {
		t.Fatalf("WriteJSON returned error: %v", err)
	}

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body["key"] != "value" {
		t.Errorf("body[key] = %q, want %q", body["key"], "value")
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"invalid input", fmt.Errorf("%w: blank", apperrors.ErrInvalidInput), http.StatusBadRequest, "invalid_input"},
		{"not found", apperrors.ErrNotFound, http.StatusNotFound, "not_found"},
		{"integrity", fmt.Errorf("%w: fk", apperrors.ErrStoreIntegrity), http.StatusConflict, "conflict"},
		{"conflict", apperrors.ErrConflict, http.StatusConflict, "conflict"},
		{"transient", fmt.Errorf("%w: conn reset", apperrors.ErrStoreTransient), http.StatusServiceUnavailable, "store_unavailable"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, errCode := errorStatus(tt.err)
			if code != tt.wantCode {
				t.Errorf("status = %d, want %d", code, tt.wantCode)
			}
			if errCode != tt.wantErr {
				t.Errorf("error code = %q, want %q", errCode, tt.wantErr)
			}
		})
	}
}

func TestDecodeJSON_OptionalEmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(""))
	w := httptest.NewRecorder()

	var v struct{ A int }
	if !decodeJSON(w, req, &v, true, zap.NewNop()) {
		t.Fatal("expected empty optional body to decode")
	}

	req = httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(""))
	w = httptest.NewRecorder()
	if decodeJSON(w, req, &v, false, zap.NewNop()) {
		t.Fatal("expected empty required body to fail")
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
