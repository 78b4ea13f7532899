package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/benvon/studygen/internal/request"
)

func TestLogging(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		method        string
		path          string
		handlerStatus int
		wantLevel     zapcore.Level
	}{
		{name: "GET request", method: http.MethodGet, path: "/api/v1/status", handlerStatus: http.StatusOK, wantLevel: zapcore.InfoLevel},
		{name: "POST request", method: http.MethodPost, path: "/api/v1/generations", handlerStatus: http.StatusAccepted, wantLevel: zapcore.InfoLevel},
		{name: "client error", method: http.MethodGet, path: "/notfound", handlerStatus: http.StatusNotFound, wantLevel: zapcore.WarnLevel},
		{name: "server error", method: http.MethodGet, path: "/api/v1/content", handlerStatus: http.StatusInternalServerError, wantLevel: zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			core, logs := observer.New(zapcore.DebugLevel)
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.handlerStatus)
				_, _ = w.Write([]byte("body"))
			})

			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()
			Logging(zap.New(core))(handler).ServeHTTP(w, req)

			if w.Code != tt.handlerStatus {
				t.Errorf("Expected status %d, got %d", tt.handlerStatus, w.Code)
			}

			entries := logs.FilterMessage("http_request").All()
			if len(entries) != 1 {
				t.Fatalf("Expected 1 http_request entry, got %d", len(entries))
			}
			entry := entries[0]
			if entry.Level != tt.wantLevel {
				t.Errorf("Expected level %v, got %v", tt.wantLevel, entry.Level)
			}
			fields := entry.ContextMap()
			if fields["status_code"] != int64(tt.handlerStatus) {
				t.Errorf("Expected status_code %d, got %v", tt.handlerStatus, fields["status_code"])
			}
			if fields["bytes"] != int64(4) {
				t.Errorf("Expected bytes 4, got %v", fields["bytes"])
			}
		})
	}
}

func TestLoggingIncludesCaller(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	caller := &request.Caller{UserID: uuid.New(), OwnerID: uuid.New()}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req = req.WithContext(request.WithCaller(req.Context(), caller))

	Logging(zap.New(core))(handler).ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("http_request").All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["user_id"]; got != caller.UserID.String() {
		t.Errorf("Expected user_id %s, got %v", caller.UserID, got)
	}
}

func TestLoggingResponseWriterKeepsFirstStatus(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("test"))
	})

	w := httptest.NewRecorder()
	Logging(zap.NewNop())(handler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	if w.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", w.Code)
	}
}
