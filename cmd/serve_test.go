package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vibast-solutions/ms-go-collector/app/controller"
	"github.com/vibast-solutions/ms-go-collector/app/dispatcher"
	"github.com/vibast-solutions/ms-go-collector/app/logger"
	"github.com/vibast-solutions/ms-go-collector/app/processor"
	"github.com/vibast-solutions/ms-go-collector/app/queue"
	"github.com/vibast-solutions/ms-go-collector/app/service"
	"github.com/vibast-solutions/ms-go-collector/app/spool"
	"github.com/vibast-solutions/ms-go-collector/config"
)

type nopPublisher struct{}

func (nopPublisher) Publish(_ context.Context, _ queue.FlushMessage) error { return nil }

func newCollectorTestServer(t *testing.T) *http.Server {
	t.Helper()
	scanner := spool.NewScanner(t.TempDir())
	d := dispatcher.New(processor.NewSet(processor.NewNoopProcessor()), 1, logger.Discard())
	svc := service.NewSpoolService(scanner, d, nil, nil, "/events", false, logger.Discard())
	spoolController := controller.NewSpoolController(svc, d, nopPublisher{}, nil, nil, logger.Discard())
	return &http.Server{Handler: setupHTTPServer(spoolController)}
}

func serve(server *http.Server, method string, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	return rec
}

func TestSetupHTTPServerHealthRoute(t *testing.T) {
	server := newCollectorTestServer(t)

	rec := serve(server, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected health payload: %s", rec.Body.String())
	}
}

func TestSetupHTTPServerMetricsRoute(t *testing.T) {
	server := newCollectorTestServer(t)

	rec := serve(server, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "collector_spool_files_dispatched_total") {
		t.Fatalf("expected collector metrics in payload")
	}
}

func TestSetupHTTPServerSpoolRoutes(t *testing.T) {
	server := newCollectorTestServer(t)

	tests := []struct {
		method string
		target string
		code   int
	}{
		{http.MethodGet, "/spool/processors", http.StatusOK},
		{http.MethodGet, "/spool/pending", http.StatusOK},
		{http.MethodGet, "/spool/processors/missing/flush", http.StatusNotFound},
		{http.MethodPost, "/spool/processors/noop/flush/enable", http.StatusUnprocessableEntity},
		{http.MethodPost, "/spool/flush", http.StatusBadRequest},
	}
	for _, tc := range tests {
		rec := serve(server, tc.method, tc.target)
		if rec.Code != tc.code {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.target, tc.code, rec.Code)
		}
	}
}

func TestBuildLockBackend(t *testing.T) {
	t.Parallel()

	if _, err := buildLockBackend(&config.Config{LockBackend: "file", LockDir: t.TempDir()}, nil, nil, nil); err != nil {
		t.Fatalf("file backend: %v", err)
	}
	if _, err := buildLockBackend(&config.Config{LockBackend: "mysql"}, nil, nil, nil); err == nil {
		t.Fatalf("expected error for mysql backend without a database")
	}
	if _, err := buildLockBackend(&config.Config{LockBackend: "zookeeper"}, nil, nil, nil); err == nil {
		t.Fatalf("expected error for unsupported backend")
	}
}

func TestBuildStorageClient(t *testing.T) {
	t.Parallel()

	client, err := buildStorageClient(context.Background(), &config.Config{StorageBackend: "local", StorageLocalRoot: t.TempDir()})
	if err != nil || client == nil {
		t.Fatalf("local storage: client=%v err=%v", client, err)
	}
	if _, err := buildStorageClient(context.Background(), &config.Config{StorageBackend: "ftp"}); err == nil {
		t.Fatalf("expected error for unsupported storage backend")
	}
}
