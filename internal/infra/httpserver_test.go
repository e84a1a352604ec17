package infra

import (
	"net/http"
	"testing"
	"time"
)

func TestNewHTTPServerAppliesConfig(t *testing.T) {
	cfg := &Config{
		Port:             "9090",
		HTTPReadTimeout:  7 * time.Second,
		HTTPWriteTimeout: 11 * time.Second,
		HTTPIdleTimeout:  13 * time.Second,
	}
	srv := NewHTTPServer(cfg, http.NotFoundHandler())

	if srv.Addr() != ":9090" {
		t.Fatalf("Addr() = %q, want :9090", srv.Addr())
	}
	if srv.srv.ReadTimeout != 7*time.Second {
		t.Fatalf("ReadTimeout = %v", srv.srv.ReadTimeout)
	}
	if srv.srv.WriteTimeout != 11*time.Second {
		t.Fatalf("WriteTimeout = %v", srv.srv.WriteTimeout)
	}
	if srv.srv.IdleTimeout != 13*time.Second {
		t.Fatalf("IdleTimeout = %v", srv.srv.IdleTimeout)
	}
}
