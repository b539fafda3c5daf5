package main

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestIsPrivateIP(t *testing.T) {
	t.Setenv("WIRE2EPUB_TEST_ALLOW_LOCAL", "")
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"192.168.1.1", true},
		{"169.254.0.1", true},
		{"::1", true},
		{"fe80::1", true},
		{"8.8.8.8", false},
		{"104.21.0.1", false},
		{"2606:4700::1", false},
	}
	for _, tt := range tests {
		ip := net.ParseIP(tt.ip)
		if ip == nil {
			t.Fatalf("bad test IP %q", tt.ip)
		}
		if got := isPrivateIP(ip); got != tt.want {
			t.Errorf("isPrivateIP(%s) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}

func TestIsPrivateIP_TestOverride(t *testing.T) {
	t.Setenv("WIRE2EPUB_TEST_ALLOW_LOCAL", "1")
	if isPrivateIP(net.ParseIP("127.0.0.1")) {
		t.Error("loopback should be allowed when the test override is set")
	}
}

func TestSafeDialContext_BlocksLoopback(t *testing.T) {
	t.Setenv("WIRE2EPUB_TEST_ALLOW_LOCAL", "")
	dial := safeDialContext(&net.Dialer{Timeout: time.Second})
	if _, err := dial(context.Background(), "tcp", "127.0.0.1:80"); err == nil {
		t.Error("expected loopback dial to be blocked")
	}
}
