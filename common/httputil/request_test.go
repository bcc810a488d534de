package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		expected   string
	}{
		{
			name:       "X-Forwarded-For ignored",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.195"},
			remoteAddr: "10.0.0.1:1234",
			expected:   "10.0.0.1",
		},
		{
			name:       "X-Real-IP ignored",
			headers:    map[string]string{"X-Real-IP": "198.51.100.4"},
			remoteAddr: "10.0.0.1:1234",
			expected:   "10.0.0.1",
		},
		{
			name:       "RemoteAddr strips port",
			remoteAddr: "192.0.2.10:5555",
			expected:   "192.0.2.10",
		},
		{
			name:       "RemoteAddr without port",
			remoteAddr: "192.0.2.10",
			expected:   "192.0.2.10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := GetClientIP(req); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestTrustedProxies_ClientIP(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.168.1.5"})
	if err != nil {
		t.Fatalf("ParseTrustedProxies() error = %v", err)
	}

	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		expected   string
	}{
		{
			name:       "untrusted peer cannot spoof X-Forwarded-For",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.195"},
			remoteAddr: "198.51.100.7:1234",
			expected:   "198.51.100.7",
		},
		{
			name:       "untrusted peer cannot spoof X-Real-IP",
			headers:    map[string]string{"X-Real-IP": "203.0.113.195"},
			remoteAddr: "198.51.100.7:1234",
			expected:   "198.51.100.7",
		},
		{
			name:       "trusted proxy forwards client",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.195"},
			remoteAddr: "10.1.2.3:1234",
			expected:   "203.0.113.195",
		},
		{
			name:       "prepended entries are skipped",
			headers:    map[string]string{"X-Forwarded-For": "1.1.1.1, 203.0.113.195, 10.0.0.9"},
			remoteAddr: "192.168.1.5:443",
			expected:   "203.0.113.195",
		},
		{
			name:       "only trusted hops",
			headers:    map[string]string{"X-Forwarded-For": "10.0.0.2, 10.0.0.3"},
			remoteAddr: "10.0.0.1:1234",
			expected:   "10.0.0.2",
		},
		{
			name:       "trusted proxy with X-Real-IP",
			headers:    map[string]string{"X-Real-IP": "198.51.100.4"},
			remoteAddr: "10.0.0.1:1234",
			expected:   "198.51.100.4",
		},
		{
			name:       "trusted proxy without headers",
			remoteAddr: "10.0.0.1:1234",
			expected:   "10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := proxies.ClientIP(req); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestParseTrustedProxies_Invalid(t *testing.T) {
	for _, entry := range []string{"not-an-ip", "10.0.0.0/99"} {
		if _, err := ParseTrustedProxies([]string{entry}); err == nil {
			t.Errorf("ParseTrustedProxies(%q) expected error", entry)
		}
	}
}

func TestReadBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"ok":true}`))
	body, err := ReadBody(httptest.NewRecorder(), req, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("unexpected body %q", body)
	}
}

func TestReadBody_TooLarge(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64)))
	_, err := ReadBody(httptest.NewRecorder(), req, 16)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("expected ErrBodyTooLarge, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header   string
		expected string
	}{
		{"Bearer secret-1", "secret-1"},
		{"bearer secret-2", "secret-2"},
		{"Basic dXNlcjpwYXNz", ""},
		{"Bearer", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if got := BearerToken(req); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}
