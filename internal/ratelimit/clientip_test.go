package ratelimit

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{
			name:    "x-forwarded-for first hop",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1, 10.0.0.2"},
			remote:  "10.0.0.2:4567",
			want:    "203.0.113.5",
		},
		{
			name:    "x-real-ip fallback",
			headers: map[string]string{"X-Real-IP": "203.0.113.6"},
			remote:  "10.0.0.2:4567",
			want:    "203.0.113.6",
		},
		{
			name:    "cf-connecting-ip fallback",
			headers: map[string]string{"CF-Connecting-IP": "203.0.113.7"},
			remote:  "10.0.0.2:4567",
			want:    "203.0.113.7",
		},
		{
			name:   "remote addr fallback",
			remote: "192.0.2.9:33412",
			want:   "192.0.2.9",
		},
		{
			name:   "no origin at all",
			remote: "",
			want:   "unknown",
		},
		{
			name:    "empty forwarded header ignored",
			headers: map[string]string{"X-Forwarded-For": "  "},
			remote:  "192.0.2.10:1",
			want:    "192.0.2.10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/api/chat", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
