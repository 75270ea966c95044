package vless

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLink(t *testing.T) {
	got := Link("11111111-2222-3333-4444-555555555555", "vpn.example.com", "Portal_u1")
	assert.Equal(t,
		"vless://11111111-2222-3333-4444-555555555555@vpn.example.com:443?security=reality&type=grpc&fp=chrome&sni=google.com&serviceName=grpc#Portal_u1",
		got)
}

func TestHost(t *testing.T) {
	tests := []struct {
		name     string
		panelURL string
		want     string
	}{
		{"обычный URL панели", "https://vpn.example.com:2053/panel", "vpn.example.com"},
		{"URL без пути", "https://vpn.example.com", "vpn.example.com"},
		{"пустой URL возвращает fallback", "", "your-domain"},
		{"мусор возвращает fallback", "::::", "your-domain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Host(tt.panelURL, "your-domain"))
		})
	}
}
