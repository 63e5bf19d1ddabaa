package store

import "testing"

func TestNATSKeyMapping(t *testing.T) {
	tests := []struct {
		path string
		key  string
	}{
		{"commands/XMAS", "commands.XMAS"},
		{"status/XMAS/room-joy", "status.XMAS.room-joy"},
		{"commands", "commands"},
	}
	for _, tt := range tests {
		if got := natsKey(tt.path); got != tt.key {
			t.Errorf("natsKey(%q) = %q, want %q", tt.path, got, tt.key)
		}
		if got := natsPath(tt.key); got != tt.path {
			t.Errorf("natsPath(%q) = %q, want %q", tt.key, got, tt.path)
		}
	}
}
