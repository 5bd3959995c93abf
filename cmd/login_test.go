package cmd

import (
	"testing"
)

func TestResolvePeer(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "ssh connection",
			env:  map[string]string{"SSH_CONNECTION": "203.0.113.7 52211 10.0.0.1 22"},
			want: "203.0.113.7",
		},
		{
			name: "ssh client fallback",
			env:  map[string]string{"SSH_CLIENT": "198.51.100.4 49152 22"},
			want: "198.51.100.4",
		},
		{
			name: "connection preferred over client",
			env: map[string]string{
				"SSH_CONNECTION": "203.0.113.7 52211 10.0.0.1 22",
				"SSH_CLIENT":     "198.51.100.4 49152 22",
			},
			want: "203.0.113.7",
		},
		{
			name: "no ssh environment",
			env:  map[string]string{},
			want: "local",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SSH_CONNECTION", "")
			t.Setenv("SSH_CLIENT", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if got := resolvePeer(); got != tt.want {
				t.Errorf("resolvePeer() = %q, want %q", got, tt.want)
			}
		})
	}
}
