package activation

import (
	"os"
	"strconv"
	"testing"
)

func TestListener_NoEnvironment(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")

	ln, err := Listener()
	if err != nil {
		t.Fatalf("Listener() unexpected error: %v", err)
	}
	if ln != nil {
		t.Errorf("expected nil listener when no env vars set, got %v", ln)
	}
}

func TestListeners(t *testing.T) {
	self := strconv.Itoa(os.Getpid())

	tests := []struct {
		name    string
		pid     string
		fds     string
		wantErr bool
	}{
		{name: "wrong pid", pid: "99999999", fds: "1"},
		{name: "invalid pid", pid: "not-a-number", fds: "1", wantErr: true},
		{name: "invalid fds", pid: self, fds: "not-a-number", wantErr: true},
		{name: "zero fds", pid: self, fds: "0"},
		{name: "negative fds", pid: self, fds: "-1"},
		{name: "missing fds", pid: self, fds: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := listeners(tt.pid, tt.fds)
			if (err != nil) != tt.wantErr {
				t.Fatalf("listeners() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != 0 {
				t.Errorf("expected no listeners, got %d", len(got))
			}
		})
	}
}
