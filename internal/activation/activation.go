package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// Systemd passes file descriptors starting at fd 3
// (0=stdin, 1=stdout, 2=stderr)
const firstFD = 3

// Listener returns the first socket handed over by systemd socket activation,
// or nil when the process was not socket-activated. Additional sockets are
// closed since the event server only serves one.
func Listener() (net.Listener, error) {
	listeners, err := listeners(os.Getenv("LISTEN_PID"), os.Getenv("LISTEN_FDS"))
	if err != nil || len(listeners) == 0 {
		return nil, err
	}

	// Unset the environment variables so child processes don't inherit them
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")

	for _, extra := range listeners[1:] {
		_ = extra.Close()
	}
	return listeners[0], nil
}

func listeners(pidStr, fdsStr string) ([]net.Listener, error) {
	if pidStr == "" || fdsStr == "" {
		return nil, nil
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}
	if pid != os.Getpid() {
		// activation is for a different process
		return nil, nil
	}

	n, err := strconv.Atoi(fdsStr)
	if err != nil {
		return nil, fmt.Errorf("invalid LISTEN_FDS %q: %w", fdsStr, err)
	}

	result := make([]net.Listener, 0, max(n, 0))
	for fd := firstFD; fd < firstFD+n; fd++ {
		file := os.NewFile(uintptr(fd), "systemd-socket-"+strconv.Itoa(fd-firstFD))
		if file == nil {
			return nil, fmt.Errorf("failed to create file for fd %d", fd)
		}

		ln, err := net.FileListener(file)
		// the listener holds its own dup of the descriptor
		_ = file.Close()
		if err != nil {
			for _, l := range result {
				_ = l.Close()
			}
			return nil, fmt.Errorf("failed to create listener from fd %d: %w", fd, err)
		}
		result = append(result, ln)
	}
	return result, nil
}
