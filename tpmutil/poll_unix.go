//go:build linux || darwin

package tpmutil

import (
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// pollNoTimeout makes poll block until data is available.
const pollNoTimeout time.Duration = -1

// poll blocks until f is ready for reading, timeout expires (reported as
// os.ErrDeadlineExceeded) or an error occurs.
func poll(f *os.File, timeout time.Duration) error {
	ms := -1 // TSS2_TCTI_TIMEOUT_BLOCK
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	fds := []unix.PollFd{
		{Fd: int32(f.Fd()), Events: unix.POLLIN},
	}
	for {
		n, err := unix.Poll(fds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return os.ErrDeadlineExceeded
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 && fds[0].Revents&unix.POLLIN == 0 {
			return errors.New("TPM file descriptor is not readable")
		}
		return nil
	}
}
