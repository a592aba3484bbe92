//go:build linux || darwin

package transport

import (
	"errors"
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestFromReadWriteCloserTimeout(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair() = %v", err)
	}
	f := os.NewFile(uintptr(fds[0]), "tpm")
	peer := os.NewFile(uintptr(fds[1]), "peer")
	defer peer.Close()

	tpm := FromReadWriteCloserTimeout(f, 50*time.Millisecond)
	defer tpm.Close()

	// The peer never answers.
	start := time.Now()
	_, err = tpm.Send([]byte{0x80, 0x01, 0, 0, 0, 0x0c, 0, 0, 0x01, 0x44, 0, 0})
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Errorf("Send() = %v, want os.ErrDeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Send() returned after %v", elapsed)
	}

	rsp := []byte{0x80, 0x01, 0, 0, 0, 0x0a, 0, 0, 0, 0}
	go func() {
		buf := make([]byte, 64)
		if _, err := peer.Read(buf); err == nil {
			peer.Write(rsp)
		}
	}()
	out, err := tpm.Send([]byte{0x80, 0x01, 0, 0, 0, 0x0c, 0, 0, 0x01, 0x44, 0, 0})
	if err != nil {
		t.Fatalf("Send() = %v", err)
	}
	if len(out) != len(rsp) {
		t.Errorf("Send() = %x, want %x", out, rsp)
	}
}
