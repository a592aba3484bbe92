package linuxudstpm

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-tpm-demo/tpm2/transport"
	"github.com/google/go-tpm-demo/tpm2/transport/loopback"
	testhelper "github.com/google/go-tpm-demo/tpm2/transport/test"
)

// serve answers one command per connection from tpm, the way swtpm does.
func serve(t *testing.T, tpm transport.TPM) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tpm.sock")
	l, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("Listen() = %v", err)
	}
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			buf := make([]byte, 4096)
			n, err := c.Read(buf)
			if err == nil {
				if rsp, err := tpm.Send(buf[:n]); err == nil {
					c.Write(rsp)
				}
			}
			c.Close()
		}
	}()
	return path
}

func TestLoopbackOverSocket(t *testing.T) {
	path := serve(t, loopback.New(loopback.Started()))
	testhelper.RunTest(t, nil, func() (transport.TPMCloser, error) {
		return Open(path, time.Second)
	})
}

func TestOpenNotSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regular")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path, 0); !errors.Is(err, ErrFileIsNotSocket) {
		t.Errorf("Open(regular file) = %v, want ErrFileIsNotSocket", err)
	}
	if _, err := Open(filepath.Join(t.TempDir(), "missing"), 0); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Open(missing) = %v, want os.ErrNotExist", err)
	}
}

func TestSendAfterClose(t *testing.T) {
	path := serve(t, loopback.New())
	tpm, err := Open(path, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err := tpm.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := tpm.Send([]byte{0x80, 0x01}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Close = %v, want ErrClosed", err)
	}
}

func TestOversizedResponse(t *testing.T) {
	path := serve(t, transportFunc(func([]byte) ([]byte, error) {
		// Header announcing 1 MiB.
		return []byte{0x80, 0x01, 0x00, 0x10, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, nil
	}))
	tpm, err := Open(path, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer tpm.Close()
	if _, err := tpm.Send([]byte{0x80, 0x01, 0x00, 0x00, 0x00, 0x0a, 0x00, 0x00, 0x01, 0x44}); !errors.Is(err, ErrResponseTooBig) {
		t.Errorf("Send() = %v, want ErrResponseTooBig", err)
	}
}

type transportFunc func([]byte) ([]byte, error)

func (f transportFunc) Send(b []byte) ([]byte, error) { return f(b) }
