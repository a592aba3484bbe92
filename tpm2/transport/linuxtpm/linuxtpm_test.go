//go:build !windows

package linuxtpm

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-tpm-demo/tpm2/transport"
	testhelper "github.com/google/go-tpm-demo/tpm2/transport/test"
)

func open(path string) func() (transport.TPMCloser, error) {
	return func() (transport.TPMCloser, error) {
		return Open(path)
	}
}

func TestLocalTPM(t *testing.T) {
	testhelper.RunTest(t, []error{os.ErrNotExist, os.ErrPermission, ErrFileIsNotDevice}, open("/dev/tpm0"))
}

func TestLocalResourceManagedTPM(t *testing.T) {
	testhelper.RunTest(t, []error{os.ErrNotExist, os.ErrPermission, ErrFileIsNotDevice}, open("/dev/tpmrm0"))
}

func TestOpenRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tpm0")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); !errors.Is(err, ErrFileIsNotDevice) {
		t.Errorf("Open(%q) = %v, want ErrFileIsNotDevice", path, err)
	}
}

func TestOpenDefaultMissing(t *testing.T) {
	saved := DefaultPaths
	defer func() { DefaultPaths = saved }()
	DefaultPaths = []string{filepath.Join(t.TempDir(), "missing")}

	if _, err := OpenDefault(); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("OpenDefault() = %v, want os.ErrNotExist", err)
	}
}

func TestOpenTimeoutRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tpmrm0")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenTimeout(path, time.Second); !errors.Is(err, ErrFileIsNotDevice) {
		t.Errorf("OpenTimeout(%q) = %v, want ErrFileIsNotDevice", path, err)
	}
}
