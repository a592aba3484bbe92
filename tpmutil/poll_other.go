//go:build !linux && !darwin

package tpmutil

import (
	"os"
	"time"
)

const pollNoTimeout time.Duration = -1

// poll is a no-op where the TPM device cannot be polled; the read blocks.
func poll(f *os.File, timeout time.Duration) error {
	return nil
}
