package simulator

import (
	"testing"

	testhelper "github.com/google/go-tpm-demo/tpm2/transport/test"
)

func TestSimulator(t *testing.T) {
	testhelper.RunTest(t, nil, OpenSimulator)
}
