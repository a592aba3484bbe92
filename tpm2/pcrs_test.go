package tpm2

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPCRSelect(t *testing.T) {
	tests := []struct {
		pcrs []int
		want []byte
	}{
		{nil, []byte{0x00, 0x00, 0x00}},
		{[]int{0}, []byte{0x01, 0x00, 0x00}},
		{[]int{7, 8}, []byte{0x80, 0x01, 0x00}},
		{[]int{16}, []byte{0x00, 0x00, 0x01}},
		{[]int{23, 0}, []byte{0x01, 0x00, 0x80}},
		{[]int{24}, []byte{0x00, 0x00, 0x00, 0x01}},
		{[]int{31}, []byte{0x00, 0x00, 0x00, 0x80}},
	}
	for _, tt := range tests {
		got, err := PCRSelect(tt.pcrs...)
		if err != nil {
			t.Errorf("PCRSelect(%v) = %v", tt.pcrs, err)
			continue
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("PCRSelect(%v) = %x, want %x", tt.pcrs, got, tt.want)
		}
	}
	for _, bad := range []int{-1, MaxPCRIndex + 1} {
		if _, err := PCRSelect(bad); err == nil {
			t.Errorf("PCRSelect(%d) succeeded", bad)
		}
	}
}

func TestSelected(t *testing.T) {
	sel, err := NewPCRSelection(TPMAlgSHA1, 16, 3, 9)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{3, 9, 16}, sel.PCRSelections[0].Selected()); diff != "" {
		t.Errorf("Selected() diff (-want +got):\n%s", diff)
	}
}

func TestPropertyString(t *testing.T) {
	tests := []struct {
		v    uint32
		want string
	}{
		{0x322E3000, "2.0"},
		{0x49424D00, "IBM"},
		{0x4C4F4F50, "LOOP"},
		{0x4D534654, "MSFT"},
	}
	for _, tt := range tests {
		if got := propertyString(tt.v); got != tt.want {
			t.Errorf("propertyString(0x%x) = %q, want %q", tt.v, got, tt.want)
		}
	}
}
