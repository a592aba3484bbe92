package pipeline

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/google/go-tpm-demo/tpm2"
)

func TestDecodeConfig(t *testing.T) {
	raw := map[string]interface{}{
		"bank":             "sha1",
		"policy-bank":      "SHA256",
		"session-hash":     "sha1",
		"extend-index":     16,
		"policy-index":     7,
		"hierarchy":        "owner",
		"auth":             "0102",
		"teardown-timeout": "3s",
	}
	got, err := DecodeConfig(raw)
	if err != nil {
		t.Fatalf("DecodeConfig() = %v", err)
	}
	want := Config{
		Bank:            tpm2.TPMAlgSHA1,
		PolicyBank:      tpm2.TPMAlgSHA256,
		SessionHash:     tpm2.TPMAlgSHA1,
		ExtendIndex:     16,
		PolicyIndex:     7,
		Hierarchy:       tpm2.TPMRHOwner,
		Auth:            "0102",
		TeardownTimeout: 3 * time.Second,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DecodeConfig() diff (-want +got):\n%s", diff)
	}
}

func TestDecodeConfigDefaults(t *testing.T) {
	got, err := DecodeConfig(nil)
	if err != nil {
		t.Fatalf("DecodeConfig(nil) = %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), got); diff != "" {
		t.Errorf("DecodeConfig(nil) diff (-want +got):\n%s", diff)
	}
}

func TestDecodeConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]interface{}
	}{
		{"unknown key", map[string]interface{}{"banks": "sha1"}},
		{"unknown algorithm", map[string]interface{}{"bank": "md5"}},
		{"not a hash", map[string]interface{}{"bank": "rsa"}},
		{"policy bank equals session hash", map[string]interface{}{"policy-bank": "sha256"}},
		{"negative index", map[string]interface{}{"extend-index": -1}},
		{"index too large", map[string]interface{}{"policy-index": tpm2.MaxPCRIndex + 1}},
		{"unknown hierarchy", map[string]interface{}{"hierarchy": "lockout"}},
		{"auth not hex", map[string]interface{}{"auth": "xyz"}},
		{"auth too long", map[string]interface{}{"auth": string(bytes.Repeat([]byte("00"), tpm2.MaxDigestSize+1))}},
		{"bad timeout", map[string]interface{}{"teardown-timeout": "soon"}},
		{"zero timeout", map[string]interface{}{"teardown-timeout": "0s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if cfg, err := DecodeConfig(tt.raw); err == nil {
				t.Errorf("DecodeConfig(%v) = %+v, want an error", tt.raw, cfg)
			}
		})
	}
}

func TestParseHierarchy(t *testing.T) {
	for name, want := range map[string]tpm2.TPMHandle{
		"owner":       tpm2.TPMRHOwner,
		"Endorsement": tpm2.TPMRHEndorsement,
		"PLATFORM":    tpm2.TPMRHPlatform,
		"null":        tpm2.TPMRHNull,
	} {
		got, err := ParseHierarchy(name)
		if err != nil || got != want {
			t.Errorf("ParseHierarchy(%q) = %v, %v, want %v", name, got, err, want)
		}
	}
	if _, err := ParseHierarchy("lockout"); err == nil {
		t.Error("ParseHierarchy(\"lockout\") succeeded")
	}
}

func TestAuthValue(t *testing.T) {
	cfg := DefaultConfig()
	got, err := cfg.authValue()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, make([]byte, DefaultAuthSize)) {
		t.Errorf("default authValue() = %x, want %d zero bytes", got, DefaultAuthSize)
	}
	cfg.Auth = "c0ffee"
	got, err = cfg.authValue()
	if err != nil || !bytes.Equal(got, []byte{0xc0, 0xff, 0xee}) {
		t.Errorf("authValue() = %x, %v, want c0ffee", got, err)
	}
}

func TestDecodeConfigStrings(t *testing.T) {
	got, err := DecodeConfig(map[string]interface{}{"extend-index": "5", "policy-index": "23"})
	if err != nil {
		t.Fatalf("DecodeConfig() = %v", err)
	}
	if got.ExtendIndex != 5 || got.PolicyIndex != 23 {
		t.Errorf("DecodeConfig() indices = %d, %d, want 5, 23", got.ExtendIndex, got.PolicyIndex)
	}
}
