// Copyright (c) 2018, Google LLC All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/google/go-tpm-demo/tpm2"
)

// DefaultAuthSize is the length of the all-zero password used when no
// authorization value is configured.
const DefaultAuthSize = 32

// Config controls a pipeline run.
type Config struct {
	// Bank is the PCR bank read and extended in steps 4 and 5.
	Bank tpm2.TPMAlgID `mapstructure:"bank"`
	// PolicyBank is the bank whose PCR is bound into the policy in step 7.
	// It must differ from SessionHash.
	PolicyBank tpm2.TPMAlgID `mapstructure:"policy-bank"`
	// SessionHash is the hash algorithm of the policy session.
	SessionHash tpm2.TPMAlgID `mapstructure:"session-hash"`
	// ExtendIndex is the PCR extended with the test pattern.
	ExtendIndex int `mapstructure:"extend-index"`
	// PolicyIndex is the PCR asserted with TPM2_PolicyPCR.
	PolicyIndex int `mapstructure:"policy-index"`
	// Hierarchy is the hierarchy the primary key is created under.
	Hierarchy tpm2.TPMHandle `mapstructure:"hierarchy"`
	// Auth is the hex-encoded password for the default authorization.
	// Empty means DefaultAuthSize zero bytes.
	Auth string `mapstructure:"auth"`
	// TeardownTimeout bounds the flush and close commands issued after
	// the run, whether or not it succeeded.
	TeardownTimeout time.Duration `mapstructure:"teardown-timeout"`
}

// DefaultConfig returns the configuration of the reference sequence.
func DefaultConfig() Config {
	return Config{
		Bank:            tpm2.TPMAlgSHA256,
		PolicyBank:      tpm2.TPMAlgSHA1,
		SessionHash:     tpm2.TPMAlgSHA256,
		ExtendIndex:     0,
		PolicyIndex:     0,
		Hierarchy:       tpm2.TPMRHEndorsement,
		TeardownTimeout: 10 * time.Second,
	}
}

var hierarchies = map[string]tpm2.TPMHandle{
	"owner":       tpm2.TPMRHOwner,
	"endorsement": tpm2.TPMRHEndorsement,
	"platform":    tpm2.TPMRHPlatform,
	"null":        tpm2.TPMRHNull,
}

// ParseHierarchy returns the hierarchy handle with the given name.
func ParseHierarchy(name string) (tpm2.TPMHandle, error) {
	if h, ok := hierarchies[strings.ToLower(name)]; ok {
		return h, nil
	}
	return 0, fmt.Errorf("unknown hierarchy %q", name)
}

// DecodeHook converts configuration strings into durations, algorithm IDs
// and hierarchy handles.
func DecodeHook() mapstructure.DecodeHookFunc {
	algType := reflect.TypeOf(tpm2.TPMAlgID(0))
	handleType := reflect.TypeOf(tpm2.TPMHandle(0))
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
			if f.Kind() != reflect.String {
				return data, nil
			}
			switch t {
			case algType:
				return tpm2.ParseAlg(data.(string))
			case handleType:
				return ParseHierarchy(data.(string))
			}
			return data, nil
		},
	)
}

// DecodeConfig decodes raw settings over DefaultConfig and validates the
// result. Unknown keys are an error. Numbers may be given as strings, as
// they are in the environment.
func DecodeConfig(raw map[string]interface{}) (Config, error) {
	cfg := DefaultConfig()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       DecodeHook(),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return cfg, fmt.Errorf("failed creating a configuration decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	for _, alg := range []tpm2.TPMAlgID{c.Bank, c.PolicyBank, c.SessionHash} {
		if _, err := alg.Hash(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	if c.PolicyBank == c.SessionHash {
		return errors.New("invalid configuration: policy-bank must differ from session-hash")
	}
	if c.ExtendIndex < 0 || c.ExtendIndex > tpm2.MaxPCRIndex {
		return fmt.Errorf("invalid configuration: extend-index %d out of range", c.ExtendIndex)
	}
	if c.PolicyIndex < 0 || c.PolicyIndex > tpm2.MaxPCRIndex {
		return fmt.Errorf("invalid configuration: policy-index %d out of range", c.PolicyIndex)
	}
	switch c.Hierarchy {
	case tpm2.TPMRHOwner, tpm2.TPMRHEndorsement, tpm2.TPMRHPlatform, tpm2.TPMRHNull:
	default:
		return fmt.Errorf("invalid configuration: %v is not a hierarchy", c.Hierarchy)
	}
	if _, err := c.authValue(); err != nil {
		return err
	}
	if c.TeardownTimeout <= 0 {
		return errors.New("invalid configuration: teardown-timeout must be positive")
	}
	return nil
}

func (c *Config) authValue() ([]byte, error) {
	if c.Auth == "" {
		return make([]byte, DefaultAuthSize), nil
	}
	b, err := hex.DecodeString(c.Auth)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: auth: %w", err)
	}
	if len(b) > tpm2.MaxDigestSize {
		return nil, fmt.Errorf("invalid configuration: auth of %d bytes exceeds %d", len(b), tpm2.MaxDigestSize)
	}
	return b, nil
}
