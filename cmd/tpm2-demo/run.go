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

package main

import (
	"fmt"
	"strings"

	"github.com/sanity-io/litter"
	"github.com/spf13/cobra"

	"github.com/google/go-tpm-demo/pipeline"
	"github.com/google/go-tpm-demo/tpm2"
)

func newRunCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "run",
		Args:  cobra.ExactArgs(0),
		Short: "Run the full bring-up sequence",
		Long: "Run the full bring-up sequence:\n  " + strings.Join(pipeline.Steps(), "\n  ") +
			"\n\nThe exit status is the low byte of the first TPM response code that failed.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.pipelineConfig()
			if err != nil {
				return err
			}
			a.log.Debug(litter.Sdump(cfg))
			t, err := a.openTransport()
			if err != nil {
				return err
			}
			dev := tpm2.NewDevice(t, tpm2.WithLogger(a.log))
			status, err := pipeline.Run(cmd.Context(), dev, cfg)
			if err != nil {
				return &exitError{status: status, err: err}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "TPM2 demo: pass")
			return nil
		},
	}
	def := pipeline.DefaultConfig()
	flags := c.Flags()
	flags.String("bank", def.Bank.String(), "PCR bank read and extended")
	flags.String("policy-bank", def.PolicyBank.String(), "PCR bank bound into the policy")
	flags.String("session-hash", def.SessionHash.String(), "Hash algorithm of the policy session")
	flags.Int("extend-index", def.ExtendIndex, "PCR extended with the test pattern")
	flags.Int("policy-index", def.PolicyIndex, "PCR asserted by the policy")
	flags.String("hierarchy", "endorsement", "Hierarchy of the primary key: owner, endorsement, platform or null")
	flags.String("auth", "", "Hex authorization value (default: 32 zero bytes)")
	flags.Duration("teardown-timeout", def.TeardownTimeout, "Bound on flushing and closing after the run")
	for _, k := range pipelineKeys {
		_ = a.v.BindPFlag(k, flags.Lookup(k))
	}
	return c
}
