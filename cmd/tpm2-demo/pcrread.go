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
	"strconv"

	"github.com/spf13/cobra"

	"github.com/google/go-tpm-demo/tpm2"
)

func newPCRReadCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "pcrread [index...]",
		Short: "Print PCR values (default: every PCR of the bank)",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			bankName, _ := cmd.Flags().GetString("bank")
			bank, err := tpm2.ParseAlg(bankName)
			if err != nil {
				return err
			}
			var indices []int
			for _, arg := range args {
				i, err := strconv.Atoi(arg)
				if err != nil {
					return fmt.Errorf("invalid PCR index %q", arg)
				}
				indices = append(indices, i)
			}

			ctx := cmd.Context()
			dev, err := a.openDevice(ctx)
			if err != nil {
				return &exitError{status: tpm2.ExitCode(err), err: err}
			}
			defer func() {
				if cerr := dev.Close(); cerr != nil && err == nil {
					err = cerr
				}
			}()

			if len(indices) == 0 {
				n, err := dev.PCRCount(ctx)
				if err != nil {
					return &exitError{status: tpm2.ExitCode(err), err: err}
				}
				for i := 0; i < n; i++ {
					indices = append(indices, i)
				}
			}
			sel, err := tpm2.NewPCRSelection(bank, indices...)
			if err != nil {
				return err
			}
			values, err := dev.ReadPCRs(ctx, sel)
			if err != nil {
				return &exitError{status: tpm2.ExitCode(err), err: err}
			}
			for _, v := range values {
				fmt.Fprintf(cmd.OutOrStdout(), "PCR[%2d] %v: %x\n", v.Index, v.Alg, v.Digest)
			}
			return nil
		},
	}
	c.Flags().String("bank", "sha256", "PCR bank to read")
	return c
}
