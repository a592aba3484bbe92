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
	"context"

	"github.com/sanity-io/litter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/google/go-tpm-demo/tpm2"
)

// capsReport is what the caps command prints.
type capsReport struct {
	Family          string       `yaml:"family"`
	Manufacturer    string       `yaml:"manufacturer"`
	PCRCount        int          `yaml:"pcr-count"`
	Banks           []bankReport `yaml:"banks"`
	MaxCommandSize  int          `yaml:"max-command-size"`
	MaxResponseSize int          `yaml:"max-response-size"`
}

type bankReport struct {
	Alg  string `yaml:"alg"`
	PCRs []int  `yaml:"pcrs,flow"`
}

func probe(ctx context.Context, dev *tpm2.Device) (*capsReport, error) {
	var r capsReport
	var err error
	if r.Family, err = dev.FamilyIndicator(ctx); err != nil {
		return nil, err
	}
	if r.Manufacturer, err = dev.Manufacturer(ctx); err != nil {
		return nil, err
	}
	if r.PCRCount, err = dev.PCRCount(ctx); err != nil {
		return nil, err
	}
	banks, err := dev.PCRBanks(ctx)
	if err != nil {
		return nil, err
	}
	dev.Logger().Debug(litter.Sdump(banks))
	for _, b := range banks {
		r.Banks = append(r.Banks, bankReport{Alg: b.Hash.String(), PCRs: b.Selected()})
	}
	if r.MaxCommandSize, r.MaxResponseSize, err = dev.Negotiate(ctx); err != nil {
		return nil, err
	}
	return &r, nil
}

func newCapsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "caps",
		Args:  cobra.ExactArgs(0),
		Short: "Print the TPM's capabilities as YAML",
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
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

			r, err := probe(ctx, dev)
			if err != nil {
				return &exitError{status: tpm2.ExitCode(err), err: err}
			}
			out, err := yaml.Marshal(r)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
