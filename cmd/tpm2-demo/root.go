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
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/google/go-tpm-demo/tpm2/transport"
)

// envPrefix prefixes every environment override, e.g. TPM2DEMO_TRANSPORT.
const envPrefix = "TPM2DEMO"

// app is the state shared by all subcommands of one root command.
type app struct {
	v   *viper.Viper
	log *logrus.Logger
}

// exitError carries the status a subcommand wants the process to exit with.
type exitError struct {
	status int
	err    error
}

func (e *exitError) Error() string {
	return fmt.Sprintf("%v (status 0x%x)", e.err, e.status)
}

func (e *exitError) Unwrap() error { return e.err }

// exitCode maps a command error to a process exit code. Statuses whose low
// byte is zero would read as success to the shell, so they become 1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if !errors.As(err, &ee) {
		return 1
	}
	if code := ee.status & 0xff; code != 0 {
		return code
	}
	return 1
}

// NewRootCmd returns the root command with every subcommand registered.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New(), log: logrus.New()}
	cmd := &cobra.Command{
		Use:           "tpm2-demo",
		Short:         "Exercise a TPM 2.0 device end to end",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.readConfig(); err != nil {
				return err
			}
			a.setupLogger(cmd.ErrOrStderr())
			return nil
		},
	}
	flags := cmd.PersistentFlags()
	flags.Bool("debug", false, "Enable debug output")
	flags.Bool("trace", false, "Log every command and response")
	flags.String("logfile", "", "Also write the log to this file")
	flags.Bool("quiet", false, "Do not log to stderr")
	flags.String("config", "", "YAML configuration file")
	flags.String("transport", "device", "TPM transport: device, uds, tcp, simulator or loopback")
	flags.String("device", "", "TPM device path (default: first of "+strings.Join(defaultDevicePaths(), ", ")+")")
	flags.String("socket", "", "Unix domain socket of a TPM emulator")
	flags.String("tcp-command", "localhost:2321", "Command server address of a TCP TPM")
	flags.String("tcp-platform", "localhost:2322", "Platform server address of a TCP TPM")
	flags.Duration("timeout", transport.DefaultTimeout, "Bound on every TPM exchange")
	flags.VisitAll(func(f *pflag.Flag) {
		_ = a.v.BindPFlag(f.Name, f)
	})

	cmd.AddCommand(
		newRunCmd(a),
		newPCRReadCmd(a),
		newCapsCmd(a),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command and returns the process exit code.
func Execute(cmd *cobra.Command) int {
	err := cmd.Execute()
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	}
	return exitCode(err)
}
