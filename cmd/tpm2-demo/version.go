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
	"runtime"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.version=... -X main.gitCommit=...".
var (
	version   = "devel"
	gitCommit = ""
)

type versionInfo struct {
	Version   string
	GitCommit string
	GoVersion string
}

func newVersionCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "version",
		Args:  cobra.ExactArgs(0),
		Short: "Print the version",
		// The version needs neither configuration nor a logger.
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, _ []string) {
			v := versionInfo{Version: version, GitCommit: gitCommit, GoVersion: runtime.Version()}
			commit := v.GitCommit
			if len(commit) > 7 {
				commit = commit[:7]
			}
			if long, _ := cmd.Flags().GetBool("long"); long {
				fmt.Fprintf(cmd.OutOrStdout(), "%#v\n", v)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s+g%s\n", v.Version, commit)
			}
		},
	}
	c.Flags().Bool("long", false, "Show long version info")
	return c
}
