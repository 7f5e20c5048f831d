// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command snapperctl operates the SNP-address clustering store described
// by spec.md: adding samples, clustering them, removing them, and
// answering nearest-neighbour and history queries against a Postgres-
// backed store.DB.
package main

import (
	"fmt"
	"os"

	"github.com/grailbio/snapper/snaperr"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "snapperctl:", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a subcommand's returned error to a process exit code
// per spec.md §6: 0 on success (never reached here, since Execute only
// returns non-nil on failure), 1 for validation/admissibility failures
// and 2 for everything else. Errors that never touched a snaperr
// boundary (cobra usage errors, flag parsing) fall into the "everything
// else" bucket via snaperr.ExitCode's default case.
func exitCodeFor(err error) int {
	if code := snaperr.ExitCode(err); code != 0 {
		return code
	}
	return 2
}

var rootCmd = &cobra.Command{
	Use:           "snapperctl",
	Short:         "Operate the SNP-address bacterial genome clustering store",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (defaults to the built-in configuration)")

	rootCmd.AddCommand(addSampleCmd)
	rootCmd.AddCommand(clusterSampleCmd)
	rootCmd.AddCommand(removeSampleCmd)
	rootCmd.AddCommand(getClosestCmd)
	rootCmd.AddCommand(getHistoryCmd)
}
