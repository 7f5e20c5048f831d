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

package main

import (
	"fmt"

	"github.com/grailbio/snapper/remover"
	"github.com/grailbio/snapper/snaperr"
	"github.com/spf13/cobra"
)

var removeMode string

// removeSampleCmd takes a sample out of the clustering per one of
// remover.Mode's three finalisation modes (spec.md §4.7).
var removeSampleCmd = &cobra.Command{
	Use:   "remove-sample <sample-name>",
	Short: "Remove a sample from the clustering (ignore, known-outlier, or hard-delete)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		mode, err := parseMode(removeMode)
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		sample, err := a.vs.SampleByName(cmd.Context(), name)
		if err != nil {
			return err
		}
		result, err := a.remover.Remove(cmd.Context(), sample.ID, mode)
		if err != nil {
			return err
		}
		fmt.Printf("removed %q (%s)\n", name, removeMode)
		for _, s := range result.Splits {
			fmt.Printf("  split at level %d: %d retained, %d new group(s)\n", s.Level, s.RetainedID, len(s.NewGroups))
		}
		return nil
	},
}

func parseMode(s string) (remover.Mode, error) {
	switch s {
	case "ignore":
		return remover.ModeIgnore, nil
	case "known-outlier":
		return remover.ModeKnownOutlier, nil
	case "hard-delete":
		return remover.ModeHardDelete, nil
	default:
		return 0, snaperr.E(snaperr.Input, "unknown --mode", s, "(want ignore, known-outlier, or hard-delete)")
	}
}

func init() {
	removeSampleCmd.Flags().StringVar(&removeMode, "mode", "ignore", "removal mode: ignore, known-outlier, or hard-delete")
}
