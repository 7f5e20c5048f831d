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

	"github.com/spf13/cobra"
)

var bypassZScore bool

// clusterSampleCmd admits an already-ingested sample into the clustering
// (spec.md §4.5), computing its SNP address and committing whatever
// merges that address requires.
var clusterSampleCmd = &cobra.Command{
	Use:   "cluster-sample <sample-name>",
	Short: "Admit an ingested sample into the clustering",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		a, err := openApp(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		sample, err := a.vs.SampleByName(cmd.Context(), name)
		if err != nil {
			return err
		}
		result, err := a.registrar.Admit(cmd.Context(), sample.ID, bypassZScore)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\n", name, result.Address.String())
		for _, m := range result.Merges {
			fmt.Printf("  merged at level %d: %d <- %v\n", m.Level, m.Target, m.Sources)
		}
		return nil
	},
}

func init() {
	clusterSampleCmd.Flags().BoolVar(&bypassZScore, "bypass-zscore", false, "admit the sample even if it fails the z-score admissibility check")
}
