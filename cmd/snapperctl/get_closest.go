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

var closestK int

// getClosestCmd implements SPEC_FULL.md §C.1: print the k nearest samples
// to name, one "name\tdistance" row per line, ascending by distance, ties
// at the k-th place all included.
var getClosestCmd = &cobra.Command{
	Use:   "get-closest <sample-name>",
	Short: "Print the k nearest samples to a sample",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		a, err := openApp(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		ranked, err := a.query.KNearest(cmd.Context(), name, closestK)
		if err != nil {
			return err
		}
		for _, r := range ranked {
			target, err := a.vs.SampleByID(cmd.Context(), r.Target)
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%d\n", target.Name, r.Distance)
		}
		return nil
	},
}

func init() {
	getClosestCmd.Flags().IntVarP(&closestK, "k", "k", 10, "number of nearest neighbours to report")
}
