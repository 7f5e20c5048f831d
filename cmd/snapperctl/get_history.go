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

// getHistoryCmd implements SPEC_FULL.md §C.2: print every recorded rename
// for a sample, oldest first, as "timestamp\told-address\tnew-address".
var getHistoryCmd = &cobra.Command{
	Use:   "get-history <sample-name>",
	Short: "Print every recorded cluster-id rename for a sample",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		a, err := openApp(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.query.History(cmd.Context(), name)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s\t%s\t%s\n", e.RenamedAt.Format("2006-01-02T15:04:05Z07:00"), e.Old.String(), e.New.String())
		}
		return nil
	},
}
