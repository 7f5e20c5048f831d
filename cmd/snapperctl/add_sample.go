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

// addSampleCmd loads a sample's variant positions into the VariantStore
// only; it does not compute a SNP address. Run cluster-sample afterward to
// admit the sample into the clustering (spec.md §4.1 vs §4.5 are separate
// steps so that bulk ingest and bulk clustering can run independently).
var addSampleCmd = &cobra.Command{
	Use:   "add-sample <variants.json> <sample-name>",
	Short: "Load one sample's variant positions into the store",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, name := args[0], args[1]

		a, err := openApp(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		doc, err := loadIngestDoc(path)
		if err != nil {
			return err
		}
		sets, err := toContigSets(cmd.Context(), a.vs, doc)
		if err != nil {
			return err
		}
		id, err := a.vs.PutSample(cmd.Context(), name, sets, toAnnotations(doc))
		if err != nil {
			return err
		}
		fmt.Printf("added sample %q (id %d); run cluster-sample to assign it an address\n", name, id)
		return nil
	},
}
