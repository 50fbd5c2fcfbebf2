// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package result

import (
	"fmt"

	"github.com/xlab/treeprint"

	"github.com/daviszhen/preagg/pkg/compute"
)

// Report renders the statistics of a run as a tree.
func Report(layout *compute.Layout, stats *compute.RunStats) string {
	tree := treeprint.NewWithRoot("PreAgg:")
	tree.AddMetaNode("layout", layout.String())
	counters := tree.AddBranch("Counters:")
	counters.AddMetaNode("rows", fmt.Sprintf("%d", stats.NItemsReal))
	counters.AddMetaNode("filtered", fmt.Sprintf("%d", stats.NItemsFiltered))
	counters.AddMetaNode("groups", fmt.Sprintf("%d", stats.NumGroups))
	counters.AddMetaNode("extra bytes", fmt.Sprintf("%d", stats.ExtraUsage))
	counters.AddMetaNode("drains", fmt.Sprintf("%d rows in %d", stats.DrainedRows, stats.Drains))
	launches := tree.AddBranch("Launches:")
	for i, info := range stats.Launches {
		branch := launches.AddMetaBranch(fmt.Sprintf("%d", i), info.Phase)
		branch.AddMetaNode("round", fmt.Sprintf("%d", info.Round))
		branch.AddMetaNode("grid", fmt.Sprintf("%d", info.Grid))
		branch.AddMetaNode("units", fmt.Sprintf("%d", info.Units))
		if info.Suspended != 0 {
			branch.AddMetaNode("suspended", fmt.Sprintf("%d", info.Suspended))
		}
		if info.Modified {
			branch.AddNode("final buffer modified")
		}
		branch.AddMetaNode("time", info.Duration.String())
	}
	return tree.String()
}
