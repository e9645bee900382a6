/*
 * Copyright 2022 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package structure

import (
    `context`
    `sync/atomic`

    `github.com/cloudwego/decaf/internal/graph`
    `github.com/cloudwego/decaf/internal/ucode`
    `github.com/cloudwego/decaf/internal/utils`
    `tlog.app/go/tlog`
)

var (
    IncompleteCount uint64 = 0
    DuplicateCount  uint64 = 0
)

// Outcome is the result of structuring one function. Root is only set
// when the whole function reduced to a single tree, otherwise Roots holds
// what is left (entry first) and Report explains why.
type Outcome struct {
    Root       *Node
    Roots      []*Node
    Incomplete bool
    Report     graph.Report
    CFG        *CFG
}

// Err converts an incomplete outcome into an error.
func (self Outcome) Err(name string) error {
    if !self.Incomplete {
        return nil
    }

    /* remaining roots and the loops that cannot be entered in one place */
    ids := make([]int, 0, len(self.Roots))
    loops := make([][]int, 0, len(self.Report.Loops))
    for _, n := range self.Roots {
        ids = append(ids, n.ID)
    }
    for _, v := range self.Report.Loops {
        loops = append(loops, v.Nodes)
    }
    return utils.EIncomplete(name, ids, loops)
}

// Structure reduces the control-flow graph of fn into a tree of structured
// constructs, duplicating at most budget return nodes along the way.
func Structure(ctx context.Context, fn *ucode.Function, budget int) Outcome {
    cfg := NewCFG(fn, budget)
    cfg.Reduce(ctx)

    /* the happy path */
    if len(cfg.Roots) == 1 {
        return Outcome {
            CFG   : cfg,
            Root  : cfg.node(cfg.Roots[0]),
            Roots : []*Node { cfg.node(cfg.Roots[0]) },
        }
    }

    /* record why the graph is stuck */
    atomic.AddUint64(&IncompleteCount, 1)
    return Outcome {
        CFG        : cfg,
        Roots      : cfg.ordered(),
        Incomplete : true,
        Report     : cfg.Report(),
    }
}

// Reduce applies the rules until a single root remains or none of them
// matches anymore. Every rule except duplication removes at least one
// root, and duplication is bounded by the budget, so this terminates.
func (self *CFG) Reduce(ctx context.Context) {
    tr := tlog.SpanFromContext(ctx)
    dups := self.Dups

    /* restart from the first rule after every change */
    for len(self.Roots) > 1 && self.step(tr) {
        if err := self.Check(); err != nil {
            panic(err)
        }
    }

    /* count the copies */
    if n := self.Dups - dups; n > 0 {
        atomic.AddUint64(&DuplicateCount, uint64(n))
    }
}

func (self *CFG) step(tr tlog.Span) bool {
    for _, r := range _Rules {
        for _, id := range append([]int(nil), self.Roots...) {
            n := self.node(id)
            if !r.apply(self, n) {
                continue
            }
            if tr.If("structure") {
                tr.Printw("reduced", "rule", r.name, "node", n.ID, "roots", len(self.Roots))
            }
            return true
        }
    }
    return false
}

// Report analyzes the graph formed by the remaining roots.
func (self *CFG) Report() graph.Report {
    nodes := make([]int, 0, len(self.Roots))
    nodes = append(nodes, self.Roots...)
    return graph.Analyze(self.Entry, nodes, func(id int) []int {
        return self.node(id).Succ
    })
}
