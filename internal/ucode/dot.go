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

package ucode

import (
    `fmt`
    `html`
    `io`
    `strings`

    `github.com/oleiade/lane`
)

func dumpblock(b *Block) string {
    w := 0
    ins := make([]string, 0, len(b.Instrs))
    for _, v := range b.Instrs {
        ss := v.String()
        ins = append(ins, fmt.Sprintf("<tr><td align=\"left\">%s</td></tr>\n", strings.ReplaceAll(html.EscapeString(ss), " ", "&nbsp;")))
        if len(ss) > w {
            w = len(ss)
        }
    }
    buf := []string {
        "<table border=\"1\" cellborder=\"0\" cellspacing=\"0\">\n",
        fmt.Sprintf("<tr><td width=\"%d\">bb_%d (0x%x)</td></tr>\n", w * 10 + 5, b.ID, b.Addr),
    }
    if len(ins) != 0 {
        buf = append(buf, "<hr/>\n")
        buf = append(buf, ins...)
    }
    buf = append(buf, "</table>")
    return strings.Join(buf, "")
}

// WriteDOT renders the block graph reachable from the entry in Graphviz format.
func (self *Function) WriteDOT(w io.Writer) error {
    q := lane.NewQueue()
    n := make(map[int]bool)
    buf := []string {
        "digraph CFG {",
        `    xdotversion = "15"`,
        `    graph [ fontname = "Fira Code" ]`,
        `    node [ fontname = "Fira Code" fontsize="16" shape = "plaintext" ]`,
        `    edge [ fontname = "Fira Code" ]`,
        `    START [ shape = "circle" ]`,
        fmt.Sprintf(`    START -> bb_%d`, self.Entry),
    }

    /* breadth-first over the blocks */
    n[self.Entry] = true
    for q.Enqueue(self.Blocks[self.Entry]); !q.Empty(); {
        p := q.Dequeue().(*Block)
        buf = append(buf, fmt.Sprintf(`    bb_%d [ label = < %s > ]`, p.ID, dumpblock(p)))

        /* label the taken edge of conditional branches */
        taken := -1
        if br, ok := p.Last().(*Branch); ok {
            if t := self.BlockAt(br.Addr()); t != nil {
                taken = t.ID
            }
        }

        for _, s := range p.Succ {
            if !n[s] {
                n[s] = true
                q.Enqueue(self.Blocks[s])
            }
            switch {
                case len(p.Succ) == 1 : buf = append(buf, fmt.Sprintf(`    bb_%d -> bb_%d [ label = "goto" ]`, p.ID, s))
                case s == taken       : buf = append(buf, fmt.Sprintf(`    bb_%d -> bb_%d [ label = "taken" ]`, p.ID, s))
                default               : buf = append(buf, fmt.Sprintf(`    bb_%d -> bb_%d [ label = "otherwise" ]`, p.ID, s))
            }
        }
    }

    buf = append(buf, "}")
    _, err := io.WriteString(w, strings.Join(buf, "\n") + "\n")
    return err
}
