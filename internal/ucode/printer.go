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
    `strings`

    `github.com/davecgh/go-spew/spew`
)

// Line maps one line of a textual dump back to the object it shows.
type Line struct {
    Block *Block
    Instr Instr
}

// Dump renders the function as text along with the line-to-object map.
func (self *Function) Dump() (string, []Line) {
    var buf []string
    var lines []Line
    emit := func(s string, l Line) {
        buf = append(buf, s)
        lines = append(lines, l)
    }

    /* header */
    emit(fmt.Sprintf("; uCode for function %s", self.Name), Line{})
    emit("", Line{})

    /* every block with its instructions */
    for _, b := range self.Live() {
        emit(fmt.Sprintf("0x%x:", b.Addr), Line { Block: b })
        for _, ins := range b.Instrs {
            emit("    " + ins.String(), Line { Block: b, Instr: ins })
        }
        emit("", Line{})
    }
    return strings.Join(buf, "\n"), lines
}

// String returns the textual dump without the line map.
func (self *Function) String() string {
    s, _ := self.Dump()
    return s
}

var _SpewConfig = spew.ConfigState {
    Indent                  : "    ",
    DisableMethods          : false,
    DisablePointerAddresses : true,
    DisableCapacities       : true,
    SortKeys                : true,
    MaxDepth                : 4,
}

// Spew returns a structural dump of the function's frame and parameters.
func (self *Function) Spew() string {
    return _SpewConfig.Sdump(self.Frame, self.Inputs)
}
