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

package graph

import (
    `sort`
    `strconv`
    `strings`
)

// Set is a sorted set of node indices.
type Set []int

func NewSet(v ...int) Set {
    var ret Set
    for _, x := range v {
        ret.Add(x)
    }
    return ret
}

func (self Set) search(v int) int {
    return sort.SearchInts(self, v)
}

func (self Set) Has(v int) bool {
    i := self.search(v)
    return i < len(self) && self[i] == v
}

func (self *Set) Add(v int) bool {
    s := *self
    i := s.search(v)

    /* already present */
    if i < len(s) && s[i] == v {
        return false
    }

    /* insert at position */
    s = append(s, 0)
    copy(s[i + 1:], s[i:])
    s[i] = v
    *self = s
    return true
}

func (self *Set) Remove(v int) bool {
    s := *self
    i := s.search(v)

    /* not present */
    if i >= len(s) || s[i] != v {
        return false
    }

    /* shift the tail */
    copy(s[i:], s[i + 1:])
    *self = s[:len(s) - 1]
    return true
}

func (self Set) Len() int {
    return len(self)
}

func (self Set) Clone() Set {
    return append(Set(nil), self...)
}

func (self Set) Equal(other Set) bool {
    if len(self) != len(other) {
        return false
    }
    for i, v := range self {
        if other[i] != v {
            return false
        }
    }
    return true
}

// Only returns the single element of a one-element set.
func (self Set) Only() int {
    if len(self) != 1 {
        panic("graph: set does not have exactly one element")
    } else {
        return self[0]
    }
}

func (self Set) Union(other Set) Set {
    ret := self.Clone()
    for _, v := range other {
        ret.Add(v)
    }
    return ret
}

func (self Set) Minus(other Set) Set {
    var ret Set
    for _, v := range self {
        if !other.Has(v) {
            ret = append(ret, v)
        }
    }
    return ret
}

func (self Set) Intersects(other Set) bool {
    for _, v := range self {
        if other.Has(v) {
            return true
        }
    }
    return false
}

func (self Set) String() string {
    buf := make([]string, 0, len(self))
    for _, v := range self {
        buf = append(buf, strconv.Itoa(v))
    }
    return "{" + strings.Join(buf, ", ") + "}"
}
