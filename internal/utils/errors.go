/*
 * Copyright 2022 CloudWeGo Authors
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

package utils

import (
    `fmt`
    `strings`
)

// UnsupportedArchError occures when selecting an architecture with no
// semantics layer.
type UnsupportedArchError struct {
    Arch string
}

func (self UnsupportedArchError) Error() string {
    return fmt.Sprintf("UnsupportedArchError(%q): no semantics for this architecture", self.Arch)
}

// IncompleteError reports a function whose control flow could not be
// reduced to a single structured tree.
type IncompleteError struct {
    Name  string
    Roots []int
    Loops [][]int
}

func (self IncompleteError) Error() string {
    buf := make([]string, 0, len(self.Loops))
    for _, v := range self.Loops {
        buf = append(buf, fmt.Sprint(v))
    }
    if len(buf) == 0 {
        return fmt.Sprintf("IncompleteError(%s): %d roots left unstructured", self.Name, len(self.Roots))
    } else {
        return fmt.Sprintf("IncompleteError(%s): %d roots left unstructured, multi-entry loops %s", self.Name, len(self.Roots), strings.Join(buf, " "))
    }
}

// SignatureError occures when a declaration cannot be parsed.
type SignatureError struct {
    File   string
    Line   int
    Reason string
}

func (self SignatureError) Error() string {
    return fmt.Sprintf("Syntax error at %s:%d: %s", self.File, self.Line, self.Reason)
}

func EArch(arch string) UnsupportedArchError {
    return UnsupportedArchError { Arch: arch }
}

func EIncomplete(name string, roots []int, loops [][]int) IncompleteError {
    return IncompleteError {
        Name  : name,
        Roots : roots,
        Loops : loops,
    }
}

func ESignature(file string, line int, reason string) SignatureError {
    return SignatureError {
        File   : file,
        Line   : line,
        Reason : reason,
    }
}

func ENoParen(file string, line int, decl string) SignatureError {
    return ESignature(file, line, fmt.Sprintf("missing parameter list in %q", decl))
}
