/*
 * Copyright 2024 CloudWeGo Authors
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

package image

import (
	"sort"
	"strings"

	"github.com/cloudwego/decaf/internal/types"
)

// Prefixes of the symbols given to constants that name Objective-C
// metadata and string literals.
const (
	SelectorPrefix = "_OBJC_SELECTOR_$_"
	ClassPrefix    = "_OBJC_CLASS_$_"
	IvarPrefix     = "_OBJC_IVAR_$_"
	CFStringPrefix = "_OBJC_CFSTRING_$_"
	CStringPrefix  = "_CSTRING_$_"
)

// Method describes an Objective-C method implementation.
type Method struct {
	Class    string
	Selector string
	Static   bool
}

// Func is the container-level knowledge about one function.
type Func struct {
	Name       string
	Addr       uint64
	Size       uint64
	ParamTypes []*types.Type
	RetType    *types.Type
	Method     *Method

	// Code is the instruction bytes, when the container reader supplied
	// them. Block invoke functions are only embedded when it did.
	Code []byte
}

// Binary holds the tables extracted from an executable container. Every
// table is keyed by virtual address.
type Binary struct {
	Arch      string
	Functions map[uint64]*Func
	Stubs     map[uint64]string
	Symbols   map[uint64]string
	Strings   map[uint64]string
	CFStrings map[uint64]string
	Selectors map[uint64]string
	ClassRefs map[uint64]string
	Ivars     map[uint64]string
	Data      map[uint64]uint64

	// JumpTables maps the address of a computed jump to its targets.
	JumpTables map[uint64][]uint64
}

func New(arch string) *Binary {
	return &Binary{
		Arch:      arch,
		Functions: make(map[uint64]*Func),
		Stubs:     make(map[uint64]string),
		Symbols:   make(map[uint64]string),
		Strings:   make(map[uint64]string),
		CFStrings: make(map[uint64]string),
		Selectors: make(map[uint64]string),
		ClassRefs: make(map[uint64]string),
		Ivars:     make(map[uint64]string),
		Data:      make(map[uint64]uint64),

		JumpTables: make(map[uint64][]uint64),
	}
}

// StubNamed returns the address of the import stub with the given symbol.
func (b *Binary) StubNamed(name string) (uint64, bool) {
	for addr, v := range b.Stubs {
		if v == name {
			return addr, true
		}
	}

	return 0, false
}

// FuncAt returns the function starting at addr.
func (b *Binary) FuncAt(addr uint64) *Func {
	return b.Functions[addr]
}

// FuncNamed returns the function with the given name.
func (b *Binary) FuncNamed(name string) *Func {
	for _, f := range b.Functions {
		if f.Name == name {
			return f
		}
	}

	return nil
}

// SortedFuncs returns all functions by address.
func (b *Binary) SortedFuncs() []*Func {
	ret := make([]*Func, 0, len(b.Functions))
	for _, f := range b.Functions {
		ret = append(ret, f)
	}

	sort.Slice(ret, func(i, j int) bool { return ret[i].Addr < ret[j].Addr })

	return ret
}

// Symbol names an address using every table, in decreasing specificity.
func (b *Binary) Symbol(addr uint64) (string, bool) {
	if v, ok := b.Stubs[addr]; ok {
		return v, true
	}

	if f, ok := b.Functions[addr]; ok {
		return f.Name, true
	}

	if v, ok := b.Selectors[addr]; ok {
		return SelectorPrefix + v, true
	}

	if v, ok := b.ClassRefs[addr]; ok {
		return ClassPrefix + v, true
	}

	if v, ok := b.Ivars[addr]; ok {
		return IvarPrefix + v, true
	}

	if v, ok := b.Symbols[addr]; ok {
		return v, true
	}

	return "", false
}

// StripUnderscore turns a linker symbol into its C name.
func StripUnderscore(sym string) string {
	return strings.TrimPrefix(sym, "_")
}

// Literal names the string literal stored at addr, if any.
func (b *Binary) Literal(addr uint64) (string, bool) {
	if v, ok := b.CFStrings[addr]; ok {
		return CFStringPrefix + v, true
	}

	if v, ok := b.Strings[addr]; ok {
		return CStringPrefix + v, true
	}

	return "", false
}

// SplitSymbol separates a decorated symbol into its prefix and payload.
// Plain symbols have an empty prefix.
func SplitSymbol(sym string) (string, string) {
	for _, p := range []string{SelectorPrefix, ClassPrefix, IvarPrefix, CFStringPrefix, CStringPrefix} {
		if strings.HasPrefix(sym, p) {
			return p, sym[len(p):]
		}
	}

	return "", sym
}
