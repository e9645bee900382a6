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

package types

import (
	"strings"
	"sync"
)

type Kind uint8

const (
	Void Kind = iota
	Integer
	Float
	Pointer
	Struct
	Object
	Variadic
)

var kindNames = [...]string{
	Void:     "void",
	Integer:  "integer",
	Float:    "float",
	Pointer:  "pointer",
	Struct:   "struct",
	Object:   "object",
	Variadic: "variadic",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}

	return "invalid"
}

// Field is one member of a struct type.
type Field struct {
	Name   string
	Offset int
	Type   *Type
}

type Type struct {
	Kind   Kind
	Name   string
	Size   int
	Signed bool
	Elem   *Type
	Fields []Field
}

func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}

	return t.Name
}

func (t *Type) IsVoid() bool     { return t == nil || t.Kind == Void }
func (t *Type) IsFloat() bool    { return t != nil && t.Kind == Float }
func (t *Type) IsVariadic() bool { return t != nil && t.Kind == Variadic }

// IsPointerLike reports types that are passed the same way as pointers.
func (t *Type) IsPointerLike() bool {
	return t != nil && (t.Kind == Pointer || t.Kind == Object)
}

// FieldAt returns the member at a byte offset of a struct type.
func (t *Type) FieldAt(off int) (Field, bool) {
	if t == nil || t.Kind != Struct {
		return Field{}, false
	}

	for _, f := range t.Fields {
		if f.Offset == off {
			return f, true
		}
	}

	return Field{}, false
}

// Manager interns types by name. One manager belongs to one analysis session,
// so identical names always yield identical *Type values within the session.
type Manager struct {
	mu      sync.RWMutex
	ptrSize int
	types   map[string]*Type
}

func NewManager(ptrSize int) *Manager {
	m := &Manager{
		ptrSize: ptrSize,
		types:   make(map[string]*Type),
	}

	m.add(&Type{Kind: Void, Name: "void"})
	m.add(&Type{Kind: Variadic, Name: "..."})
	m.add(&Type{Kind: Integer, Name: "BOOL", Size: 1, Signed: true})
	m.add(&Type{Kind: Integer, Name: "char", Size: 1, Signed: true})
	m.add(&Type{Kind: Integer, Name: "unsigned char", Size: 1})
	m.add(&Type{Kind: Integer, Name: "short", Size: 2, Signed: true})
	m.add(&Type{Kind: Integer, Name: "unsigned short", Size: 2})
	m.add(&Type{Kind: Integer, Name: "int", Size: 4, Signed: true})
	m.add(&Type{Kind: Integer, Name: "unsigned int", Size: 4})
	m.add(&Type{Kind: Integer, Name: "long", Size: ptrSize, Signed: true})
	m.add(&Type{Kind: Integer, Name: "unsigned long", Size: ptrSize})
	m.add(&Type{Kind: Integer, Name: "long long", Size: 8, Signed: true})
	m.add(&Type{Kind: Integer, Name: "unsigned long long", Size: 8})
	m.add(&Type{Kind: Float, Name: "float", Size: 4})
	m.add(&Type{Kind: Float, Name: "double", Size: 8})
	m.add(&Type{Kind: Pointer, Name: "void *", Size: ptrSize, Elem: m.types["void"]})
	m.add(&Type{Kind: Pointer, Name: "char *", Size: ptrSize, Elem: m.types["char"]})
	m.add(&Type{Kind: Pointer, Name: "SEL", Size: ptrSize, Elem: m.types["char"]})
	m.add(&Type{Kind: Object, Name: "id", Size: ptrSize})

	return m
}

func (m *Manager) add(t *Type) *Type {
	m.types[t.Name] = t
	return t
}

func (m *Manager) PointerSize() int {
	return m.ptrSize
}

func (m *Manager) Void() *Type     { return m.Get("void") }
func (m *Manager) Long() *Type     { return m.Get("long") }
func (m *Manager) Bool() *Type     { return m.Get("BOOL") }
func (m *Manager) ID() *Type       { return m.Get("id") }
func (m *Manager) VoidPtr() *Type  { return m.Get("void *") }
func (m *Manager) Variadic() *Type { return m.Get("...") }

// Get returns the type with the given C spelling. Qualifiers are ignored,
// pointers to anything but char collapse to "void *", unknown names become
// pointer-sized integers registered under that name.
func (m *Manager) Get(name string) *Type {
	name = Normalize(name)

	m.mu.RLock()
	t, ok := m.types[name]
	m.mu.RUnlock()

	if ok {
		return t
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok = m.types[name]; ok {
		return t
	}

	if strings.HasSuffix(name, "*") {
		return m.types["void *"]
	}

	return m.add(&Type{Kind: Integer, Name: name, Size: m.ptrSize, Signed: true})
}

// Lookup returns an already known type without registering anything.
func (m *Manager) Lookup(name string) (*Type, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.types[Normalize(name)]
	return t, ok
}

// Define registers an alias, as introduced by a typedef.
func (m *Manager) Define(name string, t *Type) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = Normalize(name)
	if _, ok := m.types[name]; !ok {
		m.types[name] = t
	}
}

// DefineStruct registers a struct type with the given members.
func (m *Manager) DefineStruct(name string, size int, fields []Field) *Type {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.add(&Type{Kind: Struct, Name: Normalize(name), Size: size, Fields: fields})
}

var qualifiers = []string{"const", "volatile", "restrict", "__restrict", "signed", "struct", "enum", "register"}

// Normalize canonicalizes a C type spelling: qualifiers dropped, pointer
// stars separated by a single space.
func Normalize(name string) string {
	stars := strings.Count(name, "*")
	name = strings.ReplaceAll(name, "*", " ")

	var words []string
	for _, w := range strings.Fields(name) {
		skip := false
		for _, q := range qualifiers {
			if w == q {
				skip = true
				break
			}
		}

		if !skip {
			words = append(words, w)
		}
	}

	/* "long int" is "long" */
	if len(words) > 1 && words[len(words)-1] == "int" {
		words = words[:len(words)-1]
	}

	ret := strings.Join(words, " ")
	if ret == "unsigned" {
		ret = "unsigned int"
	}

	if stars > 0 {
		ret += " " + strings.Repeat("*", stars)
	}

	return ret
}
