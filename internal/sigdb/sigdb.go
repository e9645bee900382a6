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

package sigdb

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/bytedance/gopkg/collection/skipmap"
	"github.com/bytedance/gopkg/util/xxhash3"
	"tlog.app/go/errors"

	"github.com/cloudwego/decaf/internal/types"
)

// Bump whenever parsing changes what a given text produces.
const _LoaderVersion = 2

const _MaxAliasDepth = 16

var (
	HitCount   uint64 = 0
	MissCount  uint64 = 0
	EntryCount uint64 = 0
)

//go:embed builtin.h
var builtin string

var cache = skipmap.NewUint64()

// Source is one header text and the name it is reported under.
type Source struct {
	Name string
	Text string
}

// DB maps function names to declarations. It never changes after Load
// returns, so lookups may run from any number of goroutines.
type DB struct {
	key     uint64
	decls   *skipmap.StringMap
	aliases *skipmap.StringMap
}

func keyOf(srcs []Source) uint64 {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(_LoaderVersion))

	for _, s := range srcs {
		sb.WriteByte(0)
		sb.WriteString(s.Name)
		sb.WriteByte(0)
		sb.WriteString(s.Text)
	}

	return xxhash3.HashString(sb.String())
}

// Load builds a database from the builtin declarations followed by srcs.
// A later declaration replaces an earlier one of the same name. Databases
// are cached by the hash of their inputs.
func Load(srcs ...Source) (*DB, error) {
	all := append([]Source{{Name: "builtin.h", Text: builtin}}, srcs...)
	key := keyOf(all)

	if v, ok := cache.Load(key); ok {
		atomic.AddUint64(&HitCount, 1)
		return v.(*DB), nil
	}

	db := &DB{
		key:     key,
		decls:   skipmap.NewString(),
		aliases: skipmap.NewString(),
	}

	for _, s := range all {
		h, err := parse(s.Name, s.Text)
		if err != nil {
			return nil, err
		}

		for _, d := range h.decls {
			db.decls.Store(d.Name, d)
		}

		for k, v := range h.aliases {
			db.aliases.Store(k, v)
		}
	}

	atomic.AddUint64(&MissCount, 1)
	if v, loaded := cache.LoadOrStore(key, db); loaded {
		return v.(*DB), nil
	}

	atomic.AddUint64(&EntryCount, uint64(db.decls.Len()))
	return db, nil
}

// LoadFiles reads extra headers from disk and loads them after the builtin ones.
func LoadFiles(paths ...string) (*DB, error) {
	srcs := make([]Source, 0, len(paths))
	for _, p := range paths {
		buf, err := os.ReadFile(p)
		if err != nil {
			return nil, errors.Wrap(err, "read signatures %v", p)
		}

		srcs = append(srcs, Source{Name: p, Text: string(buf)})
	}

	return Load(srcs...)
}

// Builtin returns the database of the embedded declarations.
func Builtin() *DB {
	db, err := Load()
	if err != nil {
		panic("sigdb: invalid builtin declarations: " + err.Error())
	}

	return db
}

func (db *DB) Key() uint64 { return db.key }
func (db *DB) Len() int    { return db.decls.Len() }

// Lookup finds a declaration by its C name, or by a symbol name carrying
// the leading underscore of Mach-O symbols.
func (db *DB) Lookup(name string) (*Decl, bool) {
	if v, ok := db.decls.Load(name); ok {
		return v.(*Decl), true
	}

	if strings.HasPrefix(name, "_") {
		if v, ok := db.decls.Load(name[1:]); ok {
			return v.(*Decl), true
		}
	}

	return nil, false
}

// Range calls fn for every declaration in name order.
func (db *DB) Range(fn func(d *Decl) bool) {
	db.decls.Range(func(_ string, v interface{}) bool {
		return fn(v.(*Decl))
	})
}

// Type resolves a spelling through the typedefs of the database and
// registers the alias with the type manager.
func (db *DB) Type(m *types.Manager, name string) *types.Type {
	return db.resolve(m, name, 0)
}

func (db *DB) resolve(m *types.Manager, name string, depth int) *types.Type {
	name = types.Normalize(name)
	if t, ok := m.Lookup(name); ok {
		return t
	}

	if v, ok := db.aliases.Load(name); ok && depth < _MaxAliasDepth {
		t := db.resolve(m, v.(string), depth+1)
		m.Define(name, t)
		return t
	}

	return m.Get(name)
}

// Signature returns the parameter and return types of a declared function.
func (db *DB) Signature(m *types.Manager, name string) ([]*types.Type, *types.Type, bool) {
	d, ok := db.Lookup(name)
	if !ok {
		return nil, nil, false
	}

	params := make([]*types.Type, len(d.Params))
	for i, p := range d.Params {
		params[i] = db.Type(m, p)
	}

	return params, db.Type(m, d.Ret), true
}
