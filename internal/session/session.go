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

package session

import (
	"tlog.app/go/errors"

	"github.com/cloudwego/decaf/internal/image"
	"github.com/cloudwego/decaf/internal/opts"
	"github.com/cloudwego/decaf/internal/sema"
	"github.com/cloudwego/decaf/internal/sigdb"
	"github.com/cloudwego/decaf/internal/types"
)

// Session is the state shared by every function analyzed against one
// binary: the type registry, the architecture, the binary tables and the
// signature database. Nothing in here is process-wide, so two sessions
// never observe each other.
type Session struct {
	Arch    string
	Types   *types.Manager
	Sema    sema.Semantics
	Sigs    *sigdb.DB
	Binary  *image.Binary
	Options opts.Options
}

// New prepares a session. A nil binary is replaced with empty tables.
func New(arch string, bin *image.Binary, o opts.Options) (*Session, error) {
	if bin == nil {
		bin = image.New(arch)
	}

	sem, err := sema.New(arch, bin)
	if err != nil {
		return nil, err
	}

	db, err := sigdb.LoadFiles(o.Signatures...)
	if err != nil {
		return nil, errors.Wrap(err, "load signatures")
	}

	return &Session{
		Arch:    sem.Name(),
		Types:   types.NewManager(sem.PointerSize()),
		Sema:    sem,
		Sigs:    db,
		Binary:  bin,
		Options: o,
	}, nil
}

func (s *Session) PointerSize() int {
	return s.Sema.PointerSize()
}

// Type resolves a C spelling through the signature database typedefs.
func (s *Session) Type(name string) *types.Type {
	return s.Sigs.Type(s.Types, name)
}

// Signature returns the declared prototype of a symbol. The function table
// of the binary wins over the signature database.
func (s *Session) Signature(sym string) ([]*types.Type, *types.Type, bool) {
	if f := s.Binary.FuncNamed(sym); f != nil && (f.ParamTypes != nil || f.RetType != nil) {
		ret := f.RetType
		if ret == nil {
			ret = s.Types.Long()
		}

		return f.ParamTypes, ret, true
	}

	return s.Sigs.Signature(s.Types, sym)
}
