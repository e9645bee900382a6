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

package pipeline

import (
	"strings"

	"github.com/cloudwego/decaf/internal/image"
	"github.com/cloudwego/decaf/internal/sema"
	"github.com/cloudwego/decaf/internal/session"
	"github.com/cloudwego/decaf/internal/types"
	"github.com/cloudwego/decaf/internal/ucode"
)

// prototype is what is known about the parameters and the return value of
// the function being decompiled.
type prototype struct {
	params []*types.Type
	names  []string
	ret    *types.Type
	method *image.Method
}

// signature looks the function up in the binary tables, then in the
// signature database. Methods without a declaration take an object per
// selector part, block invoke functions take their own literal.
func signature(sess *session.Session, in Input, invoke bool) prototype {
	tm := sess.Types
	ret := prototype{ret: tm.Long()}

	if f := sess.Binary.FuncAt(in.Addr); f != nil {
		ret.method = f.Method
	}

	params, rt, ok := sess.Signature(in.Name)
	if !ok {
		params, rt, ok = sess.Signature(image.StripUnderscore(in.Name))
	}

	switch {
	case ok:
		ret.params, ret.ret = params, rt
	case ret.method != nil:
		ret.params = []*types.Type{tm.ID(), tm.Get("SEL")}
		for i := strings.Count(ret.method.Selector, ":"); i > 0; i-- {
			ret.params = append(ret.params, tm.ID())
		}
	case invoke:
		ret.params = []*types.Type{tm.VoidPtr()}
		ret.names = []string{"block"}
		ret.ret = tm.Void()
	}

	/* trailing variadic markers take no slot of their own */
	if n := len(ret.params); n != 0 && ret.params[n-1].IsVariadic() {
		ret.params = ret.params[:n-1]
	}

	if ret.ret == nil {
		ret.ret = tm.Long()
	}

	return ret
}

// inputs places the parameters in their ABI locations. Only register
// parameters get a register; stack parameters are reached through frame
// slots.
func (p prototype) inputs(fn *ucode.Function, sem sema.Semantics) []ucode.Param {
	locs := sem.InputArgLocations(p.params)
	ret := make([]ucode.Param, 0, len(locs))

	for i, loc := range locs {
		v := ucode.Param{Loc: loc, Type: p.params[i]}

		if i < len(p.names) {
			v.Name = p.names[i]
		}

		if !loc.Stack && !loc.None {
			v.Reg = fn.Native(loc.Reg, loc.Size)
		}

		ret = append(ret, v)
	}

	return ret
}
