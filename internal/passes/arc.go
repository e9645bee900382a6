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

package passes

import (
    `github.com/cloudwego/decaf/internal/ucode`
)

type _ARCAction uint8

const (
    _ARCIdentity _ARCAction = iota
    _ARCDrop
    _ARCLoad
    _ARCStore
)

// reference counting entry points and what they amount to once ownership
// is not written out
var _ARCCalls = map[string]_ARCAction {
    "objc_retain"                             : _ARCIdentity,
    "objc_retainAutorelease"                  : _ARCIdentity,
    "objc_retainAutoreleaseReturnValue"       : _ARCIdentity,
    "objc_retainAutoreleasedReturnValue"      : _ARCIdentity,
    "objc_unsafeClaimAutoreleasedReturnValue" : _ARCIdentity,
    "objc_claimAutoreleasedReturnValue"       : _ARCIdentity,
    "objc_autorelease"                        : _ARCIdentity,
    "objc_autoreleaseReturnValue"             : _ARCIdentity,
    "objc_retainBlock"                        : _ARCIdentity,
    "objc_release"                            : _ARCDrop,
    "objc_destroyWeak"                        : _ARCDrop,
    "objc_loadWeakRetained"                   : _ARCLoad,
    "objc_loadWeak"                           : _ARCLoad,
    "objc_storeStrong"                        : _ARCStore,
    "objc_storeWeak"                          : _ARCStore,
    "objc_initWeak"                           : _ARCStore,
}

// ARC removes the calls automatic reference counting inserts, keeping the
// data movement they imply.
type ARC struct{}

func (self ARC) Apply(c *Context) bool {
    ret := false
    for _, cl := range c.Fn.Calls() {
        act, ok := _ARCCalls[calleeName(cl)]
        if !ok || !resolved(cl) {
            continue
        }
        if self.rewrite(c, cl, act) {
            ret = true
        }
    }
    return ret
}

func (self ARC) rewrite(c *Context, cl *ucode.Call, act _ARCAction) bool {
    fn := c.Fn
    ps := c.ptr()
    args := cl.Params

    /* "x = f(p)" means "x = p", "f(p)" means nothing */
    switch act {
        case _ARCIdentity: {
            if len(args) < 1 {
                return false
            } else if cl.D == nil {
                fn.Nopify(cl)
            } else {
                fn.ReplaceWith(cl, &ucode.Mov { Size: ps, S: args[0], D: cl.D })
            }
        }
        case _ARCDrop: {
            fn.Nopify(cl)
        }
        case _ARCLoad: {
            if len(args) < 1 {
                return false
            } else if cl.D == nil {
                fn.Nopify(cl)
            } else {
                fn.ReplaceWith(cl, &ucode.Load { Size: ps, Addr: args[0], D: cl.D })
            }
        }
        case _ARCStore: {
            if len(args) < 2 {
                return false
            }
            st := fn.ReplaceWith(cl, &ucode.Store { Size: ps, S: args[1], Addr: args[0] })
            if cl.D != nil {
                fn.InsertAfter(st, &ucode.Mov { Size: ps, S: args[1], D: cl.D })
            }
        }
    }
    return true
}
