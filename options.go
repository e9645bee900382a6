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

package decaf

import (
	"fmt"

	"github.com/cloudwego/decaf/internal/image"
	"github.com/cloudwego/decaf/internal/opts"
)

const (
	_DefaultArch = "x86_64"
)

// Option is the property setter function for a single Decompile call.
type Option func(*options)

type options struct {
	opts.Options
	arch string
	bin  *image.Binary
}

func newOptions(o []Option) *options {
	ret := &options{
		Options: opts.GetDefaultOptions(),
		arch:    _DefaultArch,
	}

	for _, fn := range o {
		fn(ret)
	}

	return ret
}

// WithArch selects the architecture of the code. Accepted names are
// "x86", "i386", "x86_64", "amd64", "aarch64", "arm64", "armv7" and "arm".
//
// The default value of this option is "x86_64".
func WithArch(arch string) Option {
	if arch == "" {
		panic("decaf: empty architecture name")
	} else {
		return func(o *options) { o.arch = arch }
	}
}

// WithBinary supplies the tables of the executable the function comes from:
// import stubs, symbols, string literals, Objective-C metadata and the
// known prototypes. Without it calls stay unnamed and constants stay numbers.
func WithBinary(bin *Binary) Option {
	return func(o *options) { o.bin = bin }
}

// WithSignatures adds declaration files to the builtin signature database.
// Later files override earlier ones.
func WithSignatures(files ...string) Option {
	return func(o *options) { o.Signatures = append(o.Signatures, files...) }
}

// WithMaxPatternRounds sets how many prologue and epilogue idioms are
// stripped from one function at most.
//
// The default value of this option is "10".
func WithMaxPatternRounds(rounds int) Option {
	if rounds <= 0 {
		panic(fmt.Sprintf("decaf: invalid pattern rounds: %d", rounds))
	} else {
		return func(o *options) { o.MaxPatternRounds = rounds }
	}
}

// WithMaxTransformRounds sets how many times the whole IR pass schedule
// runs before giving up on reaching a fixpoint. Hitting the bound is not
// an error, the function is just less simplified.
//
// The default value of this option is "16".
func WithMaxTransformRounds(rounds int) Option {
	if rounds <= 0 {
		panic(fmt.Sprintf("decaf: invalid transform rounds: %d", rounds))
	} else {
		return func(o *options) { o.MaxTransformRounds = rounds }
	}
}

// WithMaxDuplications sets how many exit nodes the structuring engine may
// clone to untangle one function.
//
// Set this option to "0" disables duplication entirely.
//
// The default value of this option is "64".
func WithMaxDuplications(n int) Option {
	if n < 0 {
		panic(fmt.Sprintf("decaf: invalid duplication budget: %d", n))
	} else {
		return func(o *options) { o.MaxDuplications = n }
	}
}

// SetMaxTransformRounds sets the default transform round bound for every
// call from now on.
//
// This value can also be configured with the `DECAF_MAX_TRANSFORM_ROUNDS`
// environment variable.
//
// Returns the old opts.MaxTransformRounds value.
func SetMaxTransformRounds(rounds int) int {
	rounds, opts.MaxTransformRounds = opts.MaxTransformRounds, rounds
	return rounds
}

// SetMaxDuplications sets the default duplication budget for every call
// from now on.
//
// This value can also be configured with the `DECAF_MAX_DUPLICATIONS`
// environment variable.
//
// Returns the old opts.MaxDuplications value.
func SetMaxDuplications(n int) int {
	n, opts.MaxDuplications = opts.MaxDuplications, n
	return n
}
