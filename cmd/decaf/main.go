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

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/cloudwego/decaf"
	"github.com/cloudwego/decaf/debug"
)

func main() {
	runCmd := &cli.Command{
		Name:        "run",
		Description: "decompile raw code files, one function per file",
		Action:      runAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("arch", "x86_64", "architecture of the code"),
			cli.NewFlag("base", "0x1000", "load address of the first byte"),
			cli.NewFlag("name", "", "function name, defaults to the file name"),
			cli.NewFlag("sigs", "", "comma separated declaration files"),
			cli.NewFlag("dot", "", "write the micro-code graph of the last function here"),
			cli.NewFlag("ir", false, "print blocks and micro-code too"),
			cli.NewFlag("stats", false, "print pipeline statistics at the end"),
		},
	}

	app := &cli.Command{
		Name:        "decaf",
		Description: "decaf turns machine code back into C and Objective-C",
		Commands: []*cli.Command{
			runCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func runAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	base, err := strconv.ParseUint(c.String("base"), 0, 64)
	if err != nil {
		return errors.Wrap(err, "parse base address")
	}

	o := []decaf.Option{decaf.WithArch(c.String("arch"))}
	if s := c.String("sigs"); s != "" {
		o = append(o, decaf.WithSignatures(strings.Split(s, ",")...))
	}

	last, failed := decompileAll(ctx, os.Stdout, os.Stderr, c.Args, c.String("name"), base, o, c.Bool("ir"))

	if p := c.String("dot"); p != "" && last != nil {
		if err = writeDOT(p, last); err != nil {
			return errors.Wrap(err, "write %v", p)
		}
	}

	if c.Bool("stats") {
		fmt.Printf("%+v\n", debug.GetStats())
	}

	if failed != 0 {
		return errors.New("%d of %d files failed", failed, len(c.Args))
	}

	return nil
}

// decompileAll prints every file it can decompile. A file that fails is
// reported on stderr and the rest still run.
func decompileAll(ctx context.Context, stdout, stderr io.Writer, files []string, name string, base uint64, o []decaf.Option, ir bool) (last *decaf.Result, failed int) {
	for _, a := range files {
		res, err := decompile(ctx, a, name, base, o)
		if res == nil {
			fmt.Fprintf(stderr, "%v: %v\n", a, err)
			failed++

			continue
		}

		if ir {
			fmt.Fprintf(stdout, "%s\n\n%s\n\n", res.Blocks, res.IR)
		}

		fmt.Fprintln(stdout, res.Text)

		/* incomplete functions are still printed */
		if err != nil {
			fmt.Fprintf(stderr, "%v: %v\n", a, err)
		}

		last = res
	}

	return last, failed
}

// decompile reads and decompiles one file. Panics are reported as errors
// of that file alone.
func decompile(ctx context.Context, file string, name string, base uint64, o []decaf.Option) (res *decaf.Result, err error) {
	code, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	}

	defer func() {
		if p := recover(); p != nil {
			res, err = nil, errors.New("panic: %v", p)
		}
	}()

	return decaf.Decompile(ctx, decaf.Function{Name: name, Addr: base, Code: code}, o...)
}

func writeDOT(path string, res *decaf.Result) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	defer func() {
		if e := f.Close(); err == nil {
			err = e
		}
	}()

	return res.WriteDOT(f)
}
