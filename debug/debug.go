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

package debug

import (
	"sync/atomic"

	"github.com/cloudwego/decaf/internal/passes"
	"github.com/cloudwego/decaf/internal/pipeline"
	"github.com/cloudwego/decaf/internal/sema"
	"github.com/cloudwego/decaf/internal/sigdb"
	"github.com/cloudwego/decaf/internal/structure"
	"github.com/cloudwego/decaf/internal/synth"
)

// A Stats records statistics about the decompiler.
type Stats struct {
	Pipeline   PipelineStats
	Bounds     BoundStats
	Signatures CacheStats
}

// A PipelineStats records how functions went through the pipeline.
type PipelineStats struct {
	Functions  int
	Blocks     int
	Incomplete int
	Duplicated int
	Todos      int
}

// A BoundStats records how often a bounded loop stopped before reaching
// its fixpoint.
type BoundStats struct {
	Patterns   int
	Transforms int
}

// A CacheStats records statistics about the signature database cache.
type CacheStats struct {
	Hit  int
	Miss int
	Size int
}

// GetStats returns statistics of the decompiler.
func GetStats() Stats {
	return Stats{
		Pipeline: PipelineStats{
			Functions:  int(atomic.LoadUint64(&pipeline.FnCount)),
			Blocks:     int(atomic.LoadUint64(&pipeline.BlockCount)),
			Incomplete: int(atomic.LoadUint64(&structure.IncompleteCount)),
			Duplicated: int(atomic.LoadUint64(&structure.DuplicateCount)),
			Todos:      int(atomic.LoadUint64(&synth.TodoCount)),
		},
		Bounds: BoundStats{
			Patterns:   int(atomic.LoadUint64(&sema.BoundHits)),
			Transforms: int(atomic.LoadUint64(&passes.RoundBoundHits)),
		},
		Signatures: CacheStats{
			Hit:  int(atomic.LoadUint64(&sigdb.HitCount)),
			Miss: int(atomic.LoadUint64(&sigdb.MissCount)),
			Size: int(atomic.LoadUint64(&sigdb.EntryCount)),
		},
	}
}
