/*
 * Copyright 2021 ByteDance Inc.
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
    `github.com/cloudwego/decaf/internal/asm`
    `github.com/cloudwego/decaf/internal/utils`
)

type (
    // UnsupportedArchError occures when selecting an architecture with no
    // semantics layer.
    UnsupportedArchError = utils.UnsupportedArchError

    // DecodeError occures when a function has no code to decode.
    DecodeError = asm.DecodeError

    // IncompleteError occures when the control flow of a function could
    // not be reduced to structured constructs. The result is still
    // returned, rendered with labels and gotos.
    IncompleteError = utils.IncompleteError

    // SignatureError occures when a declaration file cannot be parsed.
    SignatureError = utils.SignatureError
)
