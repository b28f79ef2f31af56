// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package trace holds the in-memory decision record for one pipeline run:
// the Trace aggregate with its stages, decisions and iterations, context
// binding for the active trace, and the no-op sentinel used when tracing
// is disabled.
//
// Recording is deliberately forgiving. Mutators never return errors,
// never block on I/O, and tolerate missing fields; a pipeline run must
// complete or fail for its own reasons, never because of tracing.
package trace
