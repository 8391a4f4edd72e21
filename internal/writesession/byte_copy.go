// Copyright 2025 Google LLC
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

package writesession

// ByteCopyStrategy decides whether chunk payloads own their memory or alias
// the caller's slice.
type ByteCopyStrategy int

const (
	// CopyBytes copies every payload, so the caller may reuse its slice as soon
	// as a call returns.
	CopyBytes ByteCopyStrategy = iota
	// NoCopy aliases the caller's slice. The caller must not mutate it until
	// the call that handed it over has returned.
	NoCopy
)

func (s ByteCopyStrategy) apply(p []byte) []byte {
	if s == NoCopy {
		return p
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	return cp
}

func (s ByteCopyStrategy) String() string {
	if s == NoCopy {
		return "no-copy"
	}
	return "copy"
}
