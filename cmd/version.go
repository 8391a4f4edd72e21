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

package cmd

import (
	"fmt"
	"runtime"
)

// Set with `-ldflags -X github.com/googlecloudplatform/gcswrite/cmd.gcswriteVersion=1.2.3`.
var gcswriteVersion string

func getVersion() string {
	v := gcswriteVersion
	if v == "" {
		v = "unknown"
	}

	return fmt.Sprintf("%s (Go version %s)", v, runtime.Version())
}

// userAgent is sent on every RPC.
func userAgent(appName string) string {
	ua := "gcswrite/" + gcswriteVersion
	if gcswriteVersion == "" {
		ua = "gcswrite/unknown"
	}
	if appName != "" {
		ua += " " + appName
	}
	return ua
}
