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

package cfg

import (
	"gopkg.in/yaml.v3"
)

// DefaultLogRotateConfig returns the log-rotate defaults of the flags.
func DefaultLogRotateConfig() LogRotateLoggingConfig {
	return LogRotateLoggingConfig{
		BackupFileCount: 10,
		Compress:        true,
		MaxFileSizeMb:   512,
	}
}

// IsThrottled reports whether uploads are bandwidth limited.
func IsThrottled(c *Config) bool {
	return c.Upload.LimitBytesPerSec != -1
}

// Marshal renders config as the yaml a --config-file accepts.
func Marshal(c *Config) ([]byte, error) {
	return yaml.Marshal(c)
}
