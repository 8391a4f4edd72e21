// Copyright 2023 Google LLC
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

package storageutil

import (
	"errors"

	"cloud.google.com/go/storage"
	"github.com/googlecloudplatform/gcswrite/internal/storage/gcs"
	"google.golang.org/api/googleapi"
)

func ShouldRetry(err error) (b bool) {
	b = storage.ShouldRetry(err)
	if b {
		return
	}

	// HTTP 401 errors - Invalid Credentials. The token may have been refreshed
	// too late relative to the server clock.
	var typed *googleapi.Error
	if errors.As(err, &typed) && typed.Code == 401 {
		b = true
		return
	}

	// The server acknowledged fewer bytes than were sent; re-sending the same
	// requests completes the flush.
	var incomplete *gcs.IncompleteWriteError
	if errors.As(err, &incomplete) {
		b = true
		return
	}
	return
}
