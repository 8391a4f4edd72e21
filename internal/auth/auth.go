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

package auth

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	storagev1 "google.golang.org/api/storage/v1"
)

const UniverseDomainDefault = "googleapis.com"

// Uploads only need to create objects.
const scope = storagev1.DevstorageReadWriteScope

// Tokens are refreshed this long before they expire, so that one checked as
// valid here is still valid when the service sees it.
const earlyExpiry = 10 * time.Second

func getUniverseDomain(ctx context.Context, contents []byte) (string, error) {
	creds, err := google.CredentialsFromJSON(ctx, contents, scope)
	if err != nil {
		return "", fmt.Errorf("CredentialsFromJSON(): %w", err)
	}

	domain, err := creds.GetUniverseDomain()
	if err != nil {
		return "", fmt.Errorf("GetUniverseDomain(): %w", err)
	}
	return domain, nil
}

// newTokenSourceFromPath reads the service account key at path.
func newTokenSourceFromPath(ctx context.Context, path string) (oauth2.TokenSource, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ReadFile(%q): %w", path, err)
	}

	jwtConfig, err := google.JWTConfigFromJSON(contents, scope)
	if err != nil {
		return nil, fmt.Errorf("JWTConfigFromJSON: %w", err)
	}

	domain, err := getUniverseDomain(ctx, contents)
	if err != nil {
		return nil, err
	}

	// Outside the default universe token exchange is impossible; services
	// accept self-signed JWTs with scopes instead.
	if domain != UniverseDomainDefault {
		ts, err := google.JWTAccessTokenSourceWithScope(contents, scope)
		if err != nil {
			return nil, fmt.Errorf("JWTAccessTokenSourceWithScope: %w", err)
		}
		return ts, nil
	}
	return jwtConfig.TokenSource(ctx), nil
}

// GetTokenSource returns a token source for the storage API from the key
// file, or from application default credentials when keyFile is empty.
func GetTokenSource(ctx context.Context, keyFile string) (oauth2.TokenSource, error) {
	var tokenSrc oauth2.TokenSource
	var err error
	var method string

	if keyFile != "" {
		tokenSrc, err = newTokenSourceFromPath(ctx, keyFile)
		method = "newTokenSourceFromPath"
	} else {
		tokenSrc, err = google.DefaultTokenSource(ctx, scope)
		method = "DefaultTokenSource"
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return oauth2.ReuseTokenSourceWithExpiry(nil, tokenSrc, earlyExpiry), nil
}
