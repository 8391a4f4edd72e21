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

package storageutil

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/googlecloudplatform/gcswrite/internal/auth"
	"golang.org/x/oauth2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/credentials/oauth"
)

const urlSchemeSeparator = "://"

type ConnectionConfig struct {
	Endpoint  string
	UserAgent string
	KeyFile   string

	// AnonymousAccess sends no credentials over a plaintext connection. Only
	// useful against a local endpoint.
	AnonymousAccess bool
}

// DialOptions returns the transport and per-RPC credentials for config.
func DialOptions(ctx context.Context, config *ConnectionConfig) ([]grpc.DialOption, error) {
	opts := []grpc.DialOption{grpc.WithUserAgent(config.UserAgent)}
	if config.AnonymousAccess {
		return append(opts, grpc.WithTransportCredentials(insecure.NewCredentials())), nil
	}

	tokenSrc, err := CreateTokenSource(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("while fetching tokenSource: %w", err)
	}
	return append(opts,
		grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})),
		grpc.WithPerRPCCredentials(oauth.TokenSource{TokenSource: tokenSrc}),
	), nil
}

// NewClientConn opens a connection to the storage service. Dialing is lazy;
// errors of the endpoint itself surface on the first RPC.
func NewClientConn(ctx context.Context, config *ConnectionConfig) (*grpc.ClientConn, error) {
	opts, err := DialOptions(ctx, config)
	if err != nil {
		return nil, err
	}
	conn, err := grpc.NewClient(StripScheme(config.Endpoint), opts...)
	if err != nil {
		return nil, fmt.Errorf("NewClient(%q): %w", config.Endpoint, err)
	}
	return conn, nil
}

// CreateTokenSource returns a token source from the key file or ADC. With
// anonymous access it returns a static empty token.
func CreateTokenSource(ctx context.Context, config *ConnectionConfig) (oauth2.TokenSource, error) {
	if config.AnonymousAccess {
		return oauth2.StaticTokenSource(&oauth2.Token{}), nil
	}
	return auth.GetTokenSource(ctx, config.KeyFile)
}

// StripScheme strips the scheme part of given url.
func StripScheme(url string) string {
	if strings.Contains(url, urlSchemeSeparator) {
		url = strings.SplitN(url, urlSchemeSeparator, 2)[1]
	}
	return url
}
