// Copyright 2024 The dtasm-go Authors
// This file is part of dtasm-go.
//
// dtasm-go is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// dtasm-go is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with dtasm-go. If not, see <http://www.gnu.org/licenses/>.

// Package modulesrc resolves the --input flag to bytecode bytes,
// whether it names a local file or an s3://bucket/key object.
package modulesrc

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dtasm/dtasm-go/dtasm"
	"github.com/dtasm/dtasm-go/log"
)

// Resolve returns the bytecode bytes named by src: a local filesystem
// path, or an s3://bucket/key URI.
func Resolve(ctx context.Context, src string) ([]byte, error) {
	if bucket, key, ok := parseS3URI(src); ok {
		return resolveS3(ctx, bucket, key)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, dtasm.Transport(err)
	}
	return data, nil
}

func parseS3URI(src string) (bucket, key string, ok bool) {
	const prefix = "s3://"
	if !strings.HasPrefix(src, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(src, prefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func resolveS3(ctx context.Context, bucket, key string) ([]byte, error) {
	logger := log.New("component", "modulesrc")
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, dtasm.Transport(fmt.Errorf("loading AWS config: %w", err))
	}
	client := s3.NewFromConfig(cfg)

	logger.Info("fetching module from s3", "bucket", bucket, "key", key)
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, dtasm.Transport(fmt.Errorf("s3 GetObject %s/%s: %w", bucket, key, err))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, dtasm.Transport(err)
	}
	logger.Debug("fetched module", "bytes", len(data))
	return data, nil
}
