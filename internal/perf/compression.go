// Artificer - Distributed Artifact Persistence and Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/artificer

package perf

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
)

// Compress gzips content and returns it base64-encoded, so compressed bytes
// can travel through the same string content column and JSON payloads as raw
// content.
func Compress(content string) (string, error) {
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return "", fmt.Errorf("gzip writer: %w", err)
	}
	if _, err := gw.Write([]byte(content)); err != nil {
		return "", fmt.Errorf("gzip write: %w", err)
	}
	if err := gw.Close(); err != nil {
		return "", fmt.Errorf("gzip close: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decompress reverses Compress. It fails on undecodable base64 or a corrupt
// gzip stream, which consistency scans report as corrupted content.
func Decompress(encoded string) (string, error) {
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode compressed content: %w", err)
	}
	gr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return "", fmt.Errorf("gzip reader: %w", err)
	}
	defer gr.Close()

	raw, err := io.ReadAll(gr)
	if err != nil {
		return "", fmt.Errorf("gzip read: %w", err)
	}
	return string(raw), nil
}
