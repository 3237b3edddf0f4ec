// Package util provides shared utility functions.
package util

import (
	"fmt"
	"hash/fnv"
)

// Fingerprint returns a short, stable hash of a session description body so
// logs can show which description lineage a peer holds without printing SDP.
// The empty body maps to "-".
func Fingerprint(body string) string {
	if body == "" {
		return "-"
	}
	h := fnv.New32a()
	h.Write([]byte(body))
	return fmt.Sprintf("%08x", h.Sum32())
}
