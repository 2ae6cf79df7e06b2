// Package idhash derives deterministic identifiers so that re-running the
// same work never creates divergent IDs.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"candle-lab/internal/domain"
)

// ComputeSpecID computes a deterministic spec_id from the canonical JSON
// form of a strategy spec. Returns hex-encoded SHA256 (64 characters).
// Two specs with equal parameters always hash to the same ID.
func ComputeSpecID(spec domain.StrategySpec) (string, error) {
	// encoding/json emits struct fields in declaration order, so the
	// encoding is canonical for a fixed StrategySpec shape.
	data, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("marshal strategy spec: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// ComputeResultID computes a deterministic identifier for one simulation
// result. Formula: SHA256(asset|spec_id|entry_timestamp).
func ComputeResultID(asset, specID string, entryTimestamp int64) string {
	data := fmt.Sprintf("%s|%s|%d", asset, specID, entryTimestamp)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeInputHash computes the input_hash recorded on an ingestion run
// manifest. Formula: SHA256(asset|chain|interval_seconds|source_desc).
func ComputeInputHash(asset, chain string, interval domain.Interval, sourceDesc string) string {
	data := fmt.Sprintf("%s|%s|%d|%s", asset, chain, interval.Seconds(), sourceDesc)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
