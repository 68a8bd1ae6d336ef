// Package serialization provides the JSON encoding helpers used for every
// document RORefCat persists: saved occurrence lists, job descriptors, mirror
// partitions and metadata shards. Decoding is strict: unknown fields are rejected.
package serialization

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/rorefcat/pkg/batch/support/util/logger"
)

const module = "serialization"

// Marshal serializes v as indented JSON. what names the document in error messages.
func Marshal(v interface{}, what string) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logger.Errorf("Failed to serialize %s: %v", what, err)
		return nil, exception.NewBatchError(module, "Failed to serialize "+what, err, false, false)
	}
	return append(data, '\n'), nil
}

// MarshalCompact serializes v as single-line JSON, suitable for log lines.
func MarshalCompact(v interface{}, what string) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Errorf("Failed to serialize %s: %v", what, err)
		return nil, exception.NewBatchError(module, "Failed to serialize "+what, err, false, false)
	}
	return data, nil
}

// Unmarshal strictly decodes data into v.
func Unmarshal(data []byte, v interface{}, what string) error {
	return Decode(bytes.NewReader(data), v, what)
}

// Decode strictly decodes one JSON document from r into v.
// Unknown fields and trailing data are errors.
func Decode(r io.Reader, v interface{}, what string) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		logger.Errorf("Failed to deserialize %s: %v", what, err)
		return exception.NewBatchError(module, "Failed to deserialize "+what, err, false, false)
	}
	if dec.More() {
		return exception.NewBatchErrorf(module, "Failed to deserialize %s: trailing data after document", what)
	}
	return nil
}
