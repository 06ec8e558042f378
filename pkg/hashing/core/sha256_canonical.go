package core

import (
	"crypto/sha256"
	"fmt"

	fasthex "github.com/tmthrgd/go-hex"
)

// CanonicalSHA256 provides the canonical Double SHA-256 implementation
// shared by header reconstruction and merkle folding.
type CanonicalSHA256 struct{}

// NewCanonicalSHA256 creates a new canonical SHA-256 instance
func NewCanonicalSHA256() *CanonicalSHA256 {
	return &CanonicalSHA256{}
}

// ComputeSHA256 computes a single SHA-256 hash
func (c *CanonicalSHA256) ComputeSHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// ComputeDoubleSHA256 computes SHA256(SHA256(data)) - Bitcoin's hash function
func (c *CanonicalSHA256) ComputeDoubleSHA256(data []byte) [32]byte {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// DoubleSHA256 is a package-level shortcut for the canonical double hash.
func DoubleSHA256(data []byte) [32]byte {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// ReverseBytes returns a reversed copy of b.
func ReverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}

// DecodeHexField decodes a hex string field. When size > 0 the decoded
// length must match exactly.
func DecodeHexField(field, value string, size int) ([]byte, error) {
	if len(value)%2 != 0 {
		return nil, &HashError{
			Type:    ErrorInvalidInput,
			Message: fmt.Sprintf("%s: odd hex length", field),
			Context: map[string]interface{}{
				"field": field,
				"value": value,
			},
		}
	}

	out := make([]byte, len(value)/2)
	if _, err := fasthex.Decode(out, []byte(value)); err != nil {
		return nil, &HashError{
			Type:    ErrorInvalidInput,
			Message: fmt.Sprintf("%s: %v", field, err),
			Context: map[string]interface{}{
				"field": field,
				"value": value,
			},
		}
	}

	if size > 0 && len(out) != size {
		return nil, &HashError{
			Type:    ErrorInvalidInput,
			Message: fmt.Sprintf("%s: expected %d bytes, got %d", field, size, len(out)),
			Context: map[string]interface{}{
				"field":    field,
				"expected": size,
				"actual":   len(out),
			},
		}
	}

	return out, nil
}

// EncodeHex returns the lowercase hex form of b.
func EncodeHex(b []byte) string {
	return fasthex.EncodeToString(b)
}

// HashError represents errors that can occur during hashing operations
type HashError struct {
	Type    ErrorType
	Message string
	Context map[string]interface{}
}

func (e *HashError) Error() string {
	return e.Message
}

// ErrorType represents different types of hashing errors
type ErrorType int

const (
	ErrorInvalidInput ErrorType = iota
	ErrorMissingContext
	ErrorOperationFailed
)

func (t ErrorType) String() string {
	switch t {
	case ErrorInvalidInput:
		return "invalid_input"
	case ErrorMissingContext:
		return "missing_context"
	case ErrorOperationFailed:
		return "operation_failed"
	default:
		return "unknown"
	}
}
