package hardware

import (
	"fmt"
	"strings"
	"time"

	"chimera/pkg/hashing/core"
)

// Header layout (80 bytes), offsets into the serialized block header.
const (
	HeaderSize       = 80
	versionOffset    = 0
	prevHashOffset   = 4
	merkleRootOffset = 36
	nTimeOffset      = 68
	nBitsOffset      = 72
	nonceOffset      = 76
)

// Fixed structural fields handed to every device. They are chosen to let
// every ASIC solution through, not to describe a real chain.
const (
	BlockVersion = "20000000"
	NBitsDiff1   = "1d00ffff"
	Coinbase2    = "0000"
)

// ZeroPrevHash is the placeholder previous-block hash.
var ZeroPrevHash = strings.Repeat("0", 64)

// JobContext is the set of hex fields a mining.notify carried. Reconstruction
// needs the exact values the device hashed against.
type JobContext struct {
	JobID        string    `json:"job_id"`
	PrevHash     string    `json:"prevhash"`
	Coinbase1    string    `json:"coinb1"`
	Coinbase2    string    `json:"coinb2"`
	MerkleBranch []string  `json:"merkle_branch"`
	Version      string    `json:"version"`
	NBits        string    `json:"nbits"`
	NTime        string    `json:"ntime"`
	CleanJobs    bool      `json:"clean_jobs"`
	Seed         string    `json:"seed"`
	IssuedAt     time.Time `json:"issued_at"`
}

// NotifyParams renders the context in mining.notify parameter order.
func (j JobContext) NotifyParams() []interface{} {
	branch := j.MerkleBranch
	if branch == nil {
		branch = []string{}
	}
	return []interface{}{
		j.JobID,
		j.PrevHash,
		j.Coinbase1,
		j.Coinbase2,
		branch,
		j.Version,
		j.NBits,
		j.NTime,
		j.CleanJobs,
	}
}

// AssembleHeader builds the 80-byte header from wire-order fields. Every
// field except the merkle root arrives in hex-string order and is reversed
// into the little-endian layout the device hashes.
func AssembleHeader(version, prevHash []byte, merkleRoot [32]byte, nTime, nBits, nonce []byte) ([]byte, error) {
	for _, f := range []struct {
		name string
		b    []byte
		size int
	}{
		{"version", version, 4},
		{"prevhash", prevHash, 32},
		{"ntime", nTime, 4},
		{"nbits", nBits, 4},
		{"nonce", nonce, 4},
	} {
		if len(f.b) != f.size {
			return nil, &core.HashError{
				Type:    core.ErrorInvalidInput,
				Message: fmt.Sprintf("%s must be %d bytes, got %d", f.name, f.size, len(f.b)),
				Context: map[string]interface{}{"field": f.name},
			}
		}
	}

	header := make([]byte, HeaderSize)
	copy(header[versionOffset:], core.ReverseBytes(version))
	copy(header[prevHashOffset:], core.ReverseBytes(prevHash))
	copy(header[merkleRootOffset:], merkleRoot[:])
	copy(header[nTimeOffset:], core.ReverseBytes(nTime))
	copy(header[nBitsOffset:], core.ReverseBytes(nBits))
	copy(header[nonceOffset:], core.ReverseBytes(nonce))
	return header, nil
}

// HeaderHash double-hashes a serialized header and returns it in display
// (byte-reversed) order.
func HeaderHash(header []byte) ([32]byte, error) {
	if len(header) != HeaderSize {
		return [32]byte{}, &core.HashError{
			Type:    core.ErrorInvalidInput,
			Message: "header must be exactly 80 bytes",
			Context: map[string]interface{}{
				"header_length": len(header),
			},
		}
	}
	digest := core.DoubleSHA256(header)
	var out [32]byte
	copy(out[:], core.ReverseBytes(digest[:]))
	return out, nil
}

// MerkleRoot hashes the coinbase and folds in the branch. With an empty
// branch the coinbase hash is the root.
func MerkleRoot(coinbase []byte, branch [][]byte) [32]byte {
	root := core.DoubleSHA256(coinbase)
	for _, b := range branch {
		buf := make([]byte, 0, 32+len(b))
		buf = append(buf, root[:]...)
		buf = append(buf, b...)
		root = core.DoubleSHA256(buf)
	}
	return root
}
