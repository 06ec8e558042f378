package hardware

import (
	"chimera/pkg/hashing/core"
)

// Reconstruct rebuilds the hash a device computed for one share:
//
//	coinbase = coinb1 || extranonce1 || extranonce2 || coinb2
//	root     = dSHA256(coinbase) folded with the merkle branch
//	header   = version | prevhash | root | ntime | nbits | nonce
//	result   = reverse(dSHA256(header))
//
// It is a pure function of its inputs. The header always carries the job's
// version: version bits rolled by the device are not applied, so shares from
// a device that rolls versions reconstruct a header it did not hash.
func Reconstruct(job JobContext, extranonce1, extranonce2, nTime, nonce string) ([32]byte, error) {
	coinbase, err := core.DecodeHexField("coinbase", job.Coinbase1+extranonce1+extranonce2+job.Coinbase2, 0)
	if err != nil {
		return [32]byte{}, err
	}

	branch := make([][]byte, 0, len(job.MerkleBranch))
	for _, h := range job.MerkleBranch {
		b, err := core.DecodeHexField("merkle_branch", h, 32)
		if err != nil {
			return [32]byte{}, err
		}
		branch = append(branch, b)
	}

	version, err := core.DecodeHexField("version", job.Version, 4)
	if err != nil {
		return [32]byte{}, err
	}
	prevHash, err := core.DecodeHexField("prevhash", job.PrevHash, 32)
	if err != nil {
		return [32]byte{}, err
	}
	nBits, err := core.DecodeHexField("nbits", job.NBits, 4)
	if err != nil {
		return [32]byte{}, err
	}
	ntime, err := core.DecodeHexField("ntime", nTime, 4)
	if err != nil {
		return [32]byte{}, err
	}
	nonceBytes, err := core.DecodeHexField("nonce", nonce, 4)
	if err != nil {
		return [32]byte{}, err
	}

	header, err := AssembleHeader(version, prevHash, MerkleRoot(coinbase, branch), ntime, nBits, nonceBytes)
	if err != nil {
		return [32]byte{}, err
	}
	return HeaderHash(header)
}
