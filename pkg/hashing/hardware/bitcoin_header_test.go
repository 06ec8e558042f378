package hardware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chimera/pkg/hashing/core"
)

// goldenJob mirrors a job the bridge would emit for seed CHRONOS_BASELINE.
func goldenJob() JobContext {
	return JobContext{
		JobID:     "1",
		PrevHash:  ZeroPrevHash,
		Coinbase1: core.EncodeHex([]byte("CHRONOS_BASELINE-1700000000000000000")),
		Coinbase2: Coinbase2,
		Version:   BlockVersion,
		NBits:     NBitsDiff1,
		CleanJobs: true,
	}
}

func TestHeaderHashAllZero(t *testing.T) {
	hash, err := HeaderHash(make([]byte, HeaderSize))
	require.NoError(t, err)
	assert.Equal(t, "14508459b221041eab257d2baaa7459775ba748246c8403609eb708f0e57e74b", core.EncodeHex(hash[:]))
}

func TestAssembleHeaderZeroFields(t *testing.T) {
	zero4 := make([]byte, 4)
	header, err := AssembleHeader(zero4, make([]byte, 32), [32]byte{}, zero4, zero4, zero4)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, HeaderSize), header)
}

func TestAssembleHeaderLayout(t *testing.T) {
	var root [32]byte
	root[0] = 0xaa
	header, err := AssembleHeader(
		[]byte{0x20, 0x00, 0x00, 0x00},
		make([]byte, 32),
		root,
		[]byte{0x65, 0x53, 0x80, 0x00},
		[]byte{0x1d, 0x00, 0xff, 0xff},
		[]byte{0x1a, 0x2b, 0x3c, 0x4d},
	)
	require.NoError(t, err)
	require.Len(t, header, HeaderSize)

	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x20}, header[0:4])
	assert.Equal(t, byte(0xaa), header[36])
	assert.Equal(t, []byte{0x00, 0x80, 0x53, 0x65}, header[68:72])
	assert.Equal(t, []byte{0xff, 0xff, 0x00, 0x1d}, header[72:76])
	assert.Equal(t, []byte{0x4d, 0x3c, 0x2b, 0x1a}, header[76:80])
}

func TestAssembleHeaderRejectsBadWidth(t *testing.T) {
	_, err := AssembleHeader([]byte{1}, make([]byte, 32), [32]byte{}, make([]byte, 4), make([]byte, 4), make([]byte, 4))
	assert.Error(t, err)
}

func TestHeaderHashRejectsShortHeader(t *testing.T) {
	_, err := HeaderHash(make([]byte, 79))
	assert.Error(t, err)
}

func TestReconstructGolden(t *testing.T) {
	hash, err := Reconstruct(goldenJob(), "08000002", "00000001", "65538000", "1a2b3c4d")
	require.NoError(t, err)
	assert.Equal(t, "876010ef5d20aca4072a0cc112d93beae4a214df58d9db6c2b2bc23ba3fb7bf0", core.EncodeHex(hash[:]))
}

func TestMerkleRootEmptyBranch(t *testing.T) {
	coinbase, err := core.DecodeHexField("coinbase", goldenJob().Coinbase1+"08000002"+"00000001"+Coinbase2, 0)
	require.NoError(t, err)

	root := MerkleRoot(coinbase, nil)
	assert.Equal(t, "f7f0688b25452c3a0ba11f1a474201b6cdb78aa4c8b6bb2e6131d6d607f82897", core.EncodeHex(root[:]))
}

func TestReconstructDeterministic(t *testing.T) {
	job := goldenJob()
	first, err := Reconstruct(job, "08000002", "deadbeef", "65538000", "00000000")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := Reconstruct(job, "08000002", "deadbeef", "65538000", "00000000")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	other, err := Reconstruct(job, "08000002", "deadbeef", "65538000", "00000001")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestReconstructMalformedInput(t *testing.T) {
	job := goldenJob()

	cases := map[string][4]string{
		"bad extranonce2": {"08000002", "xyz", "65538000", "1a2b3c4d"},
		"short nonce":     {"08000002", "00000001", "65538000", "1a2b"},
		"bad ntime":       {"08000002", "00000001", "6553800g", "1a2b3c4d"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Reconstruct(job, c[0], c[1], c[2], c[3])
			assert.Error(t, err)
		})
	}

	job.Version = "2000"
	_, err := Reconstruct(job, "08000002", "00000001", "65538000", "1a2b3c4d")
	assert.Error(t, err)
}

func TestNotifyParamsOrder(t *testing.T) {
	job := goldenJob()
	job.NTime = "65538000"
	params := job.NotifyParams()

	require.Len(t, params, 9)
	assert.Equal(t, "1", params[0])
	assert.Equal(t, ZeroPrevHash, params[1])
	assert.Equal(t, []string{}, params[4])
	assert.Equal(t, BlockVersion, params[5])
	assert.Equal(t, NBitsDiff1, params[6])
	assert.Equal(t, true, params[8])
}
