package stratum

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeVariants(t *testing.T) {
	cases := []struct {
		line string
		want interface{}
	}{
		{`{"id":1,"method":"mining.subscribe","params":["bitaxe/BM1366/v2.4.1"]}`, Subscribe{}},
		{`{"id":2,"method":"mining.configure","params":[["version-rolling"],{"version-rolling.mask":"ffffffff"}]}`, Configure{}},
		{`{"id":3,"method":"mining.suggest_difficulty","params":[1000]}`, SuggestDifficulty{}},
		{`{"id":4,"method":"mining.authorize","params":["worker.1","x"]}`, Authorize{}},
		{`{"id":5,"method":"mining.submit","params":["worker.1","1","00000001","65538000","1a2b3c4d"]}`, Submit{}},
		{`{"id":6,"method":"mining.extranonce.subscribe","params":[]}`, ExtranonceSubscribe{}},
		{`{"id":7,"method":"mining.ping","params":[]}`, Ignored{}},
	}
	for _, tc := range cases {
		msg, err := Decode([]byte(tc.line))
		require.NoError(t, err, tc.line)
		assert.IsType(t, tc.want, msg, tc.line)
	}
}

func TestDecodeSubmitFields(t *testing.T) {
	msg, err := Decode([]byte(`{"id":9,"method":"mining.submit","params":["w","1f","deadbeef","65538000","00000000","1fffe000"]}` + "\r\n"))
	require.NoError(t, err)

	sub, ok := msg.(Submit)
	require.True(t, ok)
	assert.Equal(t, "w", sub.Worker)
	assert.Equal(t, "1f", sub.JobID)
	assert.Equal(t, "deadbeef", sub.Extranonce2)
	assert.Equal(t, "65538000", sub.NTime)
	assert.Equal(t, "00000000", sub.Nonce)
	assert.Equal(t, "1fffe000", sub.VersionBits)
	assert.Equal(t, json.RawMessage("9"), sub.RequestID())
}

func TestDecodeShortSubmit(t *testing.T) {
	msg, err := Decode([]byte(`{"id":"a","method":"mining.submit","params":["w","1"]}`))
	require.NoError(t, err)

	sub := msg.(Submit)
	assert.Equal(t, "1", sub.JobID)
	assert.Empty(t, sub.Nonce)
}

func TestDecodeAuthorizeAndDifficulty(t *testing.T) {
	msg, err := Decode([]byte(`{"id":4,"method":"mining.authorize","params":["lv06","secret"]}`))
	require.NoError(t, err)
	auth := msg.(Authorize)
	assert.Equal(t, "lv06", auth.Worker)
	assert.Equal(t, "secret", auth.Password)

	msg, err = Decode([]byte(`{"id":3,"method":"mining.suggest_difficulty","params":[512]}`))
	require.NoError(t, err)
	assert.Equal(t, 512.0, msg.(SuggestDifficulty).Difficulty)
}

func TestDecodeMalformed(t *testing.T) {
	for _, line := range []string{"", "not json", `{"id":1}`, `[1,2,3]`} {
		_, err := Decode([]byte(line))
		assert.ErrorIs(t, err, ErrMalformed, line)
	}
}

func TestResponseEncoding(t *testing.T) {
	line, err := encodeLine(newResponse(json.RawMessage("7"), true))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7,"result":true,"error":null}`, string(line))
	assert.Equal(t, byte('\n'), line[len(line)-1])

	line, err = encodeLine(newNotification(MethodSetDifficulty, 1.0))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":null,"method":"mining.set_difficulty","params":[1]}`, string(line))
}

func TestSubscribeResultShape(t *testing.T) {
	b, err := json.Marshal(subscribeResult("08000002", 4))
	require.NoError(t, err)
	assert.JSONEq(t, `[[["mining.set_difficulty","1"],["mining.notify","1"]],"08000002",4]`, string(b))
}
