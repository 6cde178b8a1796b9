package security

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	MachineID string `json:"machineId"`
	CPU       string `json:"cpu"`
	Expiry    string `json:"expiry,omitempty"`
}

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec("PixelSecretKey")
	require.NoError(t, err)
	return c
}

func TestCodecRoundTripProperty(t *testing.T) {
	c := newTestCodec(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("decode(encode(r)) == r", prop.ForAll(
		func(id, cpu, expiry string) bool {
			in := payload{MachineID: id, CPU: cpu, Expiry: expiry}
			token, err := c.Encode(in)
			if err != nil {
				return false
			}
			var out payload
			if err := c.Decode(token, &out); err != nil {
				return false
			}
			return in == out
		},
		gen.AnyString(),
		gen.AnyString(),
		gen.AlphaString(),
	))

	properties.Property("encode is never deterministic", prop.ForAll(
		func(id string) bool {
			in := payload{MachineID: id}
			a, errA := c.Encode(in)
			b, errB := c.Encode(in)
			if errA != nil || errB != nil || a == b {
				return false
			}
			var outA, outB payload
			return c.Decode(a, &outA) == nil && c.Decode(b, &outB) == nil && outA == in && outB == in
		},
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

func TestCodecTokenShape(t *testing.T) {
	c := newTestCodec(t)

	token, err := c.Encode(payload{MachineID: "m", CPU: "c"})
	require.NoError(t, err)

	nonceHex, ctHex, ok := strings.Cut(token, ":")
	require.True(t, ok)
	assert.Len(t, nonceHex, 24)
	assert.NotEmpty(t, ctHex)
	assert.Equal(t, strings.ToLower(token), token)
}

func TestCodecDecodeRejects(t *testing.T) {
	c := newTestCodec(t)
	valid, err := c.Encode(payload{MachineID: "m", CPU: "c"})
	require.NoError(t, err)
	nonceHex, ctHex, _ := strings.Cut(valid, ":")

	notObject, err := c.Encode("just a string")
	require.NoError(t, err)
	null, err := c.Encode(nil)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "no separator", token: nonceHex + ctHex},
		{name: "non-hex nonce", token: "zz" + nonceHex[2:] + ":" + ctHex},
		{name: "non-hex ciphertext", token: nonceHex + ":" + ctHex + "g"},
		{name: "short nonce", token: nonceHex[:22] + ":" + ctHex},
		{name: "long nonce", token: nonceHex + "00:" + ctHex},
		{name: "odd hex length", token: nonceHex + ":" + ctHex[1:]},
		{name: "extra separator", token: valid + ":00"},
		{name: "truncated ciphertext", token: nonceHex + ":" + ctHex[:20]},
		{name: "empty ciphertext", token: nonceHex + ":"},
		{name: "payload not an object", token: notObject},
		{name: "null payload", token: null},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := payload{MachineID: "untouched"}
			err := c.Decode(tt.token, &out)
			require.ErrorIs(t, err, ErrDecode)
			assert.Equal(t, "untouched", out.MachineID)
		})
	}
}

func TestCodecTamperResistance(t *testing.T) {
	c := newTestCodec(t)
	token, err := c.Encode(payload{MachineID: "machine-1", CPU: "Intel(R) Core(TM) i7", Expiry: "2030-01-01"})
	require.NoError(t, err)

	sep := strings.Index(token, ":")
	for i := 0; i < len(token); i++ {
		if i == sep {
			continue
		}
		b := []byte(token)
		if b[i] == '0' {
			b[i] = '1'
		} else {
			b[i] = '0'
		}

		var out payload
		assert.ErrorIs(t, c.Decode(string(b), &out), ErrDecode, "flip at %d decoded", i)
	}
}

func TestCodecKeySeparation(t *testing.T) {
	license := newTestCodec(t)
	other, err := NewCodec("AnotherSecret")
	require.NoError(t, err)
	request, err := NewDerivedCodec("PixelSecretKey", "machine-request")
	require.NoError(t, err)

	token, err := request.Encode(payload{MachineID: "m", CPU: "c"})
	require.NoError(t, err)

	var out payload
	assert.ErrorIs(t, license.Decode(token, &out), ErrDecode)
	assert.NoError(t, request.Decode(token, &out))

	licenseToken, err := license.Encode(out)
	require.NoError(t, err)
	assert.ErrorIs(t, other.Decode(licenseToken, &out), ErrDecode)
	assert.ErrorIs(t, request.Decode(licenseToken, &out), ErrDecode)
}

func TestCodecConstructorErrors(t *testing.T) {
	_, err := NewCodec("")
	assert.Error(t, err)
	_, err = NewDerivedCodec("s", "")
	assert.Error(t, err)
	_, err = NewDerivedCodec("", "p")
	assert.Error(t, err)
}
