package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCandidate(t *testing.T) {
	raw := "candidate:842163049 1 udp 1677729535 198.51.100.4 61223 typ srflx raddr 10.0.0.4 rport 50000 generation 2"

	c, err := ParseCandidate(raw)
	require.NoError(t, err)

	assert.Equal(t, "842163049", c.Foundation)
	assert.Equal(t, uint16(1), c.Component)
	assert.Equal(t, "udp", c.Protocol)
	assert.Equal(t, uint32(1677729535), c.Priority)
	assert.Equal(t, "198.51.100.4", c.Address)
	assert.Equal(t, 61223, c.Port)
	assert.Equal(t, "srflx", c.Type)
	assert.Equal(t, "10.0.0.4", c.RelatedAddress)
	assert.Equal(t, 50000, c.RelatedPort)
	assert.Equal(t, 2, c.Generation)
	assert.Equal(t, raw[len("candidate:"):], c.Marshal())

	_, err = ParseCandidate("candidate:not a candidate")
	assert.Error(t, err)
}

func TestCandidateMarshal(t *testing.T) {
	c := Candidate{
		Foundation: "1",
		Component:  1,
		Protocol:   "udp",
		Priority:   2130706431,
		Address:    "192.0.2.1",
		Port:       5000,
		Type:       "host",
		Generation: 1,
	}
	assert.Equal(t, "1 1 udp 2130706431 192.0.2.1 5000 typ host generation 1", c.Marshal())

	parsed, err := ParseCandidate(c.Marshal())
	require.NoError(t, err)
	assert.Equal(t, c.Address, parsed.Address)
	assert.Equal(t, c.Port, parsed.Port)
	assert.Equal(t, 1, parsed.Generation)
}

func TestGenerateCredentials(t *testing.T) {
	a, err := GenerateCredentials()
	require.NoError(t, err)
	b, err := GenerateCredentials()
	require.NoError(t, err)

	assert.Len(t, a.Ufrag, ufragLength)
	assert.Len(t, a.Pwd, pwdLength)
	assert.NotEqual(t, a, b)
}
