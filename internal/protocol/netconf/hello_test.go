package netconf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalHello(t *testing.T) {
	hello := LocalHello()

	assert.True(t, hello.HasCapability(CapabilityBase10))
	assert.True(t, hello.HasCapability(CapabilityBase11))
	assert.Zero(t, hello.SessionID)
}

func TestMarshalHello(t *testing.T) {
	data, err := MarshalHello(LocalHello())
	require.NoError(t, err)

	s := string(data)
	assert.True(t, strings.HasPrefix(s, "<?xml"))
	assert.Contains(t, s, CapabilityBase10)
	assert.Contains(t, s, CapabilityBase11)

	// The call-home server is the NETCONF client of the session; its hello
	// must not claim a session-id.
	assert.NotContains(t, s, "session-id")
}

func TestParseHello(t *testing.T) {
	t.Run("ParsesDeviceHello", func(t *testing.T) {
		data := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<hello xmlns="urn:ietf:params:xml:ns:netconf:base:1.0">
  <capabilities>
    <capability>urn:ietf:params:xml:ns:netconf:base:1.0</capability>
    <capability>urn:ietf:params:xml:ns:netconf:capability:candidate:1.0</capability>
  </capabilities>
  <session-id>31822</session-id>
</hello>`)

		hello, err := ParseHello(data)
		require.NoError(t, err)

		assert.Equal(t, uint64(31822), hello.SessionID)
		assert.True(t, hello.HasCapability(CapabilityBase10))
		assert.False(t, hello.UsesChunkedFraming())
	})

	t.Run("DetectsChunkedFraming", func(t *testing.T) {
		data := []byte(`<hello xmlns="urn:ietf:params:xml:ns:netconf:base:1.0">
  <capabilities>
    <capability>urn:ietf:params:xml:ns:netconf:base:1.1</capability>
  </capabilities>
</hello>`)

		hello, err := ParseHello(data)
		require.NoError(t, err)
		assert.True(t, hello.UsesChunkedFraming())
	})

	t.Run("RejectsMalformedXML", func(t *testing.T) {
		_, err := ParseHello([]byte("<hello><capabilities>"))
		assert.Error(t, err)
	})

	t.Run("RejectsWrongNamespace", func(t *testing.T) {
		data := []byte(`<hello xmlns="urn:example:something-else">
  <capabilities><capability>cap</capability></capabilities>
</hello>`)

		_, err := ParseHello(data)
		assert.Error(t, err)
	})

	t.Run("RejectsWrongElement", func(t *testing.T) {
		data := []byte(`<goodbye xmlns="urn:ietf:params:xml:ns:netconf:base:1.0">
  <capabilities><capability>cap</capability></capabilities>
</goodbye>`)

		_, err := ParseHello(data)
		assert.Error(t, err)
	})

	t.Run("RejectsEmptyCapabilities", func(t *testing.T) {
		data := []byte(`<hello xmlns="urn:ietf:params:xml:ns:netconf:base:1.0">
  <capabilities/>
</hello>`)

		_, err := ParseHello(data)
		assert.ErrorContains(t, err, "no capabilities")
	})
}
