package netconf

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramer_EndOfMessage(t *testing.T) {
	t.Run("WritesDelimitedMessage", func(t *testing.T) {
		var out bytes.Buffer
		f := NewFramer(&bytes.Buffer{}, &out)

		err := f.WriteMessage([]byte("<hello/>"))
		require.NoError(t, err)

		assert.Equal(t, "<hello/>]]>]]>", out.String())
	})

	t.Run("ReadsDelimitedMessage", func(t *testing.T) {
		in := bytes.NewBufferString("<rpc-reply/>]]>]]>")
		f := NewFramer(in, &bytes.Buffer{})

		msg, err := f.ReadMessage()
		require.NoError(t, err)

		assert.Equal(t, "<rpc-reply/>", string(msg))
	})

	t.Run("TrimsSurroundingWhitespace", func(t *testing.T) {
		in := bytes.NewBufferString("\n<rpc-reply/>\n]]>]]>")
		f := NewFramer(in, &bytes.Buffer{})

		msg, err := f.ReadMessage()
		require.NoError(t, err)

		assert.Equal(t, "<rpc-reply/>", string(msg))
	})

	t.Run("ReadsConsecutiveMessages", func(t *testing.T) {
		in := bytes.NewBufferString("<a/>]]>]]><b/>]]>]]>")
		f := NewFramer(in, &bytes.Buffer{})

		first, err := f.ReadMessage()
		require.NoError(t, err)
		second, err := f.ReadMessage()
		require.NoError(t, err)

		assert.Equal(t, "<a/>", string(first))
		assert.Equal(t, "<b/>", string(second))
	})

	t.Run("FailsOnTruncatedStream", func(t *testing.T) {
		in := bytes.NewBufferString("<rpc-reply/>")
		f := NewFramer(in, &bytes.Buffer{})

		_, err := f.ReadMessage()
		assert.Error(t, err)
	})
}

func TestFramer_Chunked(t *testing.T) {
	newChunked := func(in string) (*Framer, *bytes.Buffer) {
		var out bytes.Buffer
		f := NewFramer(bytes.NewBufferString(in), &out)
		f.EnableChunkedFraming()
		return f, &out
	}

	t.Run("WritesSingleChunk", func(t *testing.T) {
		f, out := newChunked("")

		err := f.WriteMessage([]byte("<rpc/>"))
		require.NoError(t, err)

		assert.Equal(t, "\n#6\n<rpc/>\n##\n", out.String())
	})

	t.Run("ReadsSingleChunk", func(t *testing.T) {
		f, _ := newChunked("\n#6\n<rpc/>\n##\n")

		msg, err := f.ReadMessage()
		require.NoError(t, err)

		assert.Equal(t, "<rpc/>", string(msg))
	})

	t.Run("ReassemblesMultipleChunks", func(t *testing.T) {
		f, _ := newChunked("\n#4\n<rpc\n#2\n/>\n##\n")

		msg, err := f.ReadMessage()
		require.NoError(t, err)

		assert.Equal(t, "<rpc/>", string(msg))
	})

	t.Run("RoundTrip", func(t *testing.T) {
		var stream bytes.Buffer
		writer := NewFramer(&bytes.Buffer{}, &stream)
		writer.EnableChunkedFraming()

		payload := []byte("<rpc-reply message-id=\"1\"><ok/></rpc-reply>")
		require.NoError(t, writer.WriteMessage(payload))

		reader := NewFramer(&stream, &bytes.Buffer{})
		reader.EnableChunkedFraming()

		msg, err := reader.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, payload, msg)
	})

	t.Run("RejectsZeroLengthChunk", func(t *testing.T) {
		f, _ := newChunked("\n#0\n\n##\n")

		_, err := f.ReadMessage()
		assert.ErrorContains(t, err, "zero-length chunk")
	})

	t.Run("RejectsMalformedChunkHeader", func(t *testing.T) {
		f, _ := newChunked("#6\n<rpc/>\n##\n")

		_, err := f.ReadMessage()
		assert.ErrorContains(t, err, "malformed chunk framing")
	})

	t.Run("RejectsNonNumericChunkSize", func(t *testing.T) {
		f, _ := newChunked("\n#x\n<rpc/>\n##\n")

		_, err := f.ReadMessage()
		assert.ErrorContains(t, err, "invalid chunk size")
	})

	t.Run("FailsOnTruncatedChunkBody", func(t *testing.T) {
		f, _ := newChunked("\n#100\n<rpc/>")

		_, err := f.ReadMessage()
		assert.Error(t, err)
	})
}

func TestFramer_ModeSwitch(t *testing.T) {
	f := NewFramer(&bytes.Buffer{}, &bytes.Buffer{})

	assert.False(t, f.ChunkedFraming())
	f.EnableChunkedFraming()
	assert.True(t, f.ChunkedFraming())
}
