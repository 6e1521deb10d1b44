package dmi

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serve writes the given bytes to one end of a pipe and returns the other
// end. The writer side stays open so follow-up reads see the full payload.
func serve(t *testing.T, payload string) net.Conn {
	t.Helper()

	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})

	go func() {
		_, _ = io.WriteString(server, payload)
	}()

	return client
}

func TestStrip(t *testing.T) {
	t.Run("PassesThroughPlainSSH", func(t *testing.T) {
		conn := serve(t, "SSH-2.0-OpenSSH_7.5\r\n")

		wrapped, ann, err := Strip(conn, time.Second)
		require.NoError(t, err)
		assert.Nil(t, ann)

		// The peeked bytes must still be readable through the wrapper.
		buf := make([]byte, 8)
		_, err = io.ReadFull(wrapped, buf)
		require.NoError(t, err)
		assert.Equal(t, "SSH-2.0-", string(buf))
	})

	t.Run("ParsesAnnouncement", func(t *testing.T) {
		payload := "MSG-ID: DEVICE-CONN-INFO\r\n" +
			"DEVICE-ID: sw-access-01\r\n" +
			"MSG-VER: V1\r\n" +
			"HOST-KEY: ssh-rsa AAAAB3NzaC1yc2E\x00\r\n" +
			"HMAC: 9f86d081884c7d65\r\n" +
			"SSH-2.0-Device\r\n"
		conn := serve(t, payload)

		wrapped, ann, err := Strip(conn, time.Second)
		require.NoError(t, err)
		require.NotNil(t, ann)

		assert.Equal(t, "DEVICE-CONN-INFO", ann.MsgID)
		assert.Equal(t, "sw-access-01", ann.DeviceID)
		assert.Equal(t, "V1", ann.MsgVer)
		assert.Equal(t, "ssh-rsa AAAAB3NzaC1yc2E", ann.HostKey)
		assert.Equal(t, "9f86d081884c7d65", ann.HMAC)

		// The connection resumes exactly at the SSH identification string.
		buf := make([]byte, 8)
		_, err = io.ReadFull(wrapped, buf)
		require.NoError(t, err)
		assert.Equal(t, "SSH-2.0-", string(buf))
	})

	t.Run("ParsesMultiLineHostKey", func(t *testing.T) {
		payload := "MSG-ID: DEVICE-CONN-INFO\r\n" +
			"DEVICE-ID: sw-access-02\r\n" +
			"MSG-VER: V1\r\n" +
			"HOST-KEY: ssh-rsa AAAAB3Nza\r\nC1yc2EAAAADAQAB\x00\r\n" +
			"HMAC: deadbeef\r\n" +
			"SSH-2.0-Device\r\n"
		conn := serve(t, payload)

		_, ann, err := Strip(conn, time.Second)
		require.NoError(t, err)
		require.NotNil(t, ann)

		// Line breaks inside the key are framing, not key material.
		assert.Equal(t, "ssh-rsa AAAAB3NzaC1yc2EAAAADAQAB", ann.HostKey)
		assert.Equal(t, "deadbeef", ann.HMAC)
	})

	t.Run("ToleratesUnknownFields", func(t *testing.T) {
		payload := "MSG-ID: DEVICE-CONN-INFO\r\n" +
			"X-FUTURE: something\r\n" +
			"HMAC: cafe\r\n" +
			"SSH-2.0-Device\r\n"
		conn := serve(t, payload)

		_, ann, err := Strip(conn, time.Second)
		require.NoError(t, err)
		require.NotNil(t, ann)
		assert.Equal(t, "cafe", ann.HMAC)
	})

	t.Run("RejectsMalformedLine", func(t *testing.T) {
		conn := serve(t, "MSG-ID DEVICE-CONN-INFO\r\nHMAC: x\r\n")

		_, _, err := Strip(conn, time.Second)
		assert.ErrorContains(t, err, "malformed announcement line")
	})
}
