package reconcile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFileBodyText(t *testing.T) {
	body := encodeFileBody([]byte("hello, world"))
	require.Equal(t, "hello, world", body)
	require.Equal(t, []byte("hello, world"), decodeFileBody(body))
}

func TestEncodeDecodeFileBodyBinary(t *testing.T) {
	raw := []byte{0xff, 0xfe, 0x00, 0x01, 0x02, 0xde, 0xad}
	body := encodeFileBody(raw)
	require.Contains(t, body, binaryPrefix)
	require.Equal(t, raw, decodeFileBody(body))
}

func TestDecodeFileBodyMalformedBase64FallsBackToRawText(t *testing.T) {
	got := decodeFileBody(binaryPrefix + "not valid base64!!")
	require.Equal(t, []byte(binaryPrefix+"not valid base64!!"), got)
}
