package frame

import (
	"encoding/base64"
	"testing"

	"github.com/MimeLyc/vibetracker/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestEncode_RoundTrip(t *testing.T) {
	original := []byte{0x00, 0x01, 0xfe, 0xff, 'v', 'i', 'b', 'e'}
	uri := EncodeToDataURI(Payload{MediaType: "image/png", Data: original})

	got, err := Encode(uri)
	require.NoError(t, err)
	assert.Equal(t, original, got.Data)
	assert.Equal(t, "image/png", got.MediaType)
}

func TestEncode_PrefixVariants(t *testing.T) {
	body := base64.StdEncoding.EncodeToString([]byte("frame"))

	tests := []struct {
		name      string
		input     string
		mediaType string
	}{
		{name: "png prefix", input: "data:image/png;base64," + body, mediaType: "image/png"},
		{name: "jpeg prefix", input: "data:image/jpeg;base64," + body, mediaType: "image/jpeg"},
		{name: "upper case media type", input: "data:IMAGE/WEBP;base64," + body, mediaType: "image/webp"},
		{name: "extra params", input: "data:image/png;charset=binary;base64," + body, mediaType: "image/png"},
		{name: "no prefix falls back to png", input: body, mediaType: DefaultMediaType},
		{name: "surrounding whitespace", input: "  data:image/png;base64," + body + "\n", mediaType: "image/png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.input)
			require.NoError(t, err)
			assert.Equal(t, []byte("frame"), got.Data)
			assert.Equal(t, tt.mediaType, got.MediaType)
		})
	}
}

func TestEncode_SniffsBarePayload(t *testing.T) {
	jpeg := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

	got, err := Encode(base64.StdEncoding.EncodeToString(jpeg))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", got.MediaType)

	got, err = Encode(base64.StdEncoding.EncodeToString(pngHeader))
	require.NoError(t, err)
	assert.Equal(t, "image/png", got.MediaType)
	assert.Equal(t, ".png", got.Extension())
}

func TestEncode_AcceptsUnpaddedBase64(t *testing.T) {
	body := base64.RawStdEncoding.EncodeToString([]byte("ab"))

	got, err := Encode("data:image/png;base64," + body)
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), got.Data)
}

func TestEncode_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "prefix only", input: "data:image/png;base64,"},
		{name: "missing comma", input: "data:image/png;base64"},
		{name: "not base64 uri", input: "data:text/plain,hello"},
		{name: "invalid characters", input: "data:image/png;base64,@@@not-base64@@@"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.input)
			require.Error(t, err)
			assert.True(t, errs.IsType(err, errs.Decode), "got %v", err)
		})
	}
}
