// Package frame turns captured images delivered as data URIs into upload payloads.
package frame

import (
	"encoding/base64"
	"strings"

	"github.com/MimeLyc/vibetracker/internal/errs"
	"github.com/gabriel-vasile/mimetype"
)

const DefaultMediaType = "image/png"

// Payload is a decoded image ready for upload.
type Payload struct {
	MediaType string
	Data      []byte
}

// Encode strips a "data:<mediatype>;base64," prefix if present and decodes the
// remaining base64 text. Without a declared media type the bytes are sniffed.
func Encode(dataURI string) (Payload, error) {
	text := strings.TrimSpace(dataURI)
	mediaType := ""

	if strings.HasPrefix(text, "data:") {
		comma := strings.IndexByte(text, ',')
		if comma < 0 {
			return Payload{}, errs.New(errs.Decode, "data URI has no payload separator")
		}
		meta := text[len("data:"):comma]
		text = text[comma+1:]

		params := strings.Split(meta, ";")
		isBase64 := false
		for _, p := range params[1:] {
			if strings.EqualFold(strings.TrimSpace(p), "base64") {
				isBase64 = true
			}
		}
		if !isBase64 {
			return Payload{}, errs.New(errs.Decode, "data URI is not base64 encoded").
				WithContext("meta", meta)
		}
		mediaType = strings.ToLower(strings.TrimSpace(params[0]))
	}

	if text == "" {
		return Payload{}, errs.New(errs.Decode, "empty capture payload")
	}

	data, err := decodeBase64(text)
	if err != nil {
		return Payload{}, errs.Wrap(err, errs.Decode, "invalid base64 capture payload")
	}
	if len(data) == 0 {
		return Payload{}, errs.New(errs.Decode, "empty capture payload")
	}

	if mediaType == "" {
		mediaType = sniff(data)
	}

	return Payload{MediaType: mediaType, Data: data}, nil
}

// EncodeToDataURI is the inverse of Encode.
func EncodeToDataURI(p Payload) string {
	mediaType := p.MediaType
	if mediaType == "" {
		mediaType = DefaultMediaType
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}

// Extension returns the file extension for the payload's media type, with the leading dot.
func (p Payload) Extension() string {
	if m := mimetype.Lookup(p.MediaType); m != nil {
		return m.Extension()
	}
	return ".png"
}

func decodeBase64(text string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err == nil {
		return data, nil
	}
	// atob accepts unpadded input, so do we
	if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(text, "=")); rawErr == nil {
		return raw, nil
	}
	return nil, err
}

func sniff(data []byte) string {
	detected := mimetype.Detect(data)
	if strings.HasPrefix(detected.String(), "image/") {
		return detected.String()
	}
	return DefaultMediaType
}
