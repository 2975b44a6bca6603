package imaging

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// RawImage is a validated upload: the original bytes plus the sniffed MIME
// type. DeclaredMIME carries the type a data-URL prefix claimed, if any; the
// support decision always follows the sniffed type. Pixel data is untouched;
// conversion happens later, only for the OCR backends.
type RawImage struct {
	Data         []byte
	MIME         string
	DeclaredMIME string
}

// DefaultMaxBytes is the default upload size limit (10MB).
const DefaultMaxBytes int64 = 10 << 20

var dataURLPrefix = regexp.MustCompile(`^data:([a-zA-Z0-9.+/-]+);base64,`)

// supportedMIMEs are the raster formats we accept, plus PDF and HEIC which
// are normalized to PNG before OCR.
var supportedMIMEs = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/bmp":       true,
	"image/webp":      true,
	"image/heic":      true,
	"image/heif":      true,
	"application/pdf": true,
}

// Decode validates raw image bytes and sniffs their MIME type.
func Decode(data []byte, max int64) (RawImage, error) {
	if len(data) == 0 {
		return RawImage{}, fmt.Errorf("empty image payload")
	}
	if max <= 0 {
		max = DefaultMaxBytes
	}
	if int64(len(data)) > max {
		return RawImage{}, fmt.Errorf("image is too large: %d bytes (limit %d)", len(data), max)
	}

	mime := sniffMIME(data)
	if !supportedMIMEs[mime] {
		return RawImage{}, fmt.Errorf("unsupported image format %q", mime)
	}

	return RawImage{Data: data, MIME: mime}, nil
}

// DecodeBase64 validates a base64-encoded image, optionally wrapped in a
// data-URL prefix ("data:<mime>;base64,"). The declared MIME type from the
// prefix is recorded on the result, but the sniffed type decides support.
func DecodeBase64(encoded string, max int64) (RawImage, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return RawImage{}, fmt.Errorf("empty image payload")
	}

	var declared string
	if m := dataURLPrefix.FindStringSubmatch(encoded); m != nil {
		declared = m[1]
		encoded = encoded[len(m[0]):]
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return RawImage{}, fmt.Errorf("decoding base64 image: %w", err)
	}

	img, err := Decode(data, max)
	if err != nil {
		return RawImage{}, err
	}
	img.DeclaredMIME = declared
	return img, nil
}

// sniffMIME detects the content type from magic bytes. HEIC needs its own
// check since net/http does not know the format.
func sniffMIME(data []byte) string {
	if isHEICFormat(data) {
		return "image/heic"
	}
	mime := http.DetectContentType(data)
	// DetectContentType returns parameters for some types ("text/plain; charset=...")
	if i := strings.Index(mime, ";"); i != -1 {
		mime = strings.TrimSpace(mime[:i])
	}
	return mime
}
