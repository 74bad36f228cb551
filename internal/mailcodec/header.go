package mailcodec

import (
	"io"
	"mime"

	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// DecodeHeader decodes an RFC 2047 encoded-word header value (possibly
// mixing charsets across words) into a Unicode string. It never fails:
// a word in an unrecognized charset is decoded as UTF-8, with invalid
// bytes replaced by U+FFFD; if the word decoder still reports an error
// the original raw value is returned unchanged; and an absent header
// (empty string in) yields an empty string out.
func DecodeHeader(raw string) string {
	if raw == "" {
		return ""
	}

	dec := &mime.WordDecoder{
		CharsetReader: func(charset string, input io.Reader) (io.Reader, error) {
			enc, err := ianaindex.IANA.Encoding(charset)
			if err != nil || enc == nil {
				enc, _ = ianaindex.IANA.Encoding("utf-8")
			}
			return transform.NewReader(input, enc.NewDecoder()), nil
		},
	}

	decoded, err := dec.DecodeHeader(raw)
	if err != nil {
		return raw
	}
	return decoded
}
