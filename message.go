package blip

import (
	"bytes"
	"compress/flate"
	"io"
)

// deflate compresses body at the given level. If the result is not
// strictly smaller than the input, per §4.2 the caller should discard the
// attempt and send the body uncompressed.
func deflate(body []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// inflate decompresses a deflate stream produced by deflate.
func inflate(compressed []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()
	return io.ReadAll(r)
}

// compressBody applies deflate to body and reports whether compression
// was worth keeping (§4.2: if the compressed size is not strictly smaller,
// the attempt is discarded and the flag cleared).
func compressBody(body []byte, level int) (out []byte, compressed bool, err error) {
	if len(body) == 0 {
		return body, false, nil
	}
	c, err := deflate(body, level)
	if err != nil {
		return nil, false, err
	}
	if len(c) >= len(body) {
		return body, false, nil
	}
	return c, true, nil
}
