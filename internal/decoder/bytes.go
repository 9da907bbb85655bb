package decoder

import "io"

// ReadBytes reads exactly n bytes from r. A stream that ends before the first
// byte yields io.EOF, one that ends midway yields io.ErrUnexpectedEOF.
func ReadBytes(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	return buf, nil
}
