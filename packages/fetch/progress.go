package fetch

import "io"

// progressReader invokes a ProgressFunc as bytes pass through. The callback
// runs synchronously with data availability; it must not block the copy
// loop, and errors it panics with are not recovered here.
type progressReader struct {
	r      io.Reader
	fn     ProgressFunc
	total  int64
	loaded int64
}

func newProgressReader(r io.Reader, fn ProgressFunc, total int64) *progressReader {
	if total < 0 {
		total = 0
	}
	return &progressReader{r: r, fn: fn, total: total}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.loaded += int64(n)
		p.fn(Progress{Loaded: p.loaded, Total: p.total})
	}
	return n, err
}

func (p *progressReader) Close() error {
	if c, ok := p.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// limitReader fails with ErrBodyTooLarge once more than max bytes have been
// read, before the body is fully materialized.
type limitReader struct {
	r    io.Reader
	max  int64
	read int64
}

func newLimitReader(r io.Reader, max int64) *limitReader {
	return &limitReader{r: r, max: max}
}

func (l *limitReader) Read(b []byte) (int, error) {
	n, err := l.r.Read(b)
	l.read += int64(n)
	if l.read > l.max {
		return n, ErrBodyTooLarge
	}
	return n, err
}

func (l *limitReader) Close() error {
	if c, ok := l.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
