package uploaders

import "io"

// countingReader reports read progress against a known total, driving the
// progress callback while an HTTP client drains the request body.
type countingReader struct {
	r        io.Reader
	total    int64
	read     int64
	progress ProgressFunc
}

func newCountingReader(r io.Reader, total int64, progress ProgressFunc) *countingReader {
	return &countingReader{r: r, total: total, progress: progress}
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 && c.total > 0 && c.progress != nil {
		c.read += int64(n)
		c.progress(float64(c.read) / float64(c.total))
	}
	return n, err
}
