package progress

import "io"

// Reader wraps an io.Reader and calls OnProgress every time another interval
// of bytes has passed through it, and once more when it crosses 5% of total.
type Reader struct {
	Reader     io.Reader
	Total      int64
	OnProgress func(done int64, total int64)

	done      int64 // includes the starting offset
	sinceLast int64
	interval  int64
}

// NewReader creates a Reader that starts counting at offset, so a resumed
// transfer reports absolute positions.
func NewReader(r io.Reader, offset, total, interval int64, cb func(done int64, total int64)) *Reader {
	return &Reader{
		Reader:     r,
		Total:      total,
		OnProgress: cb,
		done:       offset,
		interval:   interval,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n <= 0 {
		return n, err
	}

	before := pr.done
	pr.done += int64(n)
	pr.sinceLast += int64(n)

	if pr.OnProgress == nil {
		return n, err
	}

	crossedFirst := pr.Total > 0 && pr.done*100/pr.Total >= 5 && before*100/pr.Total < 5
	if (pr.interval > 0 && pr.sinceLast >= pr.interval) || crossedFirst {
		pr.OnProgress(pr.done, pr.Total)
		pr.sinceLast = 0
	}

	return n, err
}

// Done returns the absolute number of bytes seen so far.
func (pr *Reader) Done() int64 {
	return pr.done
}
