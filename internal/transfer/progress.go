package transfer

import (
	"errors"
	"io"
	"sync"
)

// progressReader counts bytes read through it and reports them.
type progressReader struct {
	r        io.Reader
	total    int64
	progress ProgressFunc

	mu     sync.Mutex
	loaded int64
	closed bool
}

func newProgressReader(r io.Reader, total int64, progress ProgressFunc) *progressReader {
	return &progressReader{r: r, total: total, progress: progress}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.add(int64(n))
	}
	return n, err
}

func (p *progressReader) add(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.loaded += n
	report(p.progress, p.loaded, p.total)
}

// finish stops further reports. Transports may keep reading a request body
// after the response has arrived; those reads must not surface as progress
// after the terminal event.
func (p *progressReader) finish() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// progressSeeker is a progressReader over a seekable body. Seeking back
// (request signing, retries inside an SDK) rewinds the counter so the
// reported bytes never exceed what was actually sent.
type progressSeeker struct {
	*progressReader
	rs io.ReadSeeker
}

func newProgressSeeker(rs io.ReadSeeker, total int64, progress ProgressFunc) *progressSeeker {
	return &progressSeeker{progressReader: newProgressReader(rs, total, progress), rs: rs}
}

func (p *progressSeeker) Seek(offset int64, whence int) (int64, error) {
	pos, err := p.rs.Seek(offset, whence)
	if err != nil {
		return pos, err
	}
	p.mu.Lock()
	p.loaded = pos
	p.mu.Unlock()
	return pos, nil
}

// progressHook counts bytes handed to it through Read without reading
// anything; some SDKs feed their progress hook this way.
type progressHook struct {
	*progressReader
}

func newProgressHook(total int64, progress ProgressFunc) *progressHook {
	return &progressHook{progressReader: newProgressReader(nil, total, progress)}
}

func (h *progressHook) Read(b []byte) (int, error) {
	h.add(int64(len(b)))
	return len(b), nil
}

var errNoContent = errors.New("file has no content to upload")
