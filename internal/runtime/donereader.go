package runtime

import (
	"errors"
	"io"
	"sync"
)

// Wraps an [io.Reader] and signals when it is exhausted.
//
// The done channel is closed exactly once on the first [io.EOF]. Used to
// close a container process's stdin once the host side has nothing more to
// send.
type doneReader struct {
	r    io.Reader
	once sync.Once
	done chan struct{}
}

// Creates a [doneReader] wrapping r.
func newDoneReader(r io.Reader) *doneReader {
	return &doneReader{r: r, done: make(chan struct{})}
}

// Delegates to the underlying reader, closing done on the first EOF.
func (d *doneReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if errors.Is(err, io.EOF) {
		d.once.Do(func() { close(d.done) })
	}
	return n, err
}
