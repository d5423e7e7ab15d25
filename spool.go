package mailspool

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// spool writes body to a new file in the spool directory and returns its path.
//
// The base name comes from the clock at second granularity. An exclusive
// create (O_EXCL) either claims the name or fails with fs.ErrExist, in
// which case the candidate grows by one random character and the create is
// retried. Candidates only ever lengthen within one call.
func (t *FileTransport) spool(ctx context.Context, body string) (string, error) {
	name := filepath.Join(t.dir, t.opts.clock().Format(TimestampLayout))
	last := ""

	for attempt := 0; attempt < t.opts.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		path := name + t.opts.extension
		last = path
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, t.opts.fileMode)
		if err == nil {
			return path, t.write(f, path, body)
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", &CreateError{Path: path, Err: err}
		}

		t.logger.Debug("spool name collision", "path", path, "attempt", attempt+1)
		t.otel.recordCollision(ctx, attempt+1)
		if attempt == 0 {
			name += suffixSeparator
		}
		name += randomString(t.opts.rand, t.opts.alphabet, 1)
	}

	return "", &RetryExhaustedError{Dir: t.dir, Attempts: t.opts.maxRetries, Last: last}
}

// write stores body in the freshly created file f. A failed write is not
// retried and the file is left in place.
func (t *FileTransport) write(f *os.File, path, body string) error {
	n, err := f.WriteString(body)
	if err != nil {
		_ = f.Close()
		return &PartialWriteError{Path: path, Written: n, Total: len(body), Err: err}
	}
	if err := f.Close(); err != nil {
		return &PartialWriteError{Path: path, Written: n, Total: len(body), Err: err}
	}
	return nil
}
