// Package blob provides access to local and remote file content as tar streams.
package blob

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"

	"github.com/docker/docker/pkg/ioutils"
	"github.com/pkg/errors"

	"github.com/kilnbuild/kiln/pkg/archive"
)

// Blob is a generic source of content.
type Blob interface {
	// Open returns an io.ReadCloser whose contents are in tar format unless
	// the blob was constructed with RawOption. Directories are always served
	// as a tar stream.
	Open() (io.ReadCloser, error)
}

type blob struct {
	path string
	raw  bool
}

type Option func(*blob)

// RawOption causes Open to serve file contents verbatim, skipping gzip
// decompression.
func RawOption(b *blob) {
	b.raw = true
}

// NewBlob creates a Blob for the file or directory at path.
func NewBlob(path string, ops ...Option) Blob {
	b := &blob{path: path}
	for _, op := range ops {
		op(b)
	}
	return b
}

func (b blob) Open() (r io.ReadCloser, err error) {
	fi, err := os.Stat(b.path)
	if err != nil {
		return nil, errors.Wrapf(err, "read blob at path '%s'", b.path)
	}
	if fi.IsDir() {
		return archive.ReadDirAsTar(b.path, ".", 0, 0, -1, true, nil), nil
	}

	fh, err := os.Open(filepath.Clean(b.path))
	if err != nil {
		return nil, errors.Wrap(err, "open blob")
	}
	defer func() {
		if err != nil {
			fh.Close()
		}
	}()

	if b.raw {
		return fh, nil
	}

	gzipped, err := isGZip(fh)
	if err != nil {
		return nil, errors.Wrap(err, "check header")
	}
	if !gzipped {
		return fh, nil
	}

	gzr, err := gzip.NewReader(fh)
	if err != nil {
		return nil, errors.Wrap(err, "create gzip reader")
	}

	return ioutils.NewReadCloserWrapper(gzr, func() error {
		defer fh.Close()
		return gzr.Close()
	}), nil
}

func isGZip(file io.ReadSeeker) (bool, error) {
	b := make([]byte, 3)
	if _, err := file.Seek(0, 0); err != nil {
		return false, err
	}
	_, err := file.Read(b)
	if err != nil && err != io.EOF {
		return false, err
	} else if err == io.EOF {
		return false, nil
	}
	if _, err := file.Seek(0, 0); err != nil {
		return false, err
	}
	return bytes.Equal(b, []byte("\x1f\x8b\x08")), nil
}
