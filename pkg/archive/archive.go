package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/docker/docker/pkg/ioutils"
	"github.com/pkg/errors"
)

// NormalizedDateTime is the fixed modification time applied to generated tar
// entries so that layer digests stay reproducible.
var NormalizedDateTime time.Time

func init() {
	NormalizedDateTime = time.Date(1980, time.January, 1, 0, 0, 1, 0, time.UTC)
}

var ErrEntryNotExist = errors.New("not exist")

func IsEntryNotExist(err error) bool {
	return err == ErrEntryNotExist || errors.Cause(err) == ErrEntryNotExist
}

// ReadDirAsTar returns a stream of the directory contents rooted at basePath.
//
// It is up to the caller to close the reader.
func ReadDirAsTar(srcDir, basePath string, uid, gid int, mode int64, normalizeModTime bool, fileFilter func(string) bool) io.ReadCloser {
	return GenerateTar(func(tw *tar.Writer) error {
		return WriteDirToTar(tw, srcDir, basePath, uid, gid, mode, normalizeModTime, fileFilter)
	})
}

// GenerateTar returns a reader to a tar from a generator function.
//
// It is up to the caller to close the reader.
func GenerateTar(genFn func(*tar.Writer) error) io.ReadCloser {
	errChan := make(chan error)
	pr, pw := io.Pipe()

	go func() {
		tw := tar.NewWriter(pw)
		defer func() {
			if r := recover(); r != nil {
				tw.Close()
				pw.CloseWithError(errors.Errorf("panic: %v", r))
			}
		}()

		err := genFn(tw)

		closeErr := tw.Close()
		closeErr = aggregateError(closeErr, pw.CloseWithError(err))

		errChan <- closeErr
	}()

	return ioutils.NewReadCloserWrapper(pr, func() error {
		var completeErr error

		// closing the reader ensures anything attempting further reading
		// doesn't block waiting for content
		if err := pr.Close(); err != nil {
			completeErr = aggregateError(completeErr, err)
		}

		// wait until the generator finishes
		if err := <-errChan; err != nil {
			completeErr = aggregateError(completeErr, err)
		}

		return completeErr
	})
}

func aggregateError(base, addition error) error {
	if addition == nil {
		return base
	}

	if base == nil {
		return addition
	}

	return errors.Wrap(addition, base.Error())
}

// WriteDirToTar writes the contents of a directory to a tar writer. basePath
// is the location in the tar of the directory's contents. A mode of -1
// preserves the on-disk modes.
func WriteDirToTar(tw *tar.Writer, srcDir, basePath string, uid, gid int, mode int64, normalizeModTime bool, fileFilter func(string) bool) error {
	return filepath.Walk(srcDir, func(file string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(srcDir, file)
		if err != nil {
			return err
		} else if relPath == "." {
			return nil
		}

		if fileFilter != nil && !fileFilter(relPath) {
			return nil
		}

		if fi.Mode()&os.ModeSocket != 0 {
			return nil
		}

		var header *tar.Header
		if fi.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(file)
			if err != nil {
				return err
			}

			header, err = tar.FileInfoHeader(fi, target)
			if err != nil {
				return err
			}
		} else {
			header, err = tar.FileInfoHeader(fi, fi.Name())
			if err != nil {
				return err
			}
		}

		header.Name = path.Join(basePath, filepath.ToSlash(relPath))
		if runtime.GOOS == "windows" {
			header.Name = strings.ReplaceAll(header.Name, `\`, "/")
		}

		if mode != -1 {
			header.Mode = mode
		}
		NormalizeHeader(header, normalizeModTime)
		header.Uid = uid
		header.Gid = gid

		if err := tw.WriteHeader(header); err != nil {
			return err
		}

		if fi.Mode().IsRegular() {
			f, err := os.Open(filepath.Clean(file))
			if err != nil {
				return err
			}
			defer f.Close()

			if _, err := io.Copy(tw, f); err != nil {
				return err
			}
		}

		return nil
	})
}

// NormalizeHeader scrubs the fields of a tar header that vary across hosts.
func NormalizeHeader(header *tar.Header, normalizeModTime bool) {
	if normalizeModTime {
		header.ModTime = NormalizedDateTime
	}
	header.Uname = ""
	header.Gname = ""
	header.AccessTime = time.Time{}
	header.ChangeTime = time.Time{}
}

func CreateSingleFileTar(tarFile, path, txt string) error {
	fh, err := os.Create(filepath.Clean(tarFile))
	if err != nil {
		return fmt.Errorf("create file for tar: %s", err)
	}
	defer fh.Close()

	tw := tar.NewWriter(fh)
	if err := tw.WriteHeader(&tar.Header{
		Name:    path,
		Size:    int64(len(txt)),
		Mode:    0644,
		ModTime: NormalizedDateTime,
	}); err != nil {
		return err
	}

	if _, err := tw.Write([]byte(txt)); err != nil {
		return err
	}

	return tw.Close()
}

// CreateSingleFileTarReader returns a stream of a tar holding a single file.
func CreateSingleFileTarReader(path, txt string) io.ReadCloser {
	return GenerateTar(func(tw *tar.Writer) error {
		if err := tw.WriteHeader(&tar.Header{
			Name:    path,
			Size:    int64(len(txt)),
			Mode:    0644,
			ModTime: NormalizedDateTime,
		}); err != nil {
			return err
		}
		_, err := tw.Write([]byte(txt))
		return err
	})
}

// ReadTarEntry returns the header and contents of the named entry.
func ReadTarEntry(rc io.Reader, entryPath string) (*tar.Header, []byte, error) {
	canonicalEntryPath := path.Clean(entryPath)
	tr := tar.NewReader(rc)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to get next tar entry")
		}

		if path.Clean(header.Name) == canonicalEntryPath {
			buf, err := io.ReadAll(tr)
			if err != nil {
				return nil, nil, errors.Wrap(err, "failed to read contents")
			}

			return header, buf, nil
		}
	}

	return nil, nil, errors.Wrapf(ErrEntryNotExist, "could not find entry path '%s'", entryPath)
}

func ExtractTar(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}

		path := filepath.Join(dest, hdr.Name) // #nosec G305
		if !strings.HasPrefix(path, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("entry %s would escape destination", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, hdr.FileInfo().Mode()); err != nil {
				return err
			}
		case tar.TypeReg:
			_, err := os.Stat(filepath.Dir(path))
			if os.IsNotExist(err) {
				if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
					return err
				}
			}

			fh, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, hdr.FileInfo().Mode()) // #nosec G304
			if err != nil {
				return err
			}

			if _, err := io.Copy(fh, tr); err != nil { // #nosec G110
				fh.Close()
				return err
			}

			fh.Close()
		case tar.TypeSymlink:
			if err := os.Symlink(hdr.Linkname, path); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown file type in tar %d", hdr.Typeflag)
		}
	}
}

func ExtractTarGZ(r io.Reader, dest string) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return errors.Wrap(err, "failed to create gzip reader")
	}
	defer gzr.Close()
	return ExtractTar(gzr, dest)
}
