package blob_test

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/heroku/color"
	"github.com/onsi/gomega/ghttp"
	"github.com/sclevine/spec"
	"github.com/sclevine/spec/report"

	"github.com/kilnbuild/kiln/internal/paths"
	"github.com/kilnbuild/kiln/pkg/archive"
	"github.com/kilnbuild/kiln/pkg/blob"
	"github.com/kilnbuild/kiln/pkg/logging"
	h "github.com/kilnbuild/kiln/testhelpers"
)

func TestDownloader(t *testing.T) {
	color.Disable(true)
	defer color.Disable(false)
	spec.Run(t, "Downloader", testDownloader, spec.Sequential(), spec.Report(report.Terminal{}))
}

func testDownloader(t *testing.T, when spec.G, it spec.S) {
	when("#Download", func() {
		var (
			cacheDir string
			err      error
			subject  blob.Downloader
		)

		it.Before(func() {
			cacheDir, err = os.MkdirTemp("", "cache")
			h.AssertNil(t, err)
			subject = blob.NewDownloader(logging.NewLogWithWriters(io.Discard, io.Discard), cacheDir)
		})

		it.After(func() {
			h.AssertNil(t, os.RemoveAll(cacheDir))
		})

		when("is path", func() {
			var relPath string

			it.Before(func() {
				relPath = filepath.Join("testdata", "blob")
			})

			when("is absolute", func() {
				it("return the absolute path", func() {
					absPath, err := filepath.Abs(relPath)
					h.AssertNil(t, err)

					b, err := subject.Download(context.TODO(), absPath)
					h.AssertNil(t, err)
					assertBlob(t, b)
				})
			})

			when("is relative", func() {
				it("resolves the absolute path", func() {
					b, err := subject.Download(context.TODO(), relPath)
					h.AssertNil(t, err)
					assertBlob(t, b)
				})
			})

			when("path is a file:// uri", func() {
				it("resolves the absolute path", func() {
					absPath, err := filepath.Abs(relPath)
					h.AssertNil(t, err)

					uri, err := paths.FilePathToURI(absPath)
					h.AssertNil(t, err)

					b, err := subject.Download(context.TODO(), uri)
					h.AssertNil(t, err)
					assertBlob(t, b)
				})
			})
		})

		when("is uri", func() {
			var (
				server *ghttp.Server
				uri    string
				tgz    string
			)

			it.Before(func() {
				server = ghttp.NewServer()
				uri = server.URL() + "/downloader/somefile.tgz"

				tgz = h.CreateTGZ(t, filepath.Join("testdata", "blob"), "./", 0777)
			})

			it.After(func() {
				os.Remove(tgz)
				server.Close()
			})

			when("uri is valid", func() {
				it.Before(func() {
					server.AppendHandlers(func(w http.ResponseWriter, r *http.Request) {
						w.Header().Add("ETag", "A")
						http.ServeFile(w, r, tgz)
					})

					server.AppendHandlers(func(w http.ResponseWriter, r *http.Request) {
						w.WriteHeader(304)
					})
				})

				it("downloads from a 'http(s)://' URI", func() {
					b, err := subject.Download(context.TODO(), uri)
					h.AssertNil(t, err)
					assertBlob(t, b)
				})

				it("uses cache from a 'http(s)://' URI tgz", func() {
					b, err := subject.Download(context.TODO(), uri)
					h.AssertNil(t, err)
					assertBlob(t, b)

					b, err = subject.Download(context.TODO(), uri)
					h.AssertNil(t, err)
					assertBlob(t, b)
				})
			})

			when("RawDownload option", func() {
				when("uri", func() {
					it.Before(func() {
						server.AppendHandlers(func(w http.ResponseWriter, r *http.Request) {
							w.Header().Add("ETag", "A")
							http.ServeFile(w, r, tgz)
						})

						server.AppendHandlers(func(w http.ResponseWriter, r *http.Request) {
							w.WriteHeader(304)
						})
					})

					it("downloads and reads URI contents as raw bytes", func() {
						b, err := subject.Download(context.TODO(), uri, blob.RawDownload)
						h.AssertNil(t, err)

						// validate by checking that blob contents are in gzip format.
						assertBlob(t, b, hasGzip)
					})

					it("downloads and reads cached request as raw bytes", func() {
						b, err := subject.Download(context.TODO(), uri, blob.RawDownload)
						h.AssertNil(t, err)
						assertBlob(t, b, hasGzip)

						// second download should use cache
						b, err = subject.Download(context.TODO(), uri, blob.RawDownload)
						h.AssertNil(t, err)
						assertBlob(t, b, hasGzip)
					})
				})

				when("file", func() {
					it("opens and reads raw bytes", func() {
						absPath, err := filepath.Abs(tgz)
						h.AssertNil(t, err)

						b, err := subject.Download(context.TODO(), absPath, blob.RawDownload)
						h.AssertNil(t, err)
						assertBlob(t, b, hasGzip)
					})
				})

				when("followed by non-raw download", func() {
					it("does not perform a second raw download", func() {
						absPath, err := filepath.Abs(tgz)
						h.AssertNil(t, err)

						b, err := subject.Download(context.TODO(), absPath, blob.RawDownload)
						h.AssertNil(t, err)
						assertBlob(t, b, hasGzip)

						// second non-raw download
						b, err = subject.Download(context.TODO(), absPath)
						h.AssertNil(t, err)
						assertBlob(t, b)
					})
				})
			})

			when("ValidateDownload option", func() {
				when("file", func() {
					var absPath string

					it.Before(func() {
						absPath, err = filepath.Abs(tgz)
						h.AssertNil(t, err)
					})

					it("validates file sha256's match", func() {
						_, err = subject.Download(context.TODO(), absPath, blob.ValidateDownload(decompressedSHA256(t, tgz)))
						h.AssertNil(t, err)
					})

					when("sha256 values do not match", func() {
						it("returns an error", func() {
							sha := decompressedSHA256(t, tgz)
							_, err = subject.Download(context.TODO(), absPath, blob.ValidateDownload("bad-sha256"))
							h.AssertError(t, err, fmt.Sprintf("sha256 validation failed, expected %q, got %q", "sha256:bad-sha256", "sha256:"+sha))
						})
					})
				})

				when("uri", func() {
					it.Before(func() {
						server.AppendHandlers(func(w http.ResponseWriter, r *http.Request) {
							w.Header().Add("ETag", "A")
							http.ServeFile(w, r, tgz)
						})

						server.AppendHandlers(func(w http.ResponseWriter, r *http.Request) {
							w.WriteHeader(304)
						})
					})

					it("validates file sha256's match", func() {
						_, err := subject.Download(context.TODO(), uri, blob.ValidateDownload(decompressedSHA256(t, tgz)))
						h.AssertNil(t, err)
					})

					when("sha256 values do not match", func() {
						it("returns an error", func() {
							sha := decompressedSHA256(t, tgz)
							_, err := subject.Download(context.TODO(), uri, blob.ValidateDownload("bad-sha256"))
							h.AssertError(t, err, fmt.Sprintf("sha256 validation failed, expected %q, got %q", "sha256:bad-sha256", "sha256:"+sha))
						})
					})
				})
			})

			when("uri is invalid", func() {
				when("uri file is not found", func() {
					it.Before(func() {
						server.AppendHandlers(func(w http.ResponseWriter, r *http.Request) {
							w.WriteHeader(404)
						})
					})

					it("should return error", func() {
						_, err := subject.Download(context.TODO(), uri)
						h.AssertError(t, err, fmt.Sprintf("could not download from '%s', code http status '404'", uri))
					})
				})

				when("uri is unsupported", func() {
					it("should return error", func() {
						_, err := subject.Download(context.TODO(), "not-supported://file.tgz")
						h.AssertError(t, err, "unsupported protocol 'not-supported' in URI 'not-supported://file.tgz'")
					})
				})
			})
		})
	})
}

type blobFormatOption func(t *testing.T, r io.Reader) io.Reader

func hasGzip(t *testing.T, r io.Reader) io.Reader {
	t.Helper()

	gr, err := gzip.NewReader(r)
	h.AssertNil(t, err)

	return gr
}

func assertBlob(t *testing.T, b blob.Blob, formatOpts ...blobFormatOption) {
	t.Helper()

	r, err := b.Open()
	h.AssertNil(t, err)
	defer r.Close()

	var fr io.Reader = r
	for _, opt := range formatOpts {
		fr = opt(t, fr)
	}

	_, bytes, err := archive.ReadTarEntry(fr, "file.txt")
	h.AssertNil(t, err)

	h.AssertEq(t, string(bytes), "contents")
}

func decompressedSHA256(t *testing.T, path string) string {
	t.Helper()

	fh, err := os.Open(filepath.Clean(path))
	h.AssertNil(t, err)
	defer fh.Close()

	gz, err := gzip.NewReader(fh)
	h.AssertNil(t, err)
	defer gz.Close()

	sum := sha256.New()
	_, err = io.Copy(sum, gz)
	h.AssertNil(t, err)

	return hex.EncodeToString(sum.Sum(nil))
}
