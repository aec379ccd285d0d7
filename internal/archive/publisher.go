// Package archive streams a local directory tree into a gzip-compressed tar
// and uploads it as a single object.
package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"
)

// ContentType is the content type of published archives.
const ContentType = "application/gzip"

// Uploader is the object-store write used by Publisher.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) error
}

// Publisher writes directory archives to an Uploader.
type Publisher struct {
	store  Uploader
	logger *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(store Uploader, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{store: store, logger: logger}
}

// Publish archives paths (relative to dir, typically ".") and uploads the
// stream to key. Archive construction and upload run concurrently over a
// pipe so memory stays bounded. A failure on either side aborts the other;
// a failed archive stream is surfaced to the upload as a read error, which
// aborts the multipart upload before anything is committed.
func (p *Publisher) Publish(ctx context.Context, dir string, paths []string, key string) error {
	pr, pw := io.Pipe()
	counter := &countingWriter{w: pw}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := Write(counter, dir, paths)
		pw.CloseWithError(err)
		if err != nil {
			return fmt.Errorf("archiving %s: %w", dir, err)
		}
		return nil
	})
	g.Go(func() error {
		err := p.store.Upload(gctx, key, pr, ContentType)
		if err != nil {
			pr.CloseWithError(err)
			return err
		}
		pr.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "published archive",
		"output_key", key,
		"compressed_bytes", counter.n,
	)
	return nil
}

// Write emits a tar.gz of paths under dir to w. Entries are produced in
// lexical walk order with "./"-prefixed names. Directories and regular files
// are included; anything else is skipped. Owner identity is cleared and
// modification times are truncated to whole seconds.
func Write(w io.Writer, dir string, paths []string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	for _, rel := range paths {
		root := filepath.Join(dir, rel)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			return writeEntry(tw, dir, path, d)
		})
		if err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("closing gzip: %w", err)
	}
	return nil
}

func writeEntry(tw *tar.Writer, dir, path string, d fs.DirEntry) error {
	if !d.IsDir() && !d.Type().IsRegular() {
		return nil
	}

	info, err := d.Info()
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("header %s: %w", rel, err)
	}
	hdr.Name = entryName(rel, d.IsDir())
	hdr.ModTime = info.ModTime().Truncate(time.Second)
	hdr.AccessTime = time.Time{}
	hdr.ChangeTime = time.Time{}
	hdr.Uid, hdr.Gid = 0, 0
	hdr.Uname, hdr.Gname = "", ""

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header %s: %w", hdr.Name, err)
	}
	if d.IsDir() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("write data %s: %w", hdr.Name, err)
	}
	return nil
}

func entryName(rel string, isDir bool) string {
	if rel == "." {
		return "./"
	}
	name := "./" + filepath.ToSlash(rel)
	if isDir {
		name += "/"
	}
	return name
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
