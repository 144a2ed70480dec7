package engine

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	fierrors "github.com/Aman-CERP/fabindex/internal/errors"
)

// archiveEpoch is the modification time written for every archive entry.
var archiveEpoch = time.Unix(0, 0).UTC()

// Archive implements Index. It closes the index, packs its directory into
// a gzip'd tar named after the archive's SHA-256, and returns the descriptor.
// An in-memory index cannot be archived.
func (x *bleveIndex) Archive(ctx context.Context, destDir string) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return nil, fierrors.New(fierrors.ErrCodeArchiveFailed, "index is closed", nil)
	}
	if x.dir == "" {
		return nil, fierrors.New(fierrors.ErrCodeArchiveFailed, "in-memory index cannot be archived", nil)
	}
	if x.writer != nil {
		return nil, fierrors.New(fierrors.ErrCodeArchiveFailed, "writer session still open", nil).
			WithSuggestion("commit or roll back the writer before archiving")
	}

	docs, err := x.index.DocCount()
	if err != nil {
		return nil, fierrors.New(fierrors.ErrCodeArchiveFailed, "cannot count documents", err)
	}
	// Close flushes segments to disk; the directory is final afterwards.
	if err := x.closeLocked(); err != nil {
		return nil, fierrors.New(fierrors.ErrCodeArchiveFailed, "cannot close index", err)
	}

	if destDir == "" {
		destDir = filepath.Dir(x.dir)
	}
	art, err := ArchiveDir(ctx, x.dir, destDir)
	if err != nil {
		return nil, err
	}
	art.Documents = docs

	x.logger.Info("index_archived",
		slog.String("digest", art.Digest),
		slog.String("path", art.Path),
		slog.Int64("size", art.Size),
		slog.Uint64("documents", docs))
	return art, nil
}

// ArchiveDir packs srcDir into destDir/<sha256>.tar.gz. Entries are written
// in lexical order with fixed ownership and timestamps, so identical
// directory contents produce identical archives.
func ArchiveDir(ctx context.Context, srcDir, destDir string) (*Artifact, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fierrors.New(fierrors.ErrCodeArchiveFailed, "cannot create artifact directory", err)
	}

	tmp, err := os.CreateTemp(destDir, ".artifact-*.tar.gz")
	if err != nil {
		return nil, fierrors.New(fierrors.ErrCodeArchiveFailed, "cannot create artifact file", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmp != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	hash := sha256.New()
	counter := &countingWriter{}
	gz := gzip.NewWriter(io.MultiWriter(tmp, hash, counter))
	gz.ModTime = archiveEpoch
	tw := tar.NewWriter(gz)

	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		return addTarEntry(tw, path, filepath.ToSlash(rel), d)
	})
	if walkErr != nil {
		return nil, fierrors.New(fierrors.ErrCodeArchiveFailed, "cannot pack index directory", walkErr)
	}
	if err := tw.Close(); err != nil {
		return nil, fierrors.New(fierrors.ErrCodeArchiveFailed, "cannot finish tar stream", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fierrors.New(fierrors.ErrCodeArchiveFailed, "cannot finish gzip stream", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fierrors.New(fierrors.ErrCodeArchiveFailed, "cannot write artifact", err)
	}

	sum := hex.EncodeToString(hash.Sum(nil))
	final := filepath.Join(destDir, sum+".tar.gz")
	if err := os.Rename(tmpName, final); err != nil {
		return nil, fierrors.New(fierrors.ErrCodeArchiveFailed, "cannot move artifact into place", err)
	}
	tmp = nil

	return &Artifact{
		Digest: "sha256:" + sum,
		Path:   final,
		Size:   counter.n,
	}, nil
}

func addTarEntry(tw *tar.Writer, path, name string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	if !info.Mode().IsDir() && !info.Mode().IsRegular() {
		return fmt.Errorf("unsupported file type at %s", name)
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if info.IsDir() {
		hdr.Name += "/"
	}
	hdr.ModTime = archiveEpoch
	hdr.AccessTime = time.Time{}
	hdr.ChangeTime = time.Time{}
	hdr.Uid, hdr.Gid = 0, 0
	hdr.Uname, hdr.Gname = "", ""
	hdr.Format = tar.FormatPAX

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if info.IsDir() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

// ExtractArchive unpacks an archive written by ArchiveDir into destDir.
// Entries that would escape destDir are rejected.
func ExtractArchive(ctx context.Context, archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fierrors.New(fierrors.ErrCodeArchiveFailed, "cannot open artifact", err).
			WithDetail("path", archivePath)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fierrors.New(fierrors.ErrCodeArchiveFailed, "artifact is not gzip compressed", err).
			WithDetail("path", archivePath)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fierrors.New(fierrors.ErrCodeArchiveFailed, "corrupt artifact", err).
				WithDetail("path", archivePath)
		}

		name := filepath.FromSlash(hdr.Name)
		if !filepath.IsLocal(name) {
			return fierrors.New(fierrors.ErrCodeArchiveFailed,
				fmt.Sprintf("artifact entry %q escapes the target directory", hdr.Name), nil)
		}
		target := filepath.Join(destDir, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return fierrors.New(fierrors.ErrCodeArchiveFailed, "cannot create directory", err)
			}
		case tar.TypeReg:
			if err := extractFile(tr, target); err != nil {
				return fierrors.New(fierrors.ErrCodeArchiveFailed, "cannot extract file", err).
					WithDetail("entry", hdr.Name)
			}
		default:
			return fierrors.New(fierrors.ErrCodeArchiveFailed,
				fmt.Sprintf("artifact entry %q has unsupported type", hdr.Name), nil)
		}
	}
}

func extractFile(r io.Reader, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
