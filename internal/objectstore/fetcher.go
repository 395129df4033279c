package objectstore

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/meridianrag/ingestcore/internal/router"
)

const (
	// MaxFileSize is the per-file cap from spec §3 ("individual file ≤ 2 GiB").
	MaxFileSize = 2 << 30
	// MaxTotalSize is the archive total cap from spec §3 ("total ≤ 5 GiB").
	MaxTotalSize = 5 << 30

	oneMiB = 1 << 20
)

// Fetched holds the results of a successful fetch-and-extract: the
// downloaded archive file, the extraction root, and the uncompressed
// total size. Close removes both from disk; callers must defer it on
// every exit path (success, failure, or cancellation) per spec §4.3.
type Fetched struct {
	ArchivePath       string
	ExtractedRoot     string
	UncompressedBytes int64

	parentDir string
}

// Close removes the job's scoped temporary directory.
func (f *Fetched) Close() error {
	if f.parentDir == "" {
		return nil
	}
	return os.RemoveAll(f.parentDir)
}

// Fetch downloads the object at (bucket, key) into a scoped temp directory
// under baseTempDir and extracts it as a tar+gzip archive, guarding
// against path traversal and oversized members/archives (spec §4.3).
func Fetch(ctx context.Context, store ObjectStore, baseTempDir, bucket, key string) (*Fetched, error) {
	parentDir, err := os.MkdirTemp(baseTempDir, "ingest-*")
	if err != nil {
		return nil, fmt.Errorf("objectstore: create temp dir: %w", err)
	}
	fetched := &Fetched{parentDir: parentDir}

	body, size, err := store.Get(ctx, bucket, key)
	if err != nil {
		os.RemoveAll(parentDir)
		return nil, err
	}
	defer body.Close()

	if size > MaxTotalSize {
		os.RemoveAll(parentDir)
		return nil, fmt.Errorf("%w: archive declares %d bytes, cap is %d", router.ErrPayloadTooLarge, size, MaxTotalSize)
	}

	archivePath := filepath.Join(parentDir, "archive.tar.gz")
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		os.RemoveAll(parentDir)
		return nil, fmt.Errorf("objectstore: create archive file: %w", err)
	}

	written, err := io.Copy(archiveFile, io.LimitReader(body, MaxTotalSize+1))
	closeErr := archiveFile.Close()
	if err != nil {
		os.RemoveAll(parentDir)
		return nil, fmt.Errorf("%w: download: %s", router.ErrObjectStoreUnavailable, err)
	}
	if closeErr != nil {
		os.RemoveAll(parentDir)
		return nil, fmt.Errorf("objectstore: close archive file: %w", closeErr)
	}
	if written > MaxTotalSize {
		os.RemoveAll(parentDir)
		return nil, fmt.Errorf("%w: downloaded archive exceeds %d bytes", router.ErrPayloadTooLarge, MaxTotalSize)
	}

	fetched.ArchivePath = archivePath

	extractedRoot := filepath.Join(parentDir, "extracted")
	if err := os.MkdirAll(extractedRoot, 0o755); err != nil {
		os.RemoveAll(parentDir)
		return nil, fmt.Errorf("objectstore: create extraction root: %w", err)
	}
	fetched.ExtractedRoot = extractedRoot

	uncompressed, err := extractTarGz(archivePath, extractedRoot)
	if err != nil {
		os.RemoveAll(parentDir)
		return nil, err
	}
	fetched.UncompressedBytes = uncompressed

	return fetched, nil
}

// extractTarGz extracts a tar+gzip archive into root, refusing any member
// whose resolved path would escape root (path traversal) and enforcing
// per-file and running total size caps.
func extractTarGz(archivePath, root string) (int64, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return 0, fmt.Errorf("objectstore: open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("objectstore: gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var total int64

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("objectstore: tar read: %w", err)
		}

		if hdr.Size > MaxFileSize {
			return 0, fmt.Errorf("%w: member %s is %d bytes, cap is %d", router.ErrPayloadTooLarge, hdr.Name, hdr.Size, MaxFileSize)
		}

		target, err := safeJoin(root, hdr.Name)
		if err != nil {
			return 0, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return 0, fmt.Errorf("objectstore: mkdir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return 0, fmt.Errorf("objectstore: mkdir for %s: %w", target, err)
			}
			n, err := extractFile(target, tr)
			if err != nil {
				return 0, err
			}
			total += n
			if total > MaxTotalSize {
				return 0, fmt.Errorf("%w: extracted total exceeds %d bytes", router.ErrPayloadTooLarge, MaxTotalSize)
			}
		default:
			// symlinks, devices, etc. are not part of the package contract; skip.
			continue
		}
	}

	return total, nil
}

func extractFile(target string, r io.Reader) (int64, error) {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("objectstore: create %s: %w", target, err)
	}
	defer out.Close()

	n, err := io.Copy(out, io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return 0, fmt.Errorf("objectstore: write %s: %w", target, err)
	}
	if n > MaxFileSize {
		return 0, fmt.Errorf("%w: member %s exceeds %d bytes", router.ErrPayloadTooLarge, target, MaxFileSize)
	}
	return n, nil
}

// safeJoin resolves a tar member name against root and rejects any path
// that would escape it, defending against "../" traversal and absolute
// paths embedded in a hostile archive.
func safeJoin(root, name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("objectstore: archive member %q escapes extraction root", name)
	}
	cleaned := filepath.Clean(name)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("objectstore: archive member %q escapes extraction root", name)
	}
	joined := filepath.Join(root, cleaned)
	if !strings.HasPrefix(joined, filepath.Clean(root)+string(os.PathSeparator)) && joined != filepath.Clean(root) {
		return "", fmt.Errorf("objectstore: archive member %q escapes extraction root", name)
	}
	return joined, nil
}
