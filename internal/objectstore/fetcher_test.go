package objectstore

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/meridianrag/ingestcore/internal/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	body []byte
	err  error
}

func (f *fakeStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	return io.NopCloser(bytes.NewReader(f.body)), int64(len(f.body)), nil
}

func (f *fakeStore) Head(ctx context.Context, bucket, key string) (int64, error) {
	return int64(len(f.body)), nil
}

func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestFetch_ExtractsValidArchive(t *testing.T) {
	archive := buildTarGz(t, map[string]string{
		"rec-1/conversation.json": `{"hello":"world"}`,
		"rec-1/checksums.sha256":  "deadbeef  conversation.json\n",
	})
	store := &fakeStore{body: archive}

	fetched, err := Fetch(context.Background(), store, t.TempDir(), "bucket", "key")
	require.NoError(t, err)
	defer fetched.Close()

	assert.FileExists(t, fetched.ArchivePath)
	assert.DirExists(t, fetched.ExtractedRoot)
	assert.Greater(t, fetched.UncompressedBytes, int64(0))
}

func TestFetch_RejectsPathTraversal(t *testing.T) {
	archive := buildTarGz(t, map[string]string{
		"../../etc/passwd": "pwned",
	})
	store := &fakeStore{body: archive}

	_, err := Fetch(context.Background(), store, t.TempDir(), "bucket", "key")
	require.Error(t, err)
}

func TestFetch_ObjectNotFound(t *testing.T) {
	store := &fakeStore{err: router.ErrObjectNotFound}

	_, err := Fetch(context.Background(), store, t.TempDir(), "bucket", "key")
	require.Error(t, err)
	assert.True(t, errors.Is(err, router.ErrObjectNotFound))
}

func TestSafeJoin_RejectsAbsoluteEscape(t *testing.T) {
	_, err := safeJoin("/tmp/root", "/etc/passwd")
	require.Error(t, err)
}

func TestSafeJoin_AllowsNestedPath(t *testing.T) {
	p, err := safeJoin("/tmp/root", "media/clip.wav")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/root/media/clip.wav", p)
}
