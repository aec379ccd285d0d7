package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockUploader struct {
	key         string
	contentType string
	body        []byte
	readErr     error
	err         error
	skipRead    bool
}

func (m *mockUploader) Upload(_ context.Context, key string, body io.Reader, contentType string) error {
	m.key = key
	m.contentType = contentType
	if !m.skipRead {
		m.body, m.readErr = io.ReadAll(body)
		if m.readErr != nil {
			return m.readErr
		}
	}
	return m.err
}

type entry struct {
	name string
	mode int64
	body string
}

func readArchive(t *testing.T, data []byte) []entry {
	t.Helper()
	gr, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer gr.Close()

	var out []entry
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		out = append(out, entry{name: hdr.Name, mode: hdr.Mode, body: string(body)})
	}
	return out
}

func dayTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	state := filepath.Join(dir, "root", "persistent-state")
	require.NoError(t, os.MkdirAll(state, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(state, "20220101.txt"), []byte("one\ntwo\n"), 0o644))
	return dir
}

func TestPublish(t *testing.T) {
	dir := dayTree(t)
	up := &mockUploader{}

	err := NewPublisher(up, nil).Publish(context.Background(), dir, []string{"."}, "packaged/20220101.tar.gz")
	require.NoError(t, err)

	assert.Equal(t, "packaged/20220101.tar.gz", up.key)
	assert.Equal(t, "application/gzip", up.contentType)

	entries := readArchive(t, up.body)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	assert.Equal(t, []string{
		"./",
		"./root/",
		"./root/persistent-state/",
		"./root/persistent-state/20220101.txt",
	}, names)
	assert.Equal(t, "one\ntwo\n", entries[3].body)
	assert.Equal(t, int64(0o644), entries[3].mode&0o777)
}

func TestWrite_Deterministic(t *testing.T) {
	dir := dayTree(t)
	mtime := time.Date(2022, 1, 2, 12, 0, 0, 500, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "root", "persistent-state", "20220101.txt"), mtime, mtime))

	var a, b bytes.Buffer
	require.NoError(t, Write(&a, dir, []string{"root"}))
	require.NoError(t, Write(&b, dir, []string{"root"}))
	assert.Equal(t, a.Bytes(), b.Bytes())

	entries := readArchive(t, a.Bytes())
	require.Len(t, entries, 3)
	assert.Equal(t, "./root/", entries[0].name)
}

func TestWrite_SkipsNonRegular(t *testing.T) {
	dir := dayTree(t)
	if err := os.Symlink("root", filepath.Join(dir, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, dir, []string{"."}))
	for _, e := range readArchive(t, buf.Bytes()) {
		assert.NotEqual(t, "./link", e.name)
	}
}

func TestPublish_MissingDirectory(t *testing.T) {
	up := &mockUploader{}

	err := NewPublisher(up, nil).Publish(context.Background(), filepath.Join(t.TempDir(), "absent"), []string{"."}, "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Error(t, up.readErr, "upload must see the stream failure")
}

func TestPublish_UploadFailure(t *testing.T) {
	boom := errors.New("multipart aborted")
	up := &mockUploader{err: boom}

	err := NewPublisher(up, nil).Publish(context.Background(), dayTree(t), []string{"."}, "k")
	assert.ErrorIs(t, err, boom)
}

func TestPublish_UploadGivesUpEarly(t *testing.T) {
	boom := errors.New("access denied")
	up := &mockUploader{err: boom, skipRead: true}

	done := make(chan error, 1)
	go func() {
		done <- NewPublisher(up, nil).Publish(context.Background(), dayTree(t), []string{"."}, "k")
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Publish did not return after the upload failed")
	}
}
