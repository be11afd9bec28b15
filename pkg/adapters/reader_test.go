package adapters

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileReader(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for _, name := range []string{"a.png", "b.JPG", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "c.jpeg"), []byte("c"), 0o644))

	t.Run("ローカルファイルを開ける", func(t *testing.T) {
		r := NewFileReader(nil, false)
		data, err := ReadAll(ctx, r, "file://"+filepath.Join(dir, "a.png"))
		require.NoError(t, err)
		assert.Equal(t, "a.png", string(data))
	})

	t.Run("List は画像ファイルだけを再帰的に列挙する", func(t *testing.T) {
		r := NewFileReader(nil, false)
		var got []string
		err := r.List(ctx, dir, func(p string) error {
			rel, _ := filepath.Rel(dir, p)
			got = append(got, rel)
			return nil
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a.png", "b.JPG", filepath.Join("sub", "c.jpeg")}, got)
	})

	t.Run("コールバックのエラーで列挙は止まる", func(t *testing.T) {
		r := NewFileReader(nil, false)
		stop := errors.New("stop")
		calls := 0
		err := r.List(ctx, dir, func(string) error { calls++; return stop })
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, calls)
	})

	t.Run("HTTP クライアントがなければ URL は読めない", func(t *testing.T) {
		_, err := NewFileReader(nil, false).Open(ctx, "https://example.com/a.png")
		assert.ErrorContains(t, err, "not configured")
	})

	t.Run("プライベートアドレスは拒否される", func(t *testing.T) {
		client := &mockHTTPClient{}
		_, err := NewFileReader(client, false).Open(ctx, "http://127.0.0.1:8080/a.png")
		assert.Error(t, err)
		assert.Empty(t, client.fetched)
	})

	t.Run("allowPrivate なら httpkit 経由で取得する", func(t *testing.T) {
		client := &mockHTTPClient{fetchFunc: func(string) ([]byte, error) { return []byte("remote"), nil }}
		rc, err := NewFileReader(client, true).Open(ctx, "http://127.0.0.1:8080/a.png")
		require.NoError(t, err)
		defer rc.Close()
		data, _ := io.ReadAll(rc)
		assert.Equal(t, "remote", string(data))
	})

	t.Run("URL の一覧取得は未対応", func(t *testing.T) {
		err := NewFileReader(&mockHTTPClient{}, true).List(ctx, "https://example.com/", func(string) error { return nil })
		assert.Error(t, err)
	})
}

func TestIsSafeURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		safe bool
	}{
		{"ループバックは拒否", "http://127.0.0.1/img.png", false},
		{"プライベート IP は拒否", "http://10.0.0.5/img.png", false},
		{"リンクローカルは拒否", "http://169.254.169.254/latest/meta-data", false},
		{"不許可スキーム", "ftp://8.8.8.8/img.png", false},
		{"パースできない URL", "::not a url", false},
		{"公開 IP は許可", "https://8.8.8.8/img.png", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			safe, err := isSafeURL(tt.url)
			assert.Equal(t, tt.safe, safe)
			if !tt.safe {
				assert.Error(t, err)
			}
		})
	}
}
