package adapters

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/shouni/go-remote-io/pkg/remoteio"
)

var _ remoteio.InputReader = (*FileReader)(nil)

// imageExts は List が列挙する拡張子です。
var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true}

// FileReader はローカルパスと http(s) URL から入力画像を読み込みます。
type FileReader struct {
	httpClient   HTTPClient
	allowPrivate bool
}

// NewFileReader は httpClient が nil の場合ローカルファイルだけを扱います。
// allowPrivate が false の場合、プライベートネットワーク宛ての URL は拒否します。
func NewFileReader(httpClient HTTPClient, allowPrivate bool) *FileReader {
	return &FileReader{httpClient: httpClient, allowPrivate: allowPrivate}
}

// Open は uri の内容を返します。file:// プレフィックスは取り除きます。
func (r *FileReader) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	if isHTTP(uri) {
		if r.httpClient == nil {
			return nil, fmt.Errorf("http input is not configured: %s", uri)
		}
		if !r.allowPrivate {
			safe, err := isSafeURL(uri)
			if err != nil {
				return nil, fmt.Errorf("安全ではないURLが指定されました: %w", err)
			}
			if !safe {
				return nil, fmt.Errorf("安全ではないURLが指定されました: %s", uri)
			}
		}
		data, err := r.httpClient.FetchBytes(ctx, uri)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return os.Open(localPath(uri))
}

// List はディレクトリ直下から再帰的に画像ファイルを列挙し、パスごとに fn を呼びます。
func (r *FileReader) List(ctx context.Context, uri string, fn func(string) error) error {
	if isHTTP(uri) {
		return fmt.Errorf("listing is not supported for %s", uri)
	}
	return filepath.WalkDir(localPath(uri), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !imageExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		return fn(path)
	})
}

// ReadAll は Open して全て読み込むヘルパーです。
func ReadAll(ctx context.Context, reader remoteio.InputReader, uri string) ([]byte, error) {
	rc, err := reader.Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func isHTTP(uri string) bool {
	return strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")
}

func localPath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

// isSafeURL は SSRF 対策として URL を検証します。
// 名前解決されたすべての IP アドレスに対してプライベート IP チェックを行います。
func isSafeURL(rawURL string) (bool, error) {
	parsedURL, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return false, fmt.Errorf("URLパース失敗: %w", err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return false, fmt.Errorf("不許可スキーム: %s", parsedURL.Scheme)
	}

	host := parsedURL.Hostname()
	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		resolved, err := net.LookupIP(host)
		if err != nil {
			return false, fmt.Errorf("名前解決失敗: %w", err)
		}
		ips = resolved
	}

	if len(ips) == 0 {
		return false, fmt.Errorf("IPが見つかりません")
	}
	for _, ip := range ips {
		if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return false, fmt.Errorf("制限されたネットワークへのアクセスを検知: %s", ip.String())
		}
	}
	return true, nil
}
