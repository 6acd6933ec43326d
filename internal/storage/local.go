package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Local はローカルファイルシステムに保存する Store 実装です。
type Local struct {
	root    string
	baseURL string
}

// NewLocal はルートディレクトリを作成して Local を返します。
func NewLocal(root, baseURL string) (*Local, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &Local{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Save はオブジェクトを保存します。中間ディレクトリも作成します。
func (l *Local) Save(ctx context.Context, path string, data []byte) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o640)
}

// Load はオブジェクトを読み込みます。
func (l *Local) Load(ctx context.Context, path string) ([]byte, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if isNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Stat はオブジェクトのメタデータを返します。
func (l *Local) Stat(ctx context.Context, path string) (*ObjectInfo, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if isNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ObjectInfo{Path: path, Size: info.Size()}, nil
}

// Delete はオブジェクトを削除します。存在しなくてもエラーにしません。
func (l *Local) Delete(ctx context.Context, path string) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !isNotExist(err) {
		return err
	}
	return nil
}

// URLFor は公開URLを返します。
func (l *Local) URLFor(path string) string {
	return l.baseURL + "/" + strings.TrimLeft(path, "/")
}

// Root は配信用のルートディレクトリを返します。
func (l *Local) Root() string {
	return l.root
}

// resolve はルート外へのパストラバーサルを拒否します。
func (l *Local) resolve(path string) (string, error) {
	cleaned := filepath.Clean("/" + path)
	full := filepath.Join(l.root, cleaned)
	if !strings.HasPrefix(full, filepath.Clean(l.root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid object path: %s", path)
	}
	return full, nil
}
