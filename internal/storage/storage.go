// Package storage はストレージ抽象化レイヤーを提供します。
package storage

import (
	"context"
	"errors"
	"io/fs"
)

// ErrNotFound は対象のオブジェクトが存在しないことを表します。
var ErrNotFound = errors.New("object not found")

// ObjectInfo はオブジェクトのメタデータです。
type ObjectInfo struct {
	Path string
	Size int64
}

// Store はオブジェクトストレージのインターフェースです。
// ローカルファイルシステム実装（開発環境用）と、将来的な
// GCS実装（本番環境用）を差し替えられるようにします。
type Store interface {
	Save(ctx context.Context, path string, data []byte) error
	Load(ctx context.Context, path string) ([]byte, error)
	Stat(ctx context.Context, path string) (*ObjectInfo, error)
	Delete(ctx context.Context, path string) error
	// URLFor は外部に公開するオブジェクトURLを返します。
	URLFor(path string) string
}

// isNotExist は実装共通の不存在判定です。
func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
