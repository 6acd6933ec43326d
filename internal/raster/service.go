// Package raster はPDFドキュメントをページ画像へラスタライズします。
package raster

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image/jpeg"
	"log"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gen2brain/go-fitz"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/page-forge/internal/convert"
	"github.com/yourusername/page-forge/internal/storage"
)

const pdfMIMEType = "application/pdf"

// Service はストレージ上のPDFをページごとのJPEG画像へ変換します。
// convert.Rasterizer と convert.SourceInspector の両方を実装します。
type Service struct {
	store         storage.Store
	quality       int
	maxSourceSize int64
	maxPages      int
	logger        *log.Logger
}

// Options はServiceの調整可能なパラメータです。
type Options struct {
	// Quality はJPEGエンコード品質（1〜100）です。
	Quality int
	// MaxSourceSize は受け付ける元PDFの最大バイト数です。0は無制限です。
	MaxSourceSize int64
	// MaxPages は変換を許可する最大ページ数です。0は無制限です。
	MaxPages int
}

// NewService はServiceを作成します。
func NewService(store storage.Store, opts Options, logger *log.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("raster: store is required")
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = 85
	}
	return &Service{
		store:         store,
		quality:       opts.Quality,
		maxSourceSize: opts.MaxSourceSize,
		maxPages:      opts.MaxPages,
		logger:        logger,
	}, nil
}

// SourcePath はドキュメントIDに対応する元PDFのストレージパスを返します。
func SourcePath(documentID string) string {
	return "documents/" + documentID + ".pdf"
}

func pagePath(documentID string, page int) string {
	return fmt.Sprintf("pages/%s/page-%03d.jpg", documentID, page)
}

// Inspect はドキュメントを読み込み、投入前バリデーションを行います。
func (s *Service) Inspect(ctx context.Context, documentID string) (*convert.SourceInfo, error) {
	data, err := s.loadSource(ctx, documentID)
	if err != nil {
		return nil, err
	}

	mtype := mimetype.Detect(data)
	if !mtype.Is(pdfMIMEType) {
		return nil, convert.NewError(convert.CodeUnsupportedSource,
			"PDF以外のドキュメントは変換できません。", fmt.Errorf("detected content type %s", mtype.String()))
	}

	pages, err := pdfapi.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return nil, convert.NewError(convert.CodeUnsupportedSource,
			"PDFドキュメントを解析できませんでした。", err)
	}
	if pages <= 0 {
		return nil, convert.NewError(convert.CodeUnsupportedSource,
			"ページを持たないPDFは変換できません。", nil)
	}
	if s.maxPages > 0 && pages > s.maxPages {
		return nil, convert.NewError(convert.CodeInvalidInput,
			fmt.Sprintf("ページ数が上限（%dページ）を超えています。", s.maxPages), nil)
	}

	return &convert.SourceInfo{
		Size:        int64(len(data)),
		Pages:       pages,
		ContentType: pdfMIMEType,
		Fingerprint: fingerprint(data),
	}, nil
}

// Convert は全ページをJPEGへレンダリングし、ストレージへ保存します。
func (s *Service) Convert(ctx context.Context, req convert.RasterRequest) (*convert.RasterResult, error) {
	start := time.Now()

	data, err := s.loadSource(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	reportProgress(req.Progress, "loading", 5)

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, convert.NewError(convert.CodeConversionFailed,
			"PDFドキュメントを開けませんでした。", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, convert.NewError(convert.CodeConversionFailed,
			"ページを持たないPDFは変換できません。", nil)
	}
	if s.maxPages > 0 && pageCount > s.maxPages {
		return nil, convert.NewError(convert.CodeInvalidInput,
			fmt.Sprintf("ページ数が上限（%dページ）を超えています。", s.maxPages), nil)
	}
	reportProgress(req.Progress, "rendering", 10)

	pageURLs := make([]string, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		img, err := doc.Image(i)
		if err != nil {
			return nil, convert.NewError(convert.CodeConversionFailed,
				fmt.Sprintf("%dページ目のレンダリングに失敗しました。", i+1), err)
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.quality}); err != nil {
			return nil, convert.NewError(convert.CodeConversionFailed,
				fmt.Sprintf("%dページ目のエンコードに失敗しました。", i+1), err)
		}

		path := pagePath(req.DocumentID, i+1)
		if err := s.store.Save(ctx, path, buf.Bytes()); err != nil {
			return nil, convert.NewError(convert.CodeStorageError,
				"ページ画像の保存に失敗しました。", err)
		}
		pageURLs = append(pageURLs, s.store.URLFor(path))

		// rendering は10%から90%までを占めます。
		reportProgress(req.Progress, "rendering", 10+(80*(i+1))/pageCount)
	}

	reportProgress(req.Progress, "finalizing", 95)
	if s.logger != nil {
		s.logger.Printf("rasterized document %s: %d pages in %s", req.DocumentID, pageCount, time.Since(start))
	}

	return &convert.RasterResult{
		PageCount:         pageCount,
		PageURLs:          pageURLs,
		SourceFingerprint: fingerprint(data),
		ProcessingTime:    time.Since(start),
	}, nil
}

func (s *Service) loadSource(ctx context.Context, documentID string) ([]byte, error) {
	data, err := s.store.Load(ctx, SourcePath(documentID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, convert.NewError(convert.CodeDocumentNotFound,
				"指定されたドキュメントが見つかりません。", err)
		}
		return nil, convert.NewError(convert.CodeStorageError,
			"ドキュメントの読み込みに失敗しました。", err)
	}
	if s.maxSourceSize > 0 && int64(len(data)) > s.maxSourceSize {
		return nil, convert.NewError(convert.CodeInvalidInput,
			fmt.Sprintf("ファイルサイズが上限（%dバイト）を超えています。", s.maxSourceSize), nil)
	}
	return data, nil
}

func fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func reportProgress(cb convert.ProgressReporter, stage string, percent int) {
	if cb == nil {
		return
	}
	cb(stage, percent)
}
