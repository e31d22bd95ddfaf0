// Package downloader retrieves design and jobsheet documents for ingested
// orders. Every document sits behind an indirection: the referenced URL
// returns a locator with the actual file location, which is then fetched
// without authentication.
package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/Whateverdoa/RESELLER-PDC-SWITCH/internal/model"
)

// TokenSource supplies a valid supplier bearer token for locator requests.
type TokenSource interface {
	EnsureValid(ctx context.Context) (string, error)
}

// Downloader fetches order documents into a local directory.
type Downloader struct {
	tokens     TokenSource
	dir        string
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a downloader storing files under dir.
func New(tokens TokenSource, dir string, logger *zap.Logger) *Downloader {
	return &Downloader{
		tokens: tokens,
		dir:    dir,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// RetrieveFiles downloads every file reference of the order and returns the
// number of files stored. References fail independently: a broken locator or
// transfer is logged and counted as a miss without touching the siblings.
// File retrieval never changes order status.
func (d *Downloader) RetrieveFiles(ctx context.Context, order *model.Order) int {
	refs, err := order.FileReferences()
	if err != nil {
		d.logger.Error("parse file references",
			zap.String("external_id", order.ExternalID),
			zap.Error(err))
		return 0
	}

	stored := 0
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return stored
		}
		if err := d.downloadOne(ctx, order.ExternalID, ref); err != nil {
			d.logger.Error("file fetch failed",
				zap.String("external_id", order.ExternalID),
				zap.String("kind", string(ref.Kind)),
				zap.Int("seq", ref.Seq),
				zap.Error(err))
			continue
		}
		stored++
	}

	d.logger.Info("files retrieved",
		zap.String("external_id", order.ExternalID),
		zap.Int("stored", stored),
		zap.Int("referenced", len(refs)))

	return stored
}

// FilePath returns the deterministic on-disk location for one document.
func (d *Downloader) FilePath(externalID string, kind model.FileKind, seq int) string {
	return filepath.Join(d.dir, externalID, fmt.Sprintf("%s_%s_%d.pdf", externalID, kind, seq))
}

func (d *Downloader) downloadOne(ctx context.Context, externalID string, ref model.FileReference) error {
	token, err := d.tokens.EnsureValid(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return fmt.Errorf("create locator request: %w", err)
	}
	req.Header.Set("Authorization", token)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch locator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch locator: unexpected status %d", resp.StatusCode)
	}

	var locator struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&locator); err != nil {
		return fmt.Errorf("decode locator: %w", err)
	}
	if locator.URL == "" {
		return fmt.Errorf("locator without url")
	}

	// Second stage: the actual bytes, served without auth.
	fileReq, err := http.NewRequestWithContext(ctx, http.MethodGet, locator.URL, nil)
	if err != nil {
		return fmt.Errorf("create file request: %w", err)
	}

	fileResp, err := d.httpClient.Do(fileReq)
	if err != nil {
		return fmt.Errorf("fetch file: %w", err)
	}
	defer fileResp.Body.Close()

	if fileResp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch file: unexpected status %d", fileResp.StatusCode)
	}

	path := d.FilePath(externalID, ref.Kind, ref.Seq)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create order directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	if _, err := io.Copy(f, fileResp.Body); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	return nil
}
