package migrate

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/karacommerce/catalog-migrator/internal/staging"
)

// migrateMedia downloads every persisted media file with a non-null path into
// the local media store. One bad file never aborts the batch.
func (m *Migrator) migrateMedia(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "migrate.media")
	defer span.End()

	m.log.Info().Msg("Downloading product media")
	_ = m.store.UpdateProgress(ctx, staging.EntityMedia, staging.StatusInProgress, staging.ProgressUpdate{})

	files, err := m.store.ListMediaFiles(ctx)
	if err != nil {
		detail := fmt.Sprintf("failed to list media files: %v", err)
		_ = m.store.UpdateProgress(ctx, staging.EntityMedia, staging.StatusFailed,
			staging.ProgressUpdate{ErrorDetails: &detail})
		m.pushStatus(ctx, staging.EntityMedia)
		return err
	}

	total := len(files)
	_ = m.store.UpdateProgress(ctx, staging.EntityMedia, staging.StatusInProgress,
		staging.ProgressUpdate{TotalCount: &total})
	m.log.Info().Int("count", total).Msg("Found media entries to download")

	if total == 0 {
		zero := 0
		_ = m.store.UpdateProgress(ctx, staging.EntityMedia, staging.StatusCompleted,
			staging.ProgressUpdate{TotalCount: &zero, ProcessedCount: &zero})
		m.pushStatus(ctx, staging.EntityMedia)
		return nil
	}

	successCount, errorCount := 0, 0
	for _, f := range files {
		if err := m.downloadMediaFile(ctx, f); err != nil {
			errorCount++
			m.log.Error().Err(err).Str("file", f.FilePath).Msg("Failed to download media file")
		} else {
			successCount++
		}

		processed := successCount + errorCount
		if processed%mediaCheckpointEvery == 0 || processed == total {
			m.checkpoint(ctx, staging.EntityMedia, total, processed, successCount, errorCount, strconv.Itoa(f.ID))
		}
	}

	return m.finishStage(ctx, staging.EntityMedia, total, successCount, errorCount)
}

// downloadMediaFile resolves the absolute URL of a media row and streams it
// into the media store under the file's relative path.
func (m *Migrator) downloadMediaFile(ctx context.Context, f staging.MediaFile) error {
	rawURL, localKey := m.resolveMediaURL(f.FilePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build media request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fetch %s: HTTP %d", rawURL, resp.StatusCode)
	}

	if _, err := m.media.PutStream(ctx, localKey, resp.Body); err != nil {
		return err
	}
	return nil
}

// resolveMediaURL turns a stored file path into the absolute download URL and
// the local storage key. Already-absolute paths are used as-is; relative ones
// are prefixed with the source media base after stripping a single leading
// slash.
func (m *Migrator) resolveMediaURL(filePath string) (rawURL, localKey string) {
	if strings.HasPrefix(filePath, "http://") || strings.HasPrefix(filePath, "https://") {
		localKey = filePath
		if u, err := url.Parse(filePath); err == nil && u.Path != "" {
			localKey = strings.TrimPrefix(u.Path, "/")
		}
		return filePath, localKey
	}

	relative := strings.TrimPrefix(filePath, "/")
	return strings.TrimSuffix(m.cfg.MediaBaseURL, "/") + "/" + relative, relative
}
