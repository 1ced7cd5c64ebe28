package migrate

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karacommerce/catalog-migrator/internal/metrics"
	"github.com/karacommerce/catalog-migrator/internal/staging"
	"github.com/karacommerce/catalog-migrator/internal/storage"
)

const testMediaBase = "https://media.kara.test/catalog/product"

func newMediaMigrator(t *testing.T, store CatalogStore) (*Migrator, string) {
	t.Helper()

	dir := t.TempDir()
	mediaStore, err := storage.NewLocalMediaStore(dir)
	require.NoError(t, err)

	tracker := NewStatusTracker(zerolog.Nop(), metrics.New())
	m := New(nil, store, mediaStore, tracker, Config{
		SkipCategories: true,
		SkipProducts:   true,
		DownloadImages: true,
		MediaBaseURL:   testMediaBase,
	}, zerolog.Nop())
	m.sleep = func(d time.Duration) {}

	httpmock.ActivateNonDefault(m.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)

	return m, dir
}

func TestResolveMediaURL(t *testing.T) {
	m := &Migrator{cfg: Config{MediaBaseURL: testMediaBase}}

	tests := []struct {
		name     string
		filePath string
		wantURL  string
		wantKey  string
	}{
		{
			name:     "relative with leading slash",
			filePath: "/a/b/image.jpg",
			wantURL:  testMediaBase + "/a/b/image.jpg",
			wantKey:  "a/b/image.jpg",
		},
		{
			name:     "relative without leading slash",
			filePath: "a/b/image.jpg",
			wantURL:  testMediaBase + "/a/b/image.jpg",
			wantKey:  "a/b/image.jpg",
		},
		{
			name:     "absolute url",
			filePath: "https://cdn.example.com/x/y.png",
			wantURL:  "https://cdn.example.com/x/y.png",
			wantKey:  "x/y.png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotURL, gotKey := m.resolveMediaURL(tt.filePath)
			assert.Equal(t, tt.wantURL, gotURL)
			assert.Equal(t, tt.wantKey, gotKey)
		})
	}
}

func TestRun_DownloadsMediaFiles(t *testing.T) {
	store := newFakeStore()
	store.mediaFiles = []staging.MediaFile{
		{ID: 1, ProductID: 1, FilePath: "/g/a/gadget.jpg"},
		{ID: 2, ProductID: 2, FilePath: "/w/i/widget.jpg"},
	}
	m, dir := newMediaMigrator(t, store)

	httpmock.RegisterResponder(http.MethodGet, testMediaBase+"/g/a/gadget.jpg",
		httpmock.NewStringResponder(http.StatusOK, "jpeg-bytes-1"))
	httpmock.RegisterResponder(http.MethodGet, testMediaBase+"/w/i/widget.jpg",
		httpmock.NewStringResponder(http.StatusOK, "jpeg-bytes-2"))

	require.NoError(t, m.Run(context.Background()))

	data, err := os.ReadFile(filepath.Join(dir, "g", "a", "gadget.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes-1", string(data))

	p := store.progress[staging.EntityMedia]
	assert.Equal(t, staging.StatusCompleted, p.Status)
	assert.Equal(t, 2, p.SuccessCount)
	assert.Equal(t, 0, p.ErrorCount)
}

func TestRun_MediaFailuresAreCounted(t *testing.T) {
	store := newFakeStore()
	store.mediaFiles = []staging.MediaFile{
		{ID: 1, ProductID: 1, FilePath: "/ok.jpg"},
		{ID: 2, ProductID: 2, FilePath: "/missing.jpg"},
	}
	m, dir := newMediaMigrator(t, store)

	httpmock.RegisterResponder(http.MethodGet, testMediaBase+"/ok.jpg",
		httpmock.NewStringResponder(http.StatusOK, "bytes"))
	httpmock.RegisterResponder(http.MethodGet, testMediaBase+"/missing.jpg",
		httpmock.NewStringResponder(http.StatusNotFound, "not found"))

	require.NoError(t, m.Run(context.Background()))

	assert.FileExists(t, filepath.Join(dir, "ok.jpg"))
	assert.NoFileExists(t, filepath.Join(dir, "missing.jpg"))

	p := store.progress[staging.EntityMedia]
	assert.Equal(t, staging.StatusCompletedWithErrors, p.Status)
	assert.Equal(t, 1, p.SuccessCount)
	assert.Equal(t, 1, p.ErrorCount)
}

func TestRun_EmptyMediaListCompletesCleanly(t *testing.T) {
	store := newFakeStore()
	m, _ := newMediaMigrator(t, store)

	require.NoError(t, m.Run(context.Background()))

	p := store.progress[staging.EntityMedia]
	assert.Equal(t, staging.StatusCompleted, p.Status)
	assert.Equal(t, 0, p.TotalCount)
	assert.Equal(t, 0, p.ProcessedCount)
}
