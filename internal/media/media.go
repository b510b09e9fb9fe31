// Package media is the image-host collaborator: upload(files) -> urls and
// delete(urls).
package media

import (
	"context"
	"mime/multipart"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"qalam/internal/utils"
)

// Store uploads and releases media. Failures are UpstreamFailure AppErrors.
type Store interface {
	Upload(ctx context.Context, folder string, files []*multipart.FileHeader) ([]string, error)
	Delete(ctx context.Context, urls []string) error
}

const maxParallel = 4

// ValidateImages rejects anything that is not declared as an image.
func ValidateImages(files []*multipart.FileHeader) error {
	for _, fh := range files {
		if !strings.HasPrefix(fh.Header.Get("Content-Type"), "image/") {
			return utils.NewInvalidInputError("Not an image! Please upload only images.")
		}
	}
	return nil
}

func objectKey(folder, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return folder + "/" + uuid.NewString() + ext
}

type putFunc func(ctx context.Context, fh *multipart.FileHeader) (string, error)
type deleteFunc func(ctx context.Context, url string) error

// uploadAll puts every file concurrently. If any put fails the files that
// did land are deleted again before the error is returned.
func uploadAll(ctx context.Context, files []*multipart.FileHeader, put putFunc, del deleteFunc) ([]string, error) {
	urls := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for i, fh := range files {
		g.Go(func() error {
			url, err := put(gctx, fh)
			if err != nil {
				return err
			}
			urls[i] = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var landed []string
		for _, u := range urls {
			if u != "" {
				landed = append(landed, u)
			}
		}
		// compensation runs on the parent context; gctx is already cancelled
		_ = deleteAll(context.WithoutCancel(ctx), landed, del)
		return nil, utils.NewUpstreamError("Image host", err)
	}
	return urls, nil
}

func deleteAll(ctx context.Context, urls []string, del deleteFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for _, u := range urls {
		g.Go(func() error { return del(gctx, u) })
	}
	if err := g.Wait(); err != nil {
		return utils.NewUpstreamError("Image host", err)
	}
	return nil
}

// MemoryStore keeps uploads in process. Fail hooks let tests simulate an
// unavailable host.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]int64

	FailUpload func(filename string) error
	FailDelete error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]int64)}
}

func (m *MemoryStore) Upload(ctx context.Context, folder string, files []*multipart.FileHeader) ([]string, error) {
	return uploadAll(ctx, files, func(_ context.Context, fh *multipart.FileHeader) (string, error) {
		if m.FailUpload != nil {
			if err := m.FailUpload(fh.Filename); err != nil {
				return "", err
			}
		}
		url := "memory://" + objectKey(folder, fh.Filename)
		m.mu.Lock()
		m.objects[url] = fh.Size
		m.mu.Unlock()
		return url, nil
	}, m.remove)
}

func (m *MemoryStore) Delete(ctx context.Context, urls []string) error {
	if m.FailDelete != nil {
		return utils.NewUpstreamError("Image host", m.FailDelete)
	}
	return deleteAll(ctx, urls, m.remove)
}

func (m *MemoryStore) remove(_ context.Context, url string) error {
	m.mu.Lock()
	delete(m.objects, url)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Has(url string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[url]
	return ok
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
