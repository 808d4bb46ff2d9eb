package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/sealbox/sealbox/internal/archive"
	"github.com/sealbox/sealbox/internal/crypt"
	"github.com/sealbox/sealbox/internal/model"
	"github.com/sealbox/sealbox/internal/repository"
	"github.com/sealbox/sealbox/internal/storage"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected failure")

type memRepo struct {
	mu        sync.Mutex
	files     map[string]*model.File
	createErr error
	updateErr error
}

func newMemRepo() *memRepo {
	return &memRepo{files: map[string]*model.File{}}
}

func (r *memRepo) Create(_ context.Context, f *model.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	f.ID = uuid.NewString()
	cp := *f
	r.files[f.ID] = &cp
	return nil
}

func (r *memRepo) ByID(_ context.Context, id string) (*model.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok {
		return nil, repository.ErrFileNotFound
	}
	cp := *f
	return &cp, nil
}

func (r *memRepo) All(_ context.Context) ([]*model.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.File, 0, len(r.files))
	for _, f := range r.files {
		cp := *f
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IngestedAt.After(out[j].IngestedAt) })
	return out, nil
}

func (r *memRepo) UpdateStorage(_ context.Context, id, key, sum string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	f, ok := r.files[id]
	if !ok {
		return repository.ErrFileNotFound
	}
	f.StorageKey = key
	f.Checksum = sum
	return nil
}

func (r *memRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[id]; !ok {
		return repository.ErrFileNotFound
	}
	delete(r.files, id)
	return nil
}

type memStorage struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	putErr    error
	getErr    error
	deleteErr error
}

func newMemStorage() *memStorage {
	return &memStorage{blobs: map[string][]byte{}}
}

func (s *memStorage) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (s *memStorage) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	b, ok := s.blobs[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (s *memStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.blobs, key)
	return nil
}

func (s *memStorage) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.blobs))
	for k := range s.blobs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// mutate applies fn to the stored bytes of key.
func (s *memStorage) mutate(key string, fn func([]byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.blobs[key])
}

func (s *memStorage) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[key]
	return ok
}

func (s *memStorage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

type pipeline struct {
	svc     *FileService
	repo    *memRepo
	storage *memStorage
	cipher  *crypt.Cipher
}

func newCipher(t *testing.T, previous ...[]byte) (*crypt.Cipher, []byte) {
	t.Helper()
	key, err := crypt.GenerateKey()
	require.NoError(t, err)
	c, err := crypt.New(key, previous...)
	require.NoError(t, err)
	return c, key
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	c, _ := newCipher(t)
	return newPipelineWith(t, newMemRepo(), newMemStorage(), c)
}

func newPipelineWith(t *testing.T, repo *memRepo, store *memStorage, c *crypt.Cipher) *pipeline {
	t.Helper()
	svc := NewFileService(repo, store, c, archive.NewCodec(archive.CompressionDeflate), 10<<20)
	return &pipeline{svc: svc, repo: repo, storage: store, cipher: c}
}
