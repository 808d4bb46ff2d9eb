package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sealbox/sealbox/internal/archive"
	"github.com/sealbox/sealbox/internal/checksum"
	"github.com/sealbox/sealbox/internal/crypt"
	"github.com/sealbox/sealbox/internal/model"
	"github.com/sealbox/sealbox/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestRetrieveRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	tests := []struct {
		name        string
		file        string
		contentType string
		data        []byte
	}{
		{name: "text", file: "notes.txt", contentType: "text/plain", data: []byte("hello sealbox")},
		{name: "empty", file: "empty.bin", contentType: "application/octet-stream", data: []byte{}},
		{name: "binary", file: "blob.dat", contentType: "application/octet-stream", data: bytes.Repeat([]byte{0, 1, 2, 0xff}, 4096)},
		{name: "video", file: "clip.mp4", contentType: "video/mp4", data: []byte("\x00\x00\x00\x18ftypmp42")},
		{name: "unicode name", file: "résumé.pdf", contentType: "application/pdf", data: []byte("%PDF-1.7")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := p.svc.Ingest(ctx, IngestInput{Name: tt.file, ContentType: tt.contentType, Data: tt.data, Tags: "t1 t2"})
			require.NoError(t, err)
			assert.NotEmpty(t, f.ID)
			assert.Equal(t, tt.file, f.Name)
			assert.Equal(t, int64(len(tt.data)), f.SizeBytes)
			assert.Equal(t, "t1 t2", f.Tags)
			assert.True(t, strings.HasSuffix(f.StorageKey, "/"+tt.file))

			d, err := p.svc.Retrieve(ctx, f.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.file, d.Name)
			assert.Equal(t, tt.contentType, d.ContentType)
			assert.True(t, bytes.Equal(tt.data, d.Data))
		})
	}
}

func TestIngestStoresEncryptedBlobWithChecksum(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	secret := []byte("the quick brown fox jumps over the lazy dog")
	f, err := p.svc.Ingest(ctx, IngestInput{Name: "fox.txt", ContentType: "text/plain", Data: secret})
	require.NoError(t, err)

	blob, err := p.storage.Get(ctx, f.StorageKey)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(blob, secret))
	assert.False(t, bytes.Contains(blob, []byte("fox.txt")))
	assert.Equal(t, checksum.Digest(blob), f.Checksum)
	assert.True(t, p.cipher.IsPrimary(blob))

	plain, err := p.cipher.Decrypt(blob)
	require.NoError(t, err)
	name, data, err := archive.Unpack(plain)
	require.NoError(t, err)
	assert.Equal(t, "fox.txt", name)
	assert.Equal(t, secret, data)
}

func TestRetrieveDetectsEveryBitFlip(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	f, err := p.svc.Ingest(ctx, IngestInput{Name: "ledger.csv", ContentType: "text/csv", Data: []byte("id,amount\n1,100\n2,250\n")})
	require.NoError(t, err)

	blob, err := p.storage.Get(ctx, f.StorageKey)
	require.NoError(t, err)

	for i := range len(blob) {
		for bit := range 8 {
			p.storage.mutate(f.StorageKey, func(b []byte) { b[i] ^= 1 << bit })

			d, err := p.svc.Retrieve(ctx, f.ID)
			require.ErrorIs(t, err, ErrChecksumMismatch, "byte %d bit %d", i, bit)
			require.Nil(t, d)

			p.storage.mutate(f.StorageKey, func(b []byte) { b[i] ^= 1 << bit })
		}
	}

	_, err = p.svc.Retrieve(ctx, f.ID)
	require.NoError(t, err)
}

func TestRetrieveTamperWithMatchingChecksum(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	f, err := p.svc.Ingest(ctx, IngestInput{Name: "a.txt", ContentType: "text/plain", Data: []byte("original")})
	require.NoError(t, err)

	// Someone with write access to both stores alters the blob and fixes up
	// the recorded checksum; authentication still catches it.
	p.storage.mutate(f.StorageKey, func(b []byte) { b[len(b)-1] ^= 0x80 })
	tampered, err := p.storage.Get(ctx, f.StorageKey)
	require.NoError(t, err)
	require.NoError(t, p.repo.UpdateStorage(ctx, f.ID, f.StorageKey, checksum.Digest(tampered)))

	_, err = p.svc.Retrieve(ctx, f.ID)
	require.ErrorIs(t, err, ErrCipher)
	require.ErrorIs(t, err, crypt.ErrTamperedOrWrongKey)
}

func TestRetrieveWrongKey(t *testing.T) {
	ctx := context.Background()
	repo, store := newMemRepo(), newMemStorage()

	writerCipher, _ := newCipher(t)
	writer := newPipelineWith(t, repo, store, writerCipher)
	f, err := writer.svc.Ingest(ctx, IngestInput{Name: "k.txt", ContentType: "text/plain", Data: []byte("under key A")})
	require.NoError(t, err)

	readerCipher, _ := newCipher(t)
	reader := newPipelineWith(t, repo, store, readerCipher)
	_, err = reader.svc.Retrieve(ctx, f.ID)
	require.ErrorIs(t, err, ErrCipher)
	require.ErrorIs(t, err, crypt.ErrTamperedOrWrongKey)
}

func TestIngestVideoGate(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	_, err := p.svc.Ingest(ctx, IngestInput{Name: "clip.txt", ContentType: "video/mp4", Data: []byte("b")})
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Zero(t, p.storage.count())
	files, err := p.svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)

	f, err := p.svc.Ingest(ctx, IngestInput{Name: "clip.mp4", ContentType: "video/mp4", Data: []byte("b")})
	require.NoError(t, err)
	assert.NotEmpty(t, f.ID)
}

func TestIngestValidation(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	p.svc.maxSize = 8

	_, err := p.svc.Ingest(ctx, IngestInput{Name: "", ContentType: "text/plain", Data: []byte("x")})
	require.ErrorIs(t, err, ErrInvalidName)

	_, err = p.svc.Ingest(ctx, IngestInput{Name: "big.bin", Data: []byte("123456789")})
	require.ErrorIs(t, err, ErrTooLarge)

	_, err = p.svc.Ingest(ctx, IngestInput{Name: "t.txt", Data: []byte("x"), Tags: strings.Repeat("t", 501)})
	require.ErrorIs(t, err, ErrInvalidTags)

	assert.Zero(t, p.storage.count())
}

func TestIngestStripsPathAndDefaultsContentType(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	f, err := p.svc.Ingest(ctx, IngestInput{Name: "../../etc/passwd", Data: []byte("root:x")})
	require.NoError(t, err)
	assert.Equal(t, "passwd", f.Name)
	assert.Equal(t, "application/octet-stream", f.ContentType)
}

func TestIngestBlobWriteFailure(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	p.storage.putErr = errInjected

	_, err := p.svc.Ingest(ctx, IngestInput{Name: "a.txt", ContentType: "text/plain", Data: []byte("a")})
	require.ErrorIs(t, err, ErrBlobWrite)
	require.ErrorIs(t, err, errInjected)

	files, err := p.repo.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestIngestCatalogWriteFailureRemovesBlob(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	p.repo.createErr = errInjected

	_, err := p.svc.Ingest(ctx, IngestInput{Name: "a.txt", ContentType: "text/plain", Data: []byte("a")})
	require.ErrorIs(t, err, ErrCatalogWrite)
	assert.Zero(t, p.storage.count())
}

func TestIngestCatalogWriteFailureCanceledContext(t *testing.T) {
	p := newPipeline(t)
	p.repo.createErr = context.Canceled

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The cleanup delete must still run when the request context is gone.
	store := &cancelAwareStorage{memStorage: p.storage, cancel: cancel}
	p.svc.storage = store

	_, err := p.svc.Ingest(ctx, IngestInput{Name: "a.txt", ContentType: "text/plain", Data: []byte("a")})
	require.ErrorIs(t, err, ErrCatalogWrite)
	assert.Zero(t, p.storage.count())
}

// cancelAwareStorage cancels the request context right after the blob is
// written and refuses operations on canceled contexts.
type cancelAwareStorage struct {
	*memStorage
	cancel context.CancelFunc
}

func (s *cancelAwareStorage) Put(ctx context.Context, key string, data []byte) error {
	if err := s.memStorage.Put(ctx, key, data); err != nil {
		return err
	}
	s.cancel()
	return nil
}

func (s *cancelAwareStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.memStorage.Delete(ctx, key)
}

func TestRetrieveNotFound(t *testing.T) {
	p := newPipeline(t)

	_, err := p.svc.Retrieve(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRetrieveMissingBlob(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	f, err := p.svc.Ingest(ctx, IngestInput{Name: "a.txt", ContentType: "text/plain", Data: []byte("a")})
	require.NoError(t, err)
	require.NoError(t, p.storage.Delete(ctx, f.StorageKey))

	_, err = p.svc.Retrieve(ctx, f.ID)
	require.ErrorIs(t, err, ErrBlobRead)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRetrieveBackendError(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	f, err := p.svc.Ingest(ctx, IngestInput{Name: "a.txt", ContentType: "text/plain", Data: []byte("a")})
	require.NoError(t, err)
	p.storage.getErr = errInjected

	_, err = p.svc.Retrieve(ctx, f.ID)
	require.ErrorIs(t, err, ErrBlobRead)
	require.ErrorIs(t, err, errInjected)
}

func TestSameNameDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	first, err := p.svc.Ingest(ctx, IngestInput{Name: "report.txt", ContentType: "text/plain", Data: []byte("version one")})
	require.NoError(t, err)
	second, err := p.svc.Ingest(ctx, IngestInput{Name: "report.txt", ContentType: "text/plain", Data: []byte("version two")})
	require.NoError(t, err)
	assert.NotEqual(t, first.StorageKey, second.StorageKey)

	d1, err := p.svc.Retrieve(ctx, first.ID)
	require.NoError(t, err)
	d2, err := p.svc.Retrieve(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "version one", string(d1.Data))
	assert.Equal(t, "version two", string(d2.Data))
}

func TestConcurrentIngest(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	const n = 24
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Pairs share identical content, and therefore identical plaintext
			// digests, but must still resolve to their own records.
			data := []byte(fmt.Sprintf("payload-%d", i/2))
			f, err := p.svc.Ingest(ctx, IngestInput{Name: fmt.Sprintf("file-%02d.txt", i), ContentType: "text/plain", Data: data})
			if assert.NoError(t, err) {
				ids[i] = f.ID
			}
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for i, id := range ids {
		require.NotEmpty(t, id)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true

		d, err := p.svc.Retrieve(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("file-%02d.txt", i), d.Name)
		assert.Equal(t, fmt.Sprintf("payload-%d", i/2), string(d.Data))
	}
}

func TestConcurrentRetrieve(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	f, err := p.svc.Ingest(ctx, IngestInput{Name: "shared.txt", ContentType: "text/plain", Data: []byte("read me often")})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := p.svc.Retrieve(ctx, f.ID)
			if assert.NoError(t, err) {
				assert.Equal(t, "read me often", string(d.Data))
			}
		}()
	}
	wg.Wait()
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, name := range []string{"old.txt", "mid.txt", "new.txt"} {
		at := base.Add(time.Duration(i) * time.Minute)
		p.svc.now = func() time.Time { return at }
		_, err := p.svc.Ingest(ctx, IngestInput{Name: name, ContentType: "text/plain", Data: []byte(name)})
		require.NoError(t, err)
	}

	files, err := p.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "new.txt", files[0].Name)
	assert.Equal(t, "old.txt", files[2].Name)
}

func TestRekey(t *testing.T) {
	ctx := context.Background()
	repo, store := newMemRepo(), newMemStorage()

	oldCipher, oldKey := newCipher(t)
	before := newPipelineWith(t, repo, store, oldCipher)
	f, err := before.svc.Ingest(ctx, IngestInput{Name: "keep.txt", ContentType: "text/plain", Data: []byte("rotate me")})
	require.NoError(t, err)

	rotated, newKey := newCipher(t, oldKey)
	after := newPipelineWith(t, repo, store, rotated)

	updated, err := after.svc.Rekey(ctx, f.ID)
	require.NoError(t, err)
	assert.NotEqual(t, f.StorageKey, updated.StorageKey)
	assert.NotEqual(t, f.Checksum, updated.Checksum)
	assert.False(t, store.has(f.StorageKey))
	assert.True(t, store.has(updated.StorageKey))

	blob, err := store.Get(ctx, updated.StorageKey)
	require.NoError(t, err)
	assert.True(t, rotated.IsPrimary(blob))

	d, err := after.svc.Retrieve(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "rotate me", string(d.Data))

	// Already current: nothing changes.
	again, err := after.svc.Rekey(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.StorageKey, again.StorageKey)

	// The old key can now leave the ring.
	onlyNew, err := crypt.New(newKey)
	require.NoError(t, err)
	d, err = newPipelineWith(t, repo, store, onlyNew).svc.Retrieve(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "rotate me", string(d.Data))
}

func TestRekeyCatalogFailureKeepsOldBlob(t *testing.T) {
	ctx := context.Background()
	repo, store := newMemRepo(), newMemStorage()

	oldCipher, oldKey := newCipher(t)
	before := newPipelineWith(t, repo, store, oldCipher)
	f, err := before.svc.Ingest(ctx, IngestInput{Name: "keep.txt", ContentType: "text/plain", Data: []byte("stay")})
	require.NoError(t, err)

	rotated, _ := newCipher(t, oldKey)
	after := newPipelineWith(t, repo, store, rotated)
	repo.updateErr = errInjected

	_, err = after.svc.Rekey(ctx, f.ID)
	require.ErrorIs(t, err, ErrCatalogWrite)
	assert.Equal(t, 1, store.count())
	assert.True(t, store.has(f.StorageKey))

	d, err := after.svc.Retrieve(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "stay", string(d.Data))
}

func TestRekeyAll(t *testing.T) {
	ctx := context.Background()
	repo, store := newMemRepo(), newMemStorage()

	oldCipher, oldKey := newCipher(t)
	before := newPipelineWith(t, repo, store, oldCipher)
	for i := range 3 {
		_, err := before.svc.Ingest(ctx, IngestInput{Name: fmt.Sprintf("f%d.txt", i), ContentType: "text/plain", Data: []byte("x")})
		require.NoError(t, err)
	}

	rotated, _ := newCipher(t, oldKey)
	after := newPipelineWith(t, repo, store, rotated)
	_, err := after.svc.Ingest(ctx, IngestInput{Name: "fresh.txt", ContentType: "text/plain", Data: []byte("y")})
	require.NoError(t, err)

	n, err := after.svc.RekeyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = after.svc.RekeyAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// staleOnceRepo answers the first ByID with a record captured earlier, as a
// retrieval that looked the file up just before it changed would see it.
type staleOnceRepo struct {
	*memRepo
	mu    sync.Mutex
	stale *model.File
}

func (r *staleOnceRepo) ByID(ctx context.Context, id string) (*model.File, error) {
	r.mu.Lock()
	stale := r.stale
	r.stale = nil
	r.mu.Unlock()
	if stale != nil {
		cp := *stale
		return &cp, nil
	}
	return r.memRepo.ByID(ctx, id)
}

func TestRetrieveFollowsRekeyedBlob(t *testing.T) {
	ctx := context.Background()
	repo, store := newMemRepo(), newMemStorage()

	oldCipher, oldKey := newCipher(t)
	f, err := newPipelineWith(t, repo, store, oldCipher).svc.Ingest(ctx, IngestInput{Name: "clip.txt", ContentType: "text/plain", Data: []byte("moving target")})
	require.NoError(t, err)
	stale, err := repo.ByID(ctx, f.ID)
	require.NoError(t, err)

	rotated, _ := newCipher(t, oldKey)
	updated, err := newPipelineWith(t, repo, store, rotated).svc.Rekey(ctx, f.ID)
	require.NoError(t, err)
	require.False(t, store.has(stale.StorageKey))

	svc := NewFileService(&staleOnceRepo{memRepo: repo, stale: stale}, store, rotated, archive.NewCodec(archive.CompressionDeflate), 10<<20)
	d, err := svc.Retrieve(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "moving target", string(d.Data))
	assert.Equal(t, updated.StorageKey, d.File.StorageKey)
}

func TestRetrieveRacingDelete(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	f, err := p.svc.Ingest(ctx, IngestInput{Name: "a.txt", ContentType: "text/plain", Data: []byte("a")})
	require.NoError(t, err)
	stale, err := p.repo.ByID(ctx, f.ID)
	require.NoError(t, err)
	require.NoError(t, p.svc.Delete(ctx, f.ID))

	svc := NewFileService(&staleOnceRepo{memRepo: p.repo, stale: stale}, p.storage, p.cipher, archive.NewCodec(archive.CompressionDeflate), 10<<20)
	_, err = svc.Retrieve(ctx, f.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	f, err := p.svc.Ingest(ctx, IngestInput{Name: "a.txt", ContentType: "text/plain", Data: []byte("a")})
	require.NoError(t, err)

	require.NoError(t, p.svc.Delete(ctx, f.ID))
	assert.False(t, p.storage.has(f.StorageKey))
	_, err = p.svc.ByID(ctx, f.ID)
	require.ErrorIs(t, err, ErrNotFound)

	err = p.svc.Delete(ctx, f.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRecordWithMissingBlob(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	f, err := p.svc.Ingest(ctx, IngestInput{Name: "a.txt", ContentType: "text/plain", Data: []byte("a")})
	require.NoError(t, err)
	require.NoError(t, p.storage.Delete(ctx, f.StorageKey))

	require.NoError(t, p.svc.Delete(ctx, f.ID))
	_, err = p.svc.ByID(ctx, f.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteBlobFailureLeavesRecordGone(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	f, err := p.svc.Ingest(ctx, IngestInput{Name: "a.txt", ContentType: "text/plain", Data: []byte("a")})
	require.NoError(t, err)
	p.storage.deleteErr = errInjected

	// the record is gone; the blob stays behind as an orphan for reconciliation
	require.NoError(t, p.svc.Delete(ctx, f.ID))
	assert.True(t, p.storage.has(f.StorageKey))
	_, err = p.svc.ByID(ctx, f.ID)
	require.ErrorIs(t, err, ErrNotFound)
}
