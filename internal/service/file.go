package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sealbox/sealbox/internal/checksum"
	"github.com/sealbox/sealbox/internal/metrics"
	"github.com/sealbox/sealbox/internal/model"
	"github.com/sealbox/sealbox/internal/repository"
	"github.com/sealbox/sealbox/internal/storage"
	"github.com/sealbox/sealbox/internal/validation"
)

var (
	ErrUnsupportedFormat = validation.ErrUnsupportedFormat
	ErrInvalidName       = validation.ErrInvalidName
	ErrInvalidTags       = validation.ErrInvalidTags
	ErrTooLarge          = validation.ErrTooLarge

	ErrNotFound         = errors.New("file not found")
	ErrArchive          = errors.New("archive error")
	ErrCipher           = errors.New("cipher error")
	ErrBlobWrite        = errors.New("blob write failed")
	ErrBlobRead         = errors.New("blob read failed")
	ErrCatalogWrite     = errors.New("catalog write failed")
	ErrCatalogRead      = errors.New("catalog read failed")
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Cipher seals archived payloads. IsPrimary reports whether a blob is
// already sealed with the key new blobs get.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(blob []byte) ([]byte, error)
	IsPrimary(blob []byte) bool
}

// Archiver wraps a named payload into a single-entry container.
type Archiver interface {
	Pack(name string, data []byte) ([]byte, error)
	Unpack(b []byte) (string, []byte, error)
}

type IngestInput struct {
	Name        string
	ContentType string
	Data        []byte
	Tags        string
}

// Download is a verified, decrypted file ready to be sent to a client.
type Download struct {
	File        *model.File
	Name        string
	ContentType string
	Data        []byte
}

type FileService struct {
	fileRepo repository.FileRepository
	storage  storage.Storage
	cipher   Cipher
	archiver Archiver
	maxSize  int64
	now      func() time.Time
}

func NewFileService(fileRepo repository.FileRepository, storage storage.Storage, cipher Cipher, archiver Archiver, maxSize int64) *FileService {
	return &FileService{
		fileRepo: fileRepo,
		storage:  storage,
		cipher:   cipher,
		archiver: archiver,
		maxSize:  maxSize,
		now:      time.Now,
	}
}

// Ingest archives, encrypts and stores a file, then records it in the catalog.
// The checksum is taken over the encrypted blob, exactly as stored.
func (s *FileService) Ingest(ctx context.Context, in IngestInput) (*model.File, error) {
	start := time.Now()
	file, err := s.ingest(ctx, in)
	metrics.PipelineDuration.WithLabelValues("ingest").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Ingests.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}
	metrics.Ingests.WithLabelValues(metrics.OutcomeOK).Inc()
	return file, nil
}

func (s *FileService) ingest(ctx context.Context, in IngestInput) (*model.File, error) {
	// Validation gate: nothing below runs for a rejected upload
	name, err := validation.CleanFileName(in.Name)
	if err != nil {
		return nil, err
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := validation.ValidateFormat(name, contentType); err != nil {
		return nil, err
	}
	if err := validation.ValidateSize(int64(len(in.Data)), s.maxSize); err != nil {
		return nil, err
	}
	if err := validation.ValidateTags(in.Tags); err != nil {
		return nil, err
	}

	sealed, sum, err := s.seal(name, in.Data)
	if err != nil {
		return nil, err
	}

	key := storageKey(name)
	if err := s.storage.Put(ctx, key, sealed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBlobWrite, err)
	}
	metrics.StoredBytes.Add(float64(len(sealed)))

	file := &model.File{
		Name:        name,
		ContentType: contentType,
		SizeBytes:   int64(len(in.Data)),
		StorageKey:  key,
		Checksum:    sum,
		Tags:        in.Tags,
		IngestedAt:  s.now().UTC(),
	}

	if err := s.fileRepo.Create(ctx, file); err != nil {
		s.discardBlob(ctx, key, "catalog write failed")
		return nil, fmt.Errorf("%w: %w", ErrCatalogWrite, err)
	}

	slog.Info("file ingested",
		"file_id", file.ID,
		"storage_key", key,
		"size_bytes", file.SizeBytes,
		"stored_bytes", len(sealed),
	)
	return file, nil
}

// seal archives and encrypts data, returning the blob and its checksum.
func (s *FileService) seal(name string, data []byte) ([]byte, string, error) {
	archived, err := s.archiver.Pack(name, data)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrArchive, err)
	}

	sealed, err := s.cipher.Encrypt(archived)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrCipher, err)
	}

	return sealed, checksum.Digest(sealed), nil
}

// Retrieve fetches, verifies and decrypts a file. The checksum is checked
// before anything is decrypted.
func (s *FileService) Retrieve(ctx context.Context, id string) (*Download, error) {
	start := time.Now()
	d, err := s.retrieve(ctx, id)
	metrics.PipelineDuration.WithLabelValues("retrieve").Observe(time.Since(start).Seconds())
	metrics.Retrievals.WithLabelValues(retrieveOutcome(err)).Inc()
	return d, err
}

func (s *FileService) retrieve(ctx context.Context, id string) (*Download, error) {
	file, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	data, name, err := s.open(ctx, file)
	if errors.Is(err, storage.ErrNotFound) {
		// A rekey or delete may have moved the blob after the lookup
		file, err = s.relookup(ctx, file, err)
		if err != nil {
			return nil, err
		}
		data, name, err = s.open(ctx, file)
	}
	if err != nil {
		return nil, err
	}

	if name != file.Name {
		slog.Warn("archive entry name differs from catalog", "file_id", file.ID, "entry", name, "catalog", file.Name)
	}

	return &Download{
		File:        file,
		Name:        name,
		ContentType: file.ContentType,
		Data:        data,
	}, nil
}

func (s *FileService) lookup(ctx context.Context, id string) (*model.File, error) {
	file, err := s.fileRepo.ByID(ctx, id)
	if errors.Is(err, repository.ErrFileNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogRead, err)
	}
	return file, nil
}

// relookup reloads the record of a file whose blob was not found. It returns
// the new record when the storage key moved, ErrNotFound when the record is
// gone, and blobErr otherwise.
func (s *FileService) relookup(ctx context.Context, stale *model.File, blobErr error) (*model.File, error) {
	fresh, err := s.lookup(ctx, stale.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, blobErr
	}
	if fresh.StorageKey == stale.StorageKey {
		return nil, blobErr
	}
	slog.Debug("blob moved during retrieval", "file_id", stale.ID, "storage_key", fresh.StorageKey)
	return fresh, nil
}

// open reads and verifies the stored blob of file and returns the original
// bytes and entry name.
func (s *FileService) open(ctx context.Context, file *model.File) ([]byte, string, error) {
	blob, err := s.fetch(ctx, file)
	if err != nil {
		return nil, "", err
	}

	archived, err := s.cipher.Decrypt(blob)
	if err != nil {
		slog.Error("blob failed authentication", "file_id", file.ID, "storage_key", file.StorageKey, "error", err)
		return nil, "", fmt.Errorf("%w: %w", ErrCipher, err)
	}

	name, data, err := s.archiver.Unpack(archived)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrArchive, err)
	}

	return data, name, nil
}

// fetch returns the stored blob of file after checking it against the
// catalog checksum.
func (s *FileService) fetch(ctx context.Context, file *model.File) ([]byte, error) {
	blob, err := s.storage.Get(ctx, file.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBlobRead, err)
	}

	if got := checksum.Digest(blob); !checksum.Equal(got, file.Checksum) {
		slog.Error("stored blob checksum mismatch",
			"file_id", file.ID,
			"storage_key", file.StorageKey,
			"expected", file.Checksum,
			"actual", got,
		)
		return nil, fmt.Errorf("%w: file %s", ErrChecksumMismatch, file.ID)
	}

	return blob, nil
}

// List returns every file in the catalog, newest first.
func (s *FileService) List(ctx context.Context) ([]*model.File, error) {
	files, err := s.fileRepo.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogRead, err)
	}
	return files, nil
}

// ByID returns the catalog record of a file without touching its blob.
func (s *FileService) ByID(ctx context.Context, id string) (*model.File, error) {
	return s.lookup(ctx, id)
}

// Rekey re-encrypts a file under the primary key. The new blob is written
// under a fresh storage key and the old one is removed once the catalog
// points at the new one. Files already sealed with the primary key are
// returned unchanged.
func (s *FileService) Rekey(ctx context.Context, id string) (*model.File, error) {
	file, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	blob, err := s.fetch(ctx, file)
	if err != nil {
		return nil, err
	}
	if s.cipher.IsPrimary(blob) {
		return file, nil
	}

	archived, err := s.cipher.Decrypt(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCipher, err)
	}
	_, data, err := s.archiver.Unpack(archived)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArchive, err)
	}

	sealed, sum, err := s.seal(file.Name, data)
	if err != nil {
		return nil, err
	}

	oldKey := file.StorageKey
	newKey := storageKey(file.Name)
	if err := s.storage.Put(ctx, newKey, sealed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBlobWrite, err)
	}

	if err := s.fileRepo.UpdateStorage(ctx, file.ID, newKey, sum); err != nil {
		s.discardBlob(ctx, newKey, "catalog update failed")
		return nil, fmt.Errorf("%w: %w", ErrCatalogWrite, err)
	}

	s.discardBlob(ctx, oldKey, "replaced by rekey")

	file.StorageKey = newKey
	file.Checksum = sum
	slog.Info("file rekeyed", "file_id", file.ID, "old_storage_key", oldKey, "storage_key", newKey)
	return file, nil
}

// RekeyAll rekeys every file in the catalog. It keeps going past failures and
// returns them joined.
func (s *FileService) RekeyAll(ctx context.Context) (rotated int, err error) {
	files, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	var errs []error
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		before := f.StorageKey
		updated, err := s.Rekey(ctx, f.ID)
		if err != nil {
			slog.Error("rekey failed", "file_id", f.ID, "error", err)
			errs = append(errs, fmt.Errorf("file %s: %w", f.ID, err))
			continue
		}
		if updated.StorageKey != before {
			rotated++
		}
	}

	return rotated, errors.Join(errs...)
}

// Delete removes a file from the catalog and then deletes its blob. Records
// whose blob is already gone (missing_blob in a reconcile report) can be
// removed this way too.
func (s *FileService) Delete(ctx context.Context, id string) error {
	file, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}

	err = s.fileRepo.Delete(ctx, file.ID)
	if errors.Is(err, repository.ErrFileNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCatalogWrite, err)
	}

	s.discardBlob(ctx, file.StorageKey, "file deleted")
	slog.Info("file deleted", "file_id", file.ID, "storage_key", file.StorageKey)
	return nil
}

// discardBlob deletes a blob no catalog record points to. The delete runs
// even if ctx was canceled; a failed delete leaves an orphan that is logged,
// counted and later reported by reconciliation.
func (s *FileService) discardBlob(ctx context.Context, key, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := s.storage.Delete(ctx, key); err != nil {
		metrics.OrphanedBlobs.Inc()
		slog.Error("orphaned blob", "storage_key", key, "reason", reason, "error", err)
	}
}

// storageKey gives every blob its own prefix so uploads sharing a name never
// overwrite each other.
func storageKey(name string) string {
	return uuid.NewString() + "/" + name
}

func retrieveOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrChecksumMismatch), errors.Is(err, ErrCipher):
		return "integrity"
	default:
		return metrics.OutcomeError
	}
}
