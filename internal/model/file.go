package model

import (
	"time"
)

// File is the catalog record of one ingested file. Checksum covers the
// stored (archived and encrypted) blob, not the original bytes.
type File struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	ContentType string    `db:"content_type" json:"content_type"`
	SizeBytes   int64     `db:"size_bytes" json:"size_bytes"`
	StorageKey  string    `db:"storage_key" json:"-"`
	Checksum    string    `db:"checksum" json:"checksum"`
	Tags        string    `db:"tags" json:"tags"`
	IngestedAt  time.Time `db:"ingested_at" json:"ingested_at"`
}
