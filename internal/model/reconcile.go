package model

import "time"

const (
	IssueOrphanedBlob     = "orphaned_blob"
	IssueMissingBlob      = "missing_blob"
	IssueChecksumMismatch = "checksum_mismatch"
)

// ReconcileIssue is one disagreement between the catalog and blob storage.
type ReconcileIssue struct {
	Type       string `json:"type"`
	StorageKey string `json:"storage_key"`
	FileID     string `json:"file_id,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

type ReconcileReport struct {
	Deep         bool              `json:"deep"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	FilesChecked int               `json:"files_checked"`
	BlobsChecked int               `json:"blobs_checked"`
	Issues       []*ReconcileIssue `json:"issues"`
}

// Count returns how many issues of the given type the report holds.
func (r *ReconcileReport) Count(issueType string) int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Type == issueType {
			n++
		}
	}
	return n
}

func (r *ReconcileReport) Consistent() bool {
	return len(r.Issues) == 0
}
