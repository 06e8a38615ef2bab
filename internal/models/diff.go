package models

// ChangeType tags a single file-level change between two folder snapshots.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeRemoved  ChangeType = "removed"
	ChangeModified ChangeType = "modified"
)

// OversizeMarker replaces file content in a diff when the file exceeds the
// diff size limit. Oversize files are never diffed byte-for-byte.
const OversizeMarker = "[content omitted: exceeds diff size limit]"

// FileDiff is one file-level change record. An added file has no Before;
// a removed file has no After.
type FileDiff struct {
	Path   string     `json:"path"`
	Change ChangeType `json:"change"`
	Before string     `json:"before,omitempty"`
	After  string     `json:"after,omitempty"`
}
