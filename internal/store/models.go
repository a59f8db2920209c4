package store

import "time"

// JobStatus is the lifecycle state of an organization job.
type JobStatus string

const (
	JobPending        JobStatus = "pending"
	JobExtracting     JobStatus = "extracting"
	JobIndexing       JobStatus = "indexing"
	JobDeduplicating  JobStatus = "deduplicating"
	JobVersioning     JobStatus = "versioning"
	JobOrganizing     JobStatus = "organizing"
	JobReviewRequired JobStatus = "review_required"
	JobExecuting      JobStatus = "executing"
	JobCompleted      JobStatus = "completed"
	JobFailed         JobStatus = "failed"
	JobCancelled      JobStatus = "cancelled"
)

// IsTerminal reports whether s is a terminal job status.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Job is one end-to-end organization run over a deposited archive.
type Job struct {
	ID                 string
	Status             JobStatus
	CurrentPhase       string
	Progress           int // 0-100
	SourceArchive      string
	OutputArchive      string
	FilesProcessed     int
	DuplicatesFound    int
	ShortcutsCreated   int
	VersionChainsFound int
	FilesRenamed       int
	FilesMoved         int
	ErrorMessage       string
	CreatedAt          time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
}

// ItemStatus is the per-document pipeline state. Transitions are monotonic
// in declaration order; error is terminal for the item.
type ItemStatus string

const (
	ItemDiscovered   ItemStatus = "discovered"
	ItemProcessing   ItemStatus = "processing"
	ItemProcessed    ItemStatus = "processed"
	ItemOrganizing   ItemStatus = "organizing"
	ItemOrganized    ItemStatus = "organized"
	ItemPendingApply ItemStatus = "pending_apply"
	ItemApplying     ItemStatus = "applying"
	ItemApplied      ItemStatus = "applied"
	ItemError        ItemStatus = "error"
	ItemSkipped      ItemStatus = "skipped"
)

var itemStatusRank = map[ItemStatus]int{
	ItemDiscovered:   0,
	ItemProcessing:   1,
	ItemProcessed:    2,
	ItemOrganizing:   3,
	ItemOrganized:    4,
	ItemPendingApply: 5,
	ItemApplying:     6,
	ItemApplied:      7,
}

// Rank returns the monotonic position of s, or -1 for terminal side states
// (error, skipped) which sit outside the progression.
func (s ItemStatus) Rank() int {
	if r, ok := itemStatusRank[s]; ok {
		return r
	}
	return -1
}

// DocumentItem is one file discovered in the source tree.
type DocumentItem struct {
	ID             int64
	JobID          string
	FileID         string // stable hash of the source-relative path
	CurrentName    string
	CurrentPath    string // relative to the source root
	Extension      string // lowercased, no leading dot
	FileSize       int64
	MimeType       string
	ContentHash    string // lowercase hex sha-256
	SourceMtime    time.Time
	Summary        string
	DocumentType   string
	KeyTopics      []string
	ProposedName   *string
	ProposedPath   *string
	ProposedTags   []string
	Reasoning      string
	FinalName      string
	FinalPath      string
	Status         ItemStatus
	ErrorMessage   string
	ChangesApplied bool
	IsDeleted      bool
}

// DecidedBy records which mechanism resolved a duplicate group.
type DecidedBy string

const (
	DecidedAuto DecidedBy = "auto"
	DecidedLLM  DecidedBy = "llm"
	DecidedUser DecidedBy = "user"
)

// DuplicateAction is what happens to one member of a duplicate group.
type DuplicateAction string

const (
	ActionKeepPrimary DuplicateAction = "keep_primary"
	ActionShortcut    DuplicateAction = "shortcut"
	ActionKeepBoth    DuplicateAction = "keep_both"
	ActionDelete      DuplicateAction = "delete"
)

// DuplicateGroup collects items sharing one content hash within a job.
type DuplicateGroup struct {
	ID                int64
	JobID             string
	ContentHash       string
	FileCount         int
	TotalSize         int64
	PrimaryDocumentID int64
	DecisionReasoning string
	DecidedBy         DecidedBy
}

// DuplicateMember is one item's role inside its group.
type DuplicateMember struct {
	ID                 int64
	GroupID            int64
	DocumentID         int64
	IsPrimary          bool
	Action             DuplicateAction
	ActionReasoning    string
	ShortcutTargetPath string
}

// DetectionMethod records how a version chain was found.
type DetectionMethod string

const (
	DetectExplicitMarker    DetectionMethod = "explicit_marker"
	DetectNameSimilarity    DetectionMethod = "name_similarity"
	DetectContentSimilarity DetectionMethod = "content_similarity"
)

// VersionChain groups successive versions of one logical document.
type VersionChain struct {
	ID                    int64
	JobID                 string
	ChainName             string
	BasePath              string
	CurrentDocumentID     int64
	CurrentVersionNumber  int
	DetectionMethod       DetectionMethod
	DetectionConfidence   float64
	LLMReasoning          string
	VersionOrderConfirmed bool
	ArchiveStrategy       string
	ArchivePath           string
}

// MemberStatus is a chain member's disposition.
type MemberStatus string

const (
	MemberActive     MemberStatus = "active"
	MemberSuperseded MemberStatus = "superseded"
	MemberArchived   MemberStatus = "archived"
)

// VersionChainMember places one document inside a chain.
type VersionChainMember struct {
	ID                  int64
	ChainID             int64
	DocumentID          int64
	VersionNumber       int // 1-based, unique within chain
	VersionLabel        string
	VersionDate         *time.Time
	IsCurrent           bool
	Status              MemberStatus
	ProposedVersionName string
	ProposedVersionPath string
}

// NamingSchema is one planned naming convention per document type.
type NamingSchema struct {
	ID            int64
	JobID         string
	BatchID       string
	DocumentType  string
	NamingPattern string
	Example       string
	Description   string
	Placeholders  map[string]string
	SchemaVersion int
}

// TagTaxonomy is one node in the planned tag forest (max depth 3).
type TagTaxonomy struct {
	ID          int64
	JobID       string
	BatchID     string
	TagName     string
	ParentTag   *string
	Description string
	UsageCount  int
}

// DirectoryStructure is one planned target directory.
type DirectoryStructure struct {
	ID                    int64
	JobID                 string
	BatchID               string
	Path                  string
	FolderName            string
	ParentPath            string
	Depth                 int
	Purpose               string
	ExpectedTags          []string
	ExpectedDocumentTypes []string
}

// ShortcutType is the materialized shortcut flavor.
type ShortcutType string

const (
	ShortcutSymlink ShortcutType = "symlink"
	ShortcutURL     ShortcutType = "url"
	ShortcutDesktop ShortcutType = "desktop"
)

// ShortcutRecord is one shortcut written in place of a duplicate.
type ShortcutRecord struct {
	ID           int64
	JobID        string
	DocumentID   int64
	ShortcutPath string
	TargetPath   string
	ShortcutType ShortcutType
	OriginalPath string
	OriginalHash string
}

// Operation is an executor filesystem operation kind.
type Operation string

const (
	OpCreateDir      Operation = "create_dir"
	OpCopyFile       Operation = "copy_file"
	OpRename         Operation = "rename"
	OpMove           Operation = "move"
	OpCreateShortcut Operation = "create_shortcut"
	OpArchiveVersion Operation = "archive_version"
)

// ExecutionLogEntry is one append-only executor operation record.
type ExecutionLogEntry struct {
	ID           int64
	JobID        string
	Operation    Operation
	SourcePath   string
	TargetPath   string
	DocumentID   *int64
	Success      bool
	ErrorMessage string
	DurationMS   float64
	ExecutedAt   time.Time
}
