package types

import (
	"time"
)

// DateLayout is the civil-date layout used for planning, storage and the
// INLABS portal.
const DateLayout = "2006-01-02"

type Mode string

const (
	ModeDaily    Mode = "daily"
	ModeBackfill Mode = "backfill"
)

type BundleKind string

const (
	KindArchive  BundleKind = "archive"
	KindDocument BundleKind = "document"
)

type RunStatus string

const (
	RunStatusOK    RunStatus = "ok"
	RunStatusError RunStatus = "error"
)

// Edition is one logical group of a day's publications for a section: the
// main edition, the extra edition, or a lettered extra.
type Edition struct {
	Date         time.Time
	Section      string
	Label        string
	ArchiveName  string
	DocumentName string
}

// Bundle is a fetched unit of remote content.
type Bundle struct {
	Edition  Edition
	Filename string
	Kind     BundleKind
	Data     []byte
}

// Record is one article extracted from a bundle. Fallback documents produce a
// single record without organization metadata.
type Record struct {
	SourceFile      string
	Section         string
	Organization    string
	HasOrganization bool
	Title           string
	Link            string
	Text            string
}

type Match struct {
	ID           int64
	RunID        string
	FilterName   string
	SourceFile   string
	KeywordHit   string
	Snippet      string
	Organization string
	Title        string
	Link         string
	PubDate      string
	CreatedAt    time.Time
}

type ProcessedFile struct {
	Filename    string
	Kind        BundleKind
	PubDate     time.Time
	FirstSeenAt time.Time
}

type Run struct {
	ID             string
	StartDate      time.Time
	EndDate        time.Time
	Mode           Mode
	ExecutedAt     time.Time
	Status         RunStatus
	MatchCount     int
	FilesSeen      int
	FilesProcessed int
	FilesSkipped   int
	FilesFailed    int
	RecordsSkipped int
	Notes          string
}
