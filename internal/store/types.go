// Package store implements the checkpoint artifact stores: content-addressed
// persistence for DOM snapshots, screenshots, console-log streams, and
// checkpoint manifests, plus the StorageManager composing them.
//
// Every store follows the same layout under its namespace directory:
// payload files named <id>.<ext>, an index.json mapping id to a summary
// StorageRef, and store-specific secondary index files. Queries read only
// index files, never payloads.
package store

import (
	"time"
)

// Category identifies the artifact kind a ref points at.
type Category string

const (
	CategoryScreenshot Category = "screenshot"
	CategoryHTML       Category = "html"
	CategoryConsole    Category = "console"
	CategoryVisualDiff Category = "visual_diff"
	CategoryCheckpoint Category = "checkpoint"
)

// Categories lists every artifact category in stats/cleanup order.
var Categories = []Category{
	CategoryCheckpoint,
	CategoryScreenshot,
	CategoryHTML,
	CategoryConsole,
	CategoryVisualDiff,
}

// StorageRef is a stable pointer to a stored artifact. It never embeds
// payload data; Tags carries only scalar summary strings.
//
// The wire shape keeps the legacy testId key alongside the explicit id
// field; readers prefer id and fall back to testId. Path is an opaque
// locator: callers must never parse it.
type StorageRef struct {
	ID         string            `json:"id"`
	LegacyID   string            `json:"testId,omitempty"`
	Category   Category          `json:"category"`
	Path       string            `json:"path"`
	Size       int64             `json:"size"`
	Hash       string            `json:"hash"`
	Timestamp  time.Time         `json:"timestamp"`
	Compressed bool              `json:"compressed"`
	Tags       map[string]string `json:"tags"`
}

// Key returns the effective identifier, preferring the explicit id.
func (r *StorageRef) Key() string {
	if r.ID != "" {
		return r.ID
	}
	return r.LegacyID
}

// Tag returns the named tag, or "" when absent.
func (r *StorageRef) Tag(name string) string {
	if r.Tags == nil {
		return ""
	}
	return r.Tags[name]
}

// Reserved ref tag names. User-supplied checkpoint tags are stored under
// the "tag:" prefix and never collide with these.
const (
	TagName          = "name"
	TagURL           = "url"
	TagTitle         = "title"
	TagFormat        = "format"
	TagWidth         = "width"
	TagHeight        = "height"
	TagThumbnailID   = "thumbnailId"
	TagTotalNodes    = "totalNodes"
	TagChunkCount    = "chunkCount"
	TagTotal         = "total"
	TagErrorCount    = "errorCount"
	TagWarningCount  = "warningCount"
	TagHasScreenshot = "hasScreenshot"
	TagHasDOM        = "hasDOM"
	TagHasConsole    = "hasConsole"
	UserTagPrefix    = "tag:"
)

// ElementNode is one element of a DOM chunk's flattened pre-order node
// list. Text carries the element's immediate text content.
type ElementNode struct {
	Index      int               `json:"index"`
	Depth      int               `json:"depth"`
	Tag        string            `json:"tag"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Text       string            `json:"text,omitempty"`
}

// DOMChunk is a bounded slice of a parsed document, stored as its own
// blob so selector queries can stream without loading the whole page.
type DOMChunk struct {
	Index     int           `json:"index"`
	NodeCount int           `json:"nodeCount"`
	Nodes     []ElementNode `json:"nodes"`
}

// DOMHeader describes a stored DOM item.
type DOMHeader struct {
	Title      string `json:"title"`
	URL        string `json:"url"`
	TotalNodes int    `json:"totalNodes"`
	ChunkCount int    `json:"chunkCount"`
}

// DOMMetadata is caller-supplied context for a DOM store operation.
type DOMMetadata struct {
	URL string `json:"url,omitempty"`
}

// DOMStats summarizes a stored DOM item.
type DOMStats struct {
	TotalNodes int    `json:"totalNodes"`
	ChunkCount int    `json:"chunkCount"`
	Title      string `json:"title"`
	URL        string `json:"url"`
}

// SelectorMatch is one element matched by a selector query.
type SelectorMatch struct {
	Tag        string            `json:"tag"`
	Text       string            `json:"text"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Viewport records browser viewport dimensions at capture time.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ScreenshotMetadata is caller-supplied context for a screenshot store
// operation.
type ScreenshotMetadata struct {
	URL               string    `json:"url,omitempty"`
	Viewport          *Viewport `json:"viewport,omitempty"`
	DeviceScaleFactor float64   `json:"deviceScaleFactor,omitempty"`
}

// ScreenshotMeta is the persisted sidecar for a screenshot item.
type ScreenshotMeta struct {
	Format            string    `json:"format"`
	Width             int       `json:"width"`
	Height            int       `json:"height"`
	ThumbnailID       string    `json:"thumbnailId,omitempty"`
	URL               string    `json:"url,omitempty"`
	Viewport          *Viewport `json:"viewport,omitempty"`
	DeviceScaleFactor float64   `json:"deviceScaleFactor,omitempty"`
}

// Console log levels.
const (
	LevelLog   = "log"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
	LevelDebug = "debug"
)

// ConsoleLevels lists every console level in definition order.
var ConsoleLevels = []string{LevelLog, LevelInfo, LevelWarn, LevelError, LevelDebug}

// SourceLocation points at the script position that emitted an entry.
type SourceLocation struct {
	URL    string `json:"url,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"col,omitempty"`
}

// ConsoleEntry is a single captured console message.
type ConsoleEntry struct {
	Timestamp  int64           `json:"timestamp"`
	Level      string          `json:"level"`
	Message    string          `json:"message"`
	Source     *SourceLocation `json:"source,omitempty"`
	StackTrace string          `json:"stackTrace,omitempty"`
}

// ConsoleSummary is precomputed at store time and never recomputed from
// the payload during queries.
type ConsoleSummary struct {
	Total        int            `json:"total"`
	ErrorCount   int            `json:"errorCount"`
	WarningCount int            `json:"warningCount"`
	ByLevel      map[string]int `json:"byLevel"`
	StartTime    int64          `json:"startTime"`
	EndTime      int64          `json:"endTime"`
}

// ConsoleMetadata is caller-supplied context for a console store operation.
type ConsoleMetadata struct {
	URL string `json:"url,omitempty"`
}

// ConsoleCollection is the persisted console item: the ordered entry
// stream plus its summary.
type ConsoleCollection struct {
	Entries  []ConsoleEntry  `json:"entries"`
	Summary  ConsoleSummary  `json:"summary"`
	Metadata ConsoleMetadata `json:"metadata"`
}

// ConsoleSearchResult pairs a collection ref with its matching entries.
type ConsoleSearchResult struct {
	Ref     *StorageRef    `json:"ref"`
	Matches []ConsoleEntry `json:"matches"`
}

// ConsoleGlobalStats aggregates summary tags across all collections.
type ConsoleGlobalStats struct {
	Collections   int            `json:"collections"`
	TotalEntries  int            `json:"totalEntries"`
	TotalErrors   int            `json:"totalErrors"`
	TotalWarnings int            `json:"totalWarnings"`
	ByLevel       map[string]int `json:"byLevel"`
}

// CheckpointState references sibling-store items by bare id.
type CheckpointState struct {
	DOMID        string         `json:"domId,omitempty"`
	ScreenshotID string         `json:"screenshotId,omitempty"`
	ConsoleID    string         `json:"consoleId,omitempty"`
	NetworkID    string         `json:"networkId,omitempty"`
	CustomData   map[string]any `json:"customData,omitempty"`
}

// CheckpointMetadata carries descriptive checkpoint attributes. Tags here
// are the user tag namespace, kept apart from reserved ref tags.
type CheckpointMetadata struct {
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Viewport    *Viewport `json:"viewport,omitempty"`
	UserAgent   string    `json:"userAgent,omitempty"`
}

// CheckpointManifest is a named snapshot of a page's observable state,
// composed of references to sibling artifacts.
type CheckpointManifest struct {
	Name      string             `json:"name"`
	URL       string             `json:"url"`
	Timestamp time.Time          `json:"timestamp"`
	State     CheckpointState    `json:"state"`
	Metadata  CheckpointMetadata `json:"metadata"`
}

// CheckpointUpdate is a partial manifest for Update. Nil sections are
// left untouched; State and Metadata merge shallowly.
type CheckpointUpdate struct {
	Name     string              `json:"name,omitempty"`
	URL      string              `json:"url,omitempty"`
	State    *CheckpointState    `json:"state,omitempty"`
	Metadata *CheckpointMetadata `json:"metadata,omitempty"`
}

// CheckpointDiff lists per-section differences between two manifests.
// Custom holds the customData keys whose JSON values differ.
type CheckpointDiff struct {
	Differences struct {
		DOM        bool     `json:"dom"`
		Screenshot bool     `json:"screenshot"`
		Console    bool     `json:"console"`
		Network    bool     `json:"network"`
		Custom     []string `json:"custom"`
	} `json:"differences"`
	Timestamp time.Time `json:"timestamp"`
}

// RelatedIDs carries the sibling-store ids referenced by a deleted
// checkpoint; deleting those items is the manager's job.
type RelatedIDs struct {
	DOMID        string
	ScreenshotID string
	ConsoleID    string
}

// Filter narrows index-only queries. Zero values mean "any".
type Filter struct {
	URL       string
	Name      string
	Tag       string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// ConsoleFilter narrows console queries and entry filtering.
type ConsoleFilter struct {
	Levels      []string
	SearchText  string
	StartTime   int64
	EndTime     int64
	Limit       int
	HasErrors   bool
	HasWarnings bool
	URL         string
}

// CompareOptions tunes a screenshot comparison.
type CompareOptions struct {
	// Threshold is the per-pixel YIQ tolerance in [0,1].
	Threshold float64
	// IncludeAA counts anti-aliased pixels as differences.
	IncludeAA bool
	// IncludeDiffImage requests an encoded diff overlay in the result.
	IncludeDiffImage bool
}

// CompareResult reports a pixel comparison.
type CompareResult struct {
	DiffPercentage  float64 `json:"diffPercentage"`
	DifferentPixels int     `json:"differentPixels"`
	TotalPixels     int     `json:"totalPixels"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	DiffImage       []byte  `json:"-"`
}

// StorageStats is the manager-level size report.
type StorageStats struct {
	Checkpoints  int       `json:"checkpoints"`
	Screenshots  int       `json:"screenshots"`
	DOMs         int       `json:"doms"`
	ConsoleLogs  int       `json:"consoleLogs"`
	VisualDiffs  int       `json:"visualDiffs"`
	TotalSize    int64     `json:"totalSize"`
	LastModified time.Time `json:"lastModified"`
}

// CleanupOptions selects what Cleanup removes. Types defaults to every
// category; KeepLast keeps the newest N items per selected type.
type CleanupOptions struct {
	OlderThan time.Duration
	KeepLast  int
	Types     []Category
}

// CleanupResult reports what Cleanup removed.
type CleanupResult struct {
	Deleted    int   `json:"deleted"`
	FreedSpace int64 `json:"freedSpace"`
}
