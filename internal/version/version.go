// Package version stores immutable document versions and their lineage.
//
// A version is created exactly once, never mutated and never deleted. Every
// version except a root points at its parent, so each uploaded document
// grows a tree of versions (usually a chain) identified by a lineage id.
// Version ids are assigned in strictly increasing creation order and are
// never reused.
package version

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/tabula/internal/codec"
	"github.com/JonMunkholm/tabula/internal/fault"
)

// RootLabel is the label of an uploaded, untransformed version.
const RootLabel = "original"

// Version is the metadata of a stored document version.
type Version struct {
	ID        int64        `json:"id"`
	LineageID uuid.UUID    `json:"lineage_id"`
	ParentID  *int64       `json:"parent_id"`
	Format    codec.Format `json:"format"`
	Filename  string       `json:"filename"`
	Label     string       `json:"label"`
	Message   string       `json:"message,omitempty"`
	Size      int64        `json:"size"`
	Checksum  string       `json:"checksum"`
	CreatedAt time.Time    `json:"created_at"`
}

// IsRoot reports whether v has no parent.
func (v Version) IsRoot() bool { return v.ParentID == nil }

// DownloadName is the filename hint served with the version's bytes, e.g.
// "sales_v7.csv".
func (v Version) DownloadName() string {
	stem := strings.TrimSuffix(v.Filename, extOf(v.Filename))
	if stem == "" {
		stem = "document"
	}
	return fmt.Sprintf("%s_v%d%s", stem, v.ID, v.Format.Extension())
}

func extOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[i:]
	}
	return ""
}

// Document is the input to a create call.
type Document struct {
	Data     []byte
	Format   codec.Format
	Filename string
	Label    string
	Message  string
}

// Store persists versions. Implementations are safe for concurrent use.
type Store interface {
	// CreateRoot stores an uploaded document as the root of a new lineage.
	CreateRoot(ctx context.Context, doc Document) (Version, error)
	// CreateChild stores doc as a child of parentID, in the parent's lineage.
	CreateChild(ctx context.Context, parentID int64, doc Document) (Version, error)
	// Get returns the metadata of a version or a NotFound error.
	Get(ctx context.Context, id int64) (Version, error)
	// Bytes returns the exact payload stored for a version.
	Bytes(ctx context.Context, id int64) ([]byte, error)
	// Lineage returns the chain from the root down to id, root first.
	Lineage(ctx context.Context, id int64) ([]Version, error)
	Ping(ctx context.Context) error
	Close() error
}

// Policy controls whether a parent may have more than one child.
type Policy int

const (
	// Fork lets concurrent edits of one parent each create a sibling.
	Fork Policy = iota
	// Linear reserves a parent for its first child; later attempts fail
	// with BranchConflict.
	Linear
)

func (p Policy) String() string {
	if p == Linear {
		return "linear"
	}
	return "fork"
}

// ParsePolicy reads "fork" or "linear".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fork":
		return Fork, nil
	case "linear":
		return Linear, nil
	default:
		return Fork, fmt.Errorf("unknown fork policy %q (want fork or linear)", s)
	}
}

// Options configure a store.
type Options struct {
	Policy Policy
	// Blobs, when set, holds payloads outside the metadata store. Keys are
	// content addresses, so a payload written for a version that then fails
	// to commit is never reachable.
	Blobs Blobs
	Now   func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

// Checksum returns the content address of a payload.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func notFound(id int64) error {
	return fault.New(fault.NotFound, "get version", fmt.Sprintf("version %d does not exist", id))
}

func branchConflict(parent int64) error {
	return fault.New(fault.BranchConflict, "create version",
		fmt.Sprintf("version %d already has a child; continue from the latest version", parent))
}

func storageFailure(op string, err error) error {
	return fault.Wrap(fault.StorageFailure, op, err)
}

func validateDocument(doc Document) error {
	switch doc.Format {
	case codec.CSV, codec.Spreadsheet:
	default:
		return fault.New(fault.UnsupportedFormat, "create version", doc.Format.String())
	}
	if doc.Label == "" {
		return fault.New(fault.StorageFailure, "create version", "label is required")
	}
	return nil
}

func ptr(id int64) *int64 { return &id }
