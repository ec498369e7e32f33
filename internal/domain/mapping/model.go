package mapping

import (
	"time"

	"github.com/vaidyasetu/vaidyasetu/internal/domain/catalog"
)

// Snapshot is the copy of a code entry stored with a mapping, so the ledger
// survives dataset changes.
type Snapshot struct {
	System string `json:"system"`
	Code   string `json:"code"`
	Term   string `json:"term"`
}

// SnapshotOf copies the identifying fields of a catalog entry.
func SnapshotOf(e catalog.CodeEntry) Snapshot {
	return Snapshot{System: e.System, Code: e.Code, Term: e.Term}
}

// Mapping is an approved source to destination link.
type Mapping struct {
	ID         string    `json:"id"`
	FromSystem string    `json:"fromSystem"`
	Source     Snapshot  `json:"source"`
	Dest       Snapshot  `json:"dest"`
	Score      float64   `json:"score"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MappingID is "<srcSystem>:<srcCode>__<dstSystem>:<dstCode>".
func MappingID(source, dest Snapshot) string {
	return source.System + ":" + source.Code + "__" + dest.System + ":" + dest.Code
}
