package bundle

import (
	"time"

	"github.com/roach88/sdd/internal/ir"
)

// modifiedFields are checked in order before falling back to file mtime.
var modifiedFields = []string{"updatedAt", "lastModified", "modifiedAt", "updated", "date"}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.DateTime,
	time.DateOnly,
}

// LastModified returns when an entity last changed: the first parseable
// timestamp-like data field, else the file's modification time.
func LastModified(e *ir.Entity) time.Time {
	for _, field := range modifiedFields {
		switch v := e.Data[field].(type) {
		case time.Time:
			return v
		case string:
			for _, layout := range timestampLayouts {
				if t, err := time.Parse(layout, v); err == nil {
					return t
				}
			}
		}
	}
	return e.ModTime
}
