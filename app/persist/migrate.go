package persist

import (
	"encoding/json"
	"fmt"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/steadystate/app/steady"
)

// migration converts top-level fields of version N to version N+1
type migration func(fields map[string]json.RawMessage) (map[string]json.RawMessage, error)

// migrations indexed by source version. Data written before versioning has no
// "version" field and is read as version 1, identical to the current layout.
var migrations = map[int]migration{}

// migrate brings persisted fields to steady.SchemaVersion
func migrate(fields map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	version := 1
	if raw, ok := fields["version"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &version); err != nil {
			return nil, fmt.Errorf("%w: bad version %s: %v", ErrMalformed, raw, err)
		}
	}
	if version < 1 || version > steady.SchemaVersion {
		return nil, fmt.Errorf("%w: unsupported version %d, supported up to %d", ErrMalformed, version, steady.SchemaVersion)
	}

	for v := version; v < steady.SchemaVersion; v++ {
		m, ok := migrations[v]
		if !ok {
			return nil, fmt.Errorf("%w: no migration from version %d", ErrMalformed, v)
		}
		var err error
		if fields, err = m(fields); err != nil {
			return nil, fmt.Errorf("%w: migration from version %d: %v", ErrMalformed, v, err)
		}
		log.Printf("[INFO] persisted state migrated from version %d to %d", v, v+1)
	}
	fields["version"] = json.RawMessage(fmt.Sprintf("%d", steady.SchemaVersion))
	return fields, nil
}
