package parking

import "github.com/xraph/parking/id"

// ID is the primary identifier type for all parking entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
