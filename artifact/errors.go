package artifact

import "github.com/hupe1980/agentrelay/core"

// ErrNotFound is returned when an artifact for the given conversation / id
// pair does not exist in the underlying store.
var ErrNotFound = core.ErrArtifactNotFound
