// Package artifact contains implementations of core.ArtifactStore.
//
// Agents deliver artifacts as a sequence of update events: the first chunk
// creates the artifact, chunks flagged append extend its parts and the chunk
// flagged last chunk completes it. A store replays those events into one
// record per artifact so clients can fetch finished outputs after a turn.
package artifact
