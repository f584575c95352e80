package engine

import (
	"strings"

	"github.com/google/uuid"
)

// SubTaskNamespace is the UUIDv5 namespace for freshly dispatched sub-task ids.
var SubTaskNamespace = uuid.MustParse("6f1c2d3e-8a9b-4c5d-9e0f-a1b2c3d4e5f6")

// SubTaskID derives the id of agentName's sub-task under parentTaskID.
//
// It is a pure function: the same pair always yields the same id and distinct
// parent tasks yield distinct ids. Agent names compare case-insensitively.
// Resumed sub-tasks never go through this function; they reuse the id
// recorded in the conversation's pending suspension.
func SubTaskID(parentTaskID, agentName string) string {
	name := strings.ToLower(strings.TrimSpace(agentName))
	return uuid.NewSHA1(SubTaskNamespace, []byte(parentTaskID+"\x00"+name)).String()
}
