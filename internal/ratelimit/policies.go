package ratelimit

import "time"

// Action names with dedicated policies.
const (
	ActionAIGeneration = "ai_generation"
	ActionBulkImport   = "bulk_import"
	ActionSyncNow      = "sync_now"
	ActionQueue        = "queue_action"
)

// FallbackPolicy applies to any action without a registered policy.
var FallbackPolicy = Policy{MaxRequests: 100, Window: time.Minute}

// DefaultPolicies returns the built-in policy table.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		ActionAIGeneration: {MaxRequests: 10, Window: time.Minute},
		ActionBulkImport:   {MaxRequests: 5, Window: time.Minute},
		ActionSyncNow:      {MaxRequests: 6, Window: time.Minute},
		ActionQueue:        {MaxRequests: 120, Window: time.Minute},
	}
}
