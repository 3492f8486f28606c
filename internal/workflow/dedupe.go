package workflow

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/casaflow/engine/internal/domain"
)

// DedupeKey derives the idempotency token for one logical firing. Two
// firings that differ only in map key order hash identically, so replayed
// webhooks and concurrent dispatchers collapse onto one job row via the
// unique constraint on the key.
func DedupeKey(orgID, ruleID, triggerEvent, actionType string, cfg map[string]any, evCtx domain.Context) string {
	payload := map[string]any{
		"organization_id":  orgID,
		"workflow_rule_id": ruleID,
		"trigger_event":    triggerEvent,
		"action_type":      actionType,
		"action_config":    cfg,
		"context":          map[string]any(evCtx),
	}
	sum := sha1.Sum(canonicalJSON(payload))
	return "wf:" + hex.EncodeToString(sum[:])
}

// canonicalJSON encodes v with object keys recursively sorted. Array order
// is preserved.
func canonicalJSON(v any) []byte {
	var b strings.Builder
	writeCanonical(&b, v)
	return []byte(b.String())
}

func writeCanonical(b *strings.Builder, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			writeJSONScalar(b, k)
			b.WriteByte(':')
			writeCanonical(b, val[k])
		}
		b.WriteByte('}')
	case domain.Context:
		writeCanonical(b, map[string]any(val))
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	default:
		writeJSONScalar(b, v)
	}
}

func writeJSONScalar(b *strings.Builder, v any) {
	enc, err := json.Marshal(v)
	if err != nil {
		// Unmarshalable values cannot come off the wire; keep the key stable anyway.
		enc = []byte(fmt.Sprintf("%q", fmt.Sprint(v)))
	}
	b.Write(enc)
}
