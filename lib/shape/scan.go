// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

package shape

import (
	"sort"

	"github.com/agentstudio/studio/lib/message"
)

// ScanLimits bound the recursive search in [FindMessages].
type ScanLimits struct {
	// MaxDepth is the deepest container level visited. The root is
	// depth 0.
	MaxDepth int

	// MaxWidth is the maximum number of entries visited in any single
	// object or array.
	MaxWidth int
}

// DefaultScanLimits are generous for real orchestration wrappers
// (which nest two or three levels) while capping adversarial input.
var DefaultScanLimits = ScanLimits{MaxDepth: 8, MaxWidth: 256}

// FindMessages walks value looking for "messages" arrays at any depth
// and returns the complete messages found in them, in traversal order.
// Object keys are visited in sorted order so the result is
// deterministic. Chunks and unrecognized entries are skipped. A
// "messages" array is not searched further once found.
func FindMessages(value any, limits ScanLimits) []message.Message {
	if limits.MaxDepth <= 0 {
		limits.MaxDepth = DefaultScanLimits.MaxDepth
	}
	if limits.MaxWidth <= 0 {
		limits.MaxWidth = DefaultScanLimits.MaxWidth
	}
	var found []message.Message
	scan(value, 0, limits, &found)
	return found
}

func scan(value any, depth int, limits ScanLimits, found *[]message.Message) {
	if depth > limits.MaxDepth {
		return
	}
	switch typed := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		if len(keys) > limits.MaxWidth {
			keys = keys[:limits.MaxWidth]
		}
		for _, key := range keys {
			if key == "messages" {
				if entries, ok := typed[key].([]any); ok {
					collect(entries, limits, found)
					continue
				}
			}
			scan(typed[key], depth+1, limits, found)
		}
	case []any:
		for i, entry := range typed {
			if i >= limits.MaxWidth {
				break
			}
			scan(entry, depth+1, limits, found)
		}
	}
}

func collect(entries []any, limits ScanLimits, found *[]message.Message) {
	for i, entry := range entries {
		if i >= limits.MaxWidth {
			break
		}
		if result, ok := NormalizeComplete(entry); ok {
			*found = append(*found, result)
		}
	}
}
