package conversation

import "fmt"

// Placeholder texts used when repair rewrites content it cannot keep in its
// original form. Orphaned results keep their payload readable as narrative;
// turns whose every block was unusable keep their slot in the sequence.
const (
	orphanResultPrefix      = "[Tool Result]: "
	unrenderablePlaceholder = "[Unrenderable content]"
)

// Repair validates and normalizes a turn sequence so that it satisfies the
// structural invariants providers enforce, most importantly that every tool
// result references a tool invocation from a strictly earlier turn.
//
// Repair is pure: it never mutates its input, never returns an error, and
// never panics. Malformed input degrades into readable text instead of being
// dropped. Conversations of length 0 or 1 are returned as an unchanged copy,
// since no pairing is possible.
//
// Repair is idempotent: applying it to its own output changes nothing.
func Repair(turns []Turn) []Turn {
	if len(turns) <= 1 {
		return CloneTurns(turns)
	}

	out := make([]Turn, 0, len(turns))
	// Invocation ids defined by turns already emitted. A result may only
	// reference an id from a strictly earlier turn, so ids of the turn being
	// processed are added after that turn is emitted.
	defined := make(map[string]bool)

	for _, src := range turns {
		blocks := normalizeBlocks(src)
		if len(blocks) == 0 {
			// Nothing was ever here; drop the turn.
			continue
		}

		var kept []Block
		var orphans []string
		invalid := 0
		for _, b := range blocks {
			switch b.Type {
			case BlockTypeText:
				if b.Text == "" {
					invalid++
					continue
				}
				kept = append(kept, b)
			case BlockTypeToolUse:
				if b.ID == "" || b.Name == "" {
					invalid++
					continue
				}
				kept = append(kept, b)
			case BlockTypeToolResult:
				if defined[b.ToolUseID] {
					kept = append(kept, b)
					continue
				}
				// Orphaned: no matching invocation in an earlier turn. The
				// payload survives as plain narrative in its own turn.
				if b.Content == "" {
					invalid++
					continue
				}
				orphans = append(orphans, b.Content)
			default:
				kept = append(kept, convertUnknownBlock(b))
			}
		}

		if len(kept) == 0 && len(orphans) == 0 {
			if invalid == 0 {
				continue
			}
			// Every block was unusable. Substitute a placeholder so callers
			// that count turns before and after still line up.
			kept = []Block{TextBlock(unrenderablePlaceholder)}
		}

		role := src.Role
		if role != RoleAssistant {
			role = RoleUser
		}
		if len(kept) > 0 {
			out = append(out, Turn{Role: role, Blocks: kept})
			for _, b := range kept {
				if b.Type == BlockTypeToolUse {
					defined[b.ID] = true
				}
			}
		}
		for _, content := range orphans {
			out = append(out, Turn{
				Role:   RoleUser,
				Blocks: []Block{TextBlock(orphanResultPrefix + content)},
			})
		}
	}

	return out
}

// normalizeBlocks returns a fresh block slice for the turn, folding a bare
// content string into a leading text block.
func normalizeBlocks(t Turn) []Block {
	blocks := make([]Block, 0, len(t.Blocks)+1)
	if t.Content != "" {
		blocks = append(blocks, TextBlock(t.Content))
	}
	for _, b := range t.Blocks {
		if b.Type == "" && b.Text != "" {
			// A block that was never tagged but carries text is text.
			b.Type = BlockTypeText
		}
		blocks = append(blocks, b)
	}
	return blocks
}

// convertUnknownBlock rewrites a block with an unrecognized tag into text
// noting the unsupported type, preserving whatever payload it carried.
func convertUnknownBlock(b Block) Block {
	payload := b.Text
	if payload == "" {
		payload = b.Content
	}
	if payload == "" {
		return TextBlock(fmt.Sprintf("[Unsupported block type %q]", string(b.Type)))
	}
	return TextBlock(fmt.Sprintf("[Unsupported block type %q]: %s", string(b.Type), payload))
}
