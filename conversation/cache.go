package conversation

// MaxCacheMarkers is the provider-imposed ceiling on cache breakpoints in a
// single outbound request. Anthropic rejects requests carrying more than
// four cache_control blocks, and no other supported provider allows more.
const MaxCacheMarkers = 4

// Annotate returns a copy of the conversation with up to MaxCacheMarkers
// prompt-cache breakpoints placed on it. The input is never mutated and any
// markers already present are discarded first: annotations are ephemeral and
// recomputed for every outbound call.
//
// Placement targets, in order, each applied only when the target exists and
// quota remains:
//
//  1. the first user turn, once the conversation has more than one turn
//  2. the user turn at the midpoint index, for conversations of six or more
//     turns (skipped when the midpoint lands on an assistant turn)
//  3. the second-to-last user turn
//  4. the last user turn, unless step 3 already covered it
//
// Steady-state conversations grow by appending, so the early and midpoint
// markers give the provider stable prefixes to reuse while the final user
// turn, unique per call, stays outside every cached span. Single-turn
// conversations receive no markers at all.
func Annotate(turns []Turn) []Turn {
	out := CloneTurns(turns)
	for i := range out {
		for j := range out[i].Blocks {
			out[i].Blocks[j].Cache = false
		}
	}
	if len(out) <= 1 {
		return out
	}

	quota := MaxCacheMarkers
	marked := make(map[int]bool)
	mark := func(i int) {
		if i < 0 || i >= len(out) || marked[i] || quota == 0 {
			return
		}
		if len(out[i].Blocks) == 0 {
			return
		}
		out[i].Blocks[0].Cache = true
		marked[i] = true
		quota--
	}

	var userIdx []int
	for i, t := range out {
		if t.Role == RoleUser {
			userIdx = append(userIdx, i)
		}
	}

	if len(userIdx) > 0 {
		mark(userIdx[0])
	}
	if len(out) >= 6 {
		if mid := len(out) / 2; out[mid].Role == RoleUser {
			mark(mid)
		}
	}
	if len(userIdx) >= 2 {
		mark(userIdx[len(userIdx)-2])
	}
	if len(userIdx) >= 1 {
		mark(userIdx[len(userIdx)-1])
	}

	return out
}

// CountCacheMarkers reports how many blocks in the sequence carry a cache
// marker. Providers use it to verify the outbound request stays within the
// ceiling; tests use it directly.
func CountCacheMarkers(turns []Turn) int {
	n := 0
	for _, t := range turns {
		for _, b := range t.Blocks {
			if b.Cache {
				n++
			}
		}
	}
	return n
}
