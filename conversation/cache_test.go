package conversation

import (
	"fmt"
	"reflect"
	"testing"
)

// alternating builds a user-led conversation of n turns.
func alternating(n int) []Turn {
	turns := make([]Turn, 0, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			turns = append(turns, UserText(fmt.Sprintf("user %d", i)))
		} else {
			turns = append(turns, AssistantText(fmt.Sprintf("assistant %d", i)))
		}
	}
	return turns
}

func TestAnnotateQuota(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 5, 6, 7, 10, 25, 100} {
		t.Run(fmt.Sprintf("%d_turns", n), func(t *testing.T) {
			got := CountCacheMarkers(Annotate(alternating(n)))
			if got > MaxCacheMarkers {
				t.Errorf("%d markers placed, ceiling is %d", got, MaxCacheMarkers)
			}
			if n <= 1 && got != 0 {
				t.Errorf("single-turn conversation received %d markers, want 0", got)
			}
			if n >= 2 && got == 0 {
				t.Errorf("multi-turn conversation received no markers")
			}
		})
	}
}

func TestAnnotateClearsStaleMarkers(t *testing.T) {
	// Markers are ephemeral: input carrying more flags than the ceiling
	// must still come out within quota.
	turns := alternating(12)
	for i := range turns {
		turns[i].Blocks[0].Cache = true
	}
	if got := CountCacheMarkers(Annotate(turns)); got > MaxCacheMarkers {
		t.Errorf("stale markers leaked through: %d > %d", got, MaxCacheMarkers)
	}
}

func TestAnnotateDeterminism(t *testing.T) {
	for _, n := range []int{2, 6, 9, 40} {
		turns := alternating(n)
		first := Annotate(turns)
		second := Annotate(turns)
		if !reflect.DeepEqual(first, second) {
			t.Errorf("annotate not deterministic for %d turns", n)
		}
		// Re-annotating the annotated copy lands on the same placement.
		if again := Annotate(first); !reflect.DeepEqual(first, again) {
			t.Errorf("annotate not stable over its own output for %d turns", n)
		}
	}
}

func markedIndexes(turns []Turn) []int {
	var idx []int
	for i, turn := range turns {
		for _, b := range turn.Blocks {
			if b.Cache {
				idx = append(idx, i)
				break
			}
		}
	}
	return idx
}

func TestAnnotatePlacement(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want []int
	}{
		// user at 0, assistant at 1: first user == last user.
		{"two turns", 2, []int{0}},
		// users at 0 and 2: first, second-to-last, last collapse to {0, 2}.
		{"four turns", 4, []int{0, 2}},
		// six turns, users at 0/2/4, midpoint index 3 is an assistant turn
		// and is skipped.
		{"six turns midpoint assistant", 6, []int{0, 2, 4}},
		// seven turns, users at 0/2/4/6, midpoint index 3 is assistant:
		// first 0, second-to-last 4, last 6.
		{"seven turns", 7, []int{0, 4, 6}},
		// nine turns, users at 0/2/4/6/8, midpoint index 4 is a user turn.
		{"nine turns midpoint user", 9, []int{0, 4, 6, 8}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := markedIndexes(Annotate(alternating(tc.n)))
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("marked turns %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAnnotateMarkerOnFirstBlock(t *testing.T) {
	turns := []Turn{
		{Role: RoleUser, Blocks: []Block{TextBlock("a"), TextBlock("b")}},
		AssistantText("reply"),
	}
	annotated := Annotate(turns)
	if !annotated[0].Blocks[0].Cache {
		t.Error("marker missing from first block of the chosen turn")
	}
	if annotated[0].Blocks[1].Cache {
		t.Error("marker leaked onto a later block of the chosen turn")
	}
}

func TestAnnotateDoesNotMutateInput(t *testing.T) {
	turns := alternating(8)
	snapshot := CloneTurns(turns)
	Annotate(turns)
	if !reflect.DeepEqual(turns, snapshot) {
		t.Error("annotate mutated its input")
	}
}

func TestAnnotateAssistantOnlyConversation(t *testing.T) {
	// Degenerate input with no user turns: nothing to mark, nothing to
	// panic over.
	turns := []Turn{AssistantText("a"), AssistantText("b"), AssistantText("c")}
	if got := CountCacheMarkers(Annotate(turns)); got != 0 {
		t.Errorf("assistant-only conversation received %d markers, want 0", got)
	}
}
