package data

import (
	"io"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

// makeTestDataset builds a dataset of synthetic conversations. turnCounts[i]
// is the number of turns of conversation i; turn t of a conversation has t+1
// tokens so utterance lengths vary within a dialogue.
func makeTestDataset(t *testing.T, turnCounts ...int) *Dataset {
	t.Helper()
	field := NewField(nil)
	examples := make([]Example, len(turnCounts))
	for i, n := range turnCounts {
		ex := Example{ConversationID: string(rune('a' + i))}
		for turn := 0; turn < n; turn++ {
			toks := make([]string, turn+1)
			for k := range toks {
				toks[k] = "w"
			}
			ex.Turns = append(ex.Turns, toks)
			if turn%2 == 0 {
				ex.Roles = append(ex.Roles, "user")
			} else {
				ex.Roles = append(ex.Roles, "bot")
			}
		}
		examples[i] = ex
	}
	if _, err := field.BuildVocab(examples, VocabOptions{}); err != nil {
		t.Fatal(err)
	}
	return NewDataset(field, examples)
}

func collectBatches(it *HierarchicalIterator) []*Batch {
	var out []*Batch
	for {
		b, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, b)
	}
}

func TestIteratorBatchShapes(t *testing.T) {
	ds := makeTestDataset(t, 2, 3)
	it, err := NewHierarchicalIterator(ds, 2, IteratorOptions{})
	if err != nil {
		t.Fatal(err)
	}
	batches := collectBatches(it)
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	b := batches[0]

	// Batch-local shape: 2 dialogues, widest has 3 turns, longest turn has
	// 3 tokens plus eos.
	bs, turns, seqLen := b.Dims()
	if bs != 2 || turns != 3 || seqLen != 4 {
		t.Fatalf("dims = (%d,%d,%d), want (2,3,4)", bs, turns, seqLen)
	}
	if b.ContextSize != 2*3*4 {
		t.Fatalf("context size %d", b.ContextSize)
	}

	// First dialogue has 2 turns; its third turn must be all padding and
	// its role the pad role.
	padTurn := b.Tokens[0][2]
	for _, id := range padTurn {
		if id != PadIndex {
			t.Fatalf("padding turn contains token %d:\n%s", id, spew.Sdump(b.Tokens[0]))
		}
	}
	if b.Roles[0][2] != PadRoleIndex {
		t.Fatalf("padding turn role = %d", b.Roles[0][2])
	}

	// Turn 0 of dialogue 0 is one token then eos then pads.
	row := b.Tokens[0][0]
	if row[0] == PadIndex || row[1] != EOSIndex || row[2] != PadIndex || row[3] != PadIndex {
		t.Fatalf("turn layout wrong:\n%s", spew.Sdump(row))
	}

	// Target is the last turn of each dialogue, eos-terminated.
	if b.TargetPos[0] != 1 || b.TargetPos[1] != 2 {
		t.Fatalf("target positions = %v", b.TargetPos)
	}
	tgt := b.Target[1] // 3 tokens + eos
	if len(tgt) != 4 || tgt[3] != EOSIndex {
		t.Fatalf("target row = %v", tgt)
	}
}

func TestIteratorSortByConvLenScenario(t *testing.T) {
	// Five conversations with 2,3,1,4,2 turns; batch size 2;
	// sort-by-conversation-length groups [1,2],[2,3],[4].
	ds := makeTestDataset(t, 2, 3, 1, 4, 2)
	it, err := NewHierarchicalIterator(ds, 2, IteratorOptions{SortBy: SortExamplesByConvLen})
	if err != nil {
		t.Fatal(err)
	}
	batches := collectBatches(it)
	if len(batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(batches))
	}
	if it.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", it.Len())
	}

	// First batch pairs the 1-turn conversation with a 2-turn one; the
	// single-turn dialogue is padded to 2 turns.
	_, turns, _ := batches[0].Dims()
	if turns != 2 {
		t.Fatalf("first batch turns = %d, want 2", turns)
	}
	for _, id := range batches[0].Tokens[0][1] {
		if id != PadIndex {
			t.Fatalf("expected padded second turn:\n%s", spew.Sdump(batches[0].Tokens[0]))
		}
	}

	// Last batch holds the leftover 4-turn conversation alone.
	lastBS, lastTurns, _ := batches[2].Dims()
	if lastBS != 1 || lastTurns != 4 {
		t.Fatalf("last batch dims = (%d,%d)", lastBS, lastTurns)
	}
}

func TestIteratorContextCeiling(t *testing.T) {
	// 3 turns * 4 seqLen * 2 batch = 24; a ceiling of 23 drops the big
	// batch and keeps the small one.
	ds := makeTestDataset(t, 2, 3, 1, 1)
	it, err := NewHierarchicalIterator(ds, 2, IteratorOptions{MaxContextSize: 23})
	if err != nil {
		t.Fatal(err)
	}
	batches := collectBatches(it)
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	if got := batches[0].ContextSize; got > 23 {
		t.Fatalf("yielded batch exceeds ceiling: %d", got)
	}
	if it.DroppedBatches() != 1 {
		t.Fatalf("dropped = %d, want 1", it.DroppedBatches())
	}

	// The count is cumulative across resets.
	it.Reset()
	collectBatches(it)
	if it.DroppedBatches() != 2 {
		t.Fatalf("cumulative dropped = %d, want 2", it.DroppedBatches())
	}
}

func TestIteratorDeterministicPasses(t *testing.T) {
	ds := makeTestDataset(t, 2, 3, 1, 4, 2)
	it, err := NewHierarchicalIterator(ds, 2, IteratorOptions{SortBy: SortExamplesBySeqLen})
	if err != nil {
		t.Fatal(err)
	}
	first := collectBatches(it)
	it.Reset()
	second := collectBatches(it)
	if len(first) != len(second) {
		t.Fatalf("pass lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !reflect.DeepEqual(first[i].Tokens, second[i].Tokens) {
			t.Fatalf("batch %d differs between passes:\nfirst: %ssecond: %s",
				i, spew.Sdump(first[i].Tokens), spew.Sdump(second[i].Tokens))
		}
		if !reflect.DeepEqual(first[i].Target, second[i].Target) {
			t.Fatalf("batch %d targets differ between passes", i)
		}
	}
}

func TestIteratorShuffleSeeded(t *testing.T) {
	ds := makeTestDataset(t, 1, 2, 3, 4, 5, 6, 7, 8)
	a, err := NewHierarchicalIterator(ds, 2, IteratorOptions{Shuffle: true, Seed: 7})
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewHierarchicalIterator(ds, 2, IteratorOptions{Shuffle: true, Seed: 7})
	if err != nil {
		t.Fatal(err)
	}
	fa, fb := collectBatches(a), collectBatches(b)
	if len(fa) != len(fb) {
		t.Fatalf("pass lengths differ: %d vs %d", len(fa), len(fb))
	}
	for i := range fa {
		if !reflect.DeepEqual(fa[i].Tokens, fb[i].Tokens) {
			t.Fatalf("same seed produced different batch %d", i)
		}
	}
}

func TestIteratorTargetRoles(t *testing.T) {
	field := NewField(nil)
	examples := []Example{
		{
			ConversationID: "with-bot",
			Turns:          [][]string{{"hi"}, {"hello", "there"}, {"ok"}},
			Roles:          []string{"user", "bot", "user"},
		},
		{
			ConversationID: "user-only",
			Turns:          [][]string{{"hi"}},
			Roles:          []string{"user"},
		},
	}
	if _, err := field.BuildVocab(examples, VocabOptions{}); err != nil {
		t.Fatal(err)
	}
	ds := NewDataset(field, examples)

	it, err := NewHierarchicalIterator(ds, 2, IteratorOptions{TargetRoles: []string{"bot"}})
	if err != nil {
		t.Fatal(err)
	}
	batches := collectBatches(it)
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	b := batches[0]
	if bs, _, _ := b.Dims(); bs != 1 {
		t.Fatalf("batch size %d, want 1 after skipping the bot-less dialogue", bs)
	}
	if it.SkippedNoTarget() != 1 {
		t.Fatalf("skipped = %d, want 1", it.SkippedNoTarget())
	}
	// The target is the last bot turn, not the last turn.
	if b.TargetPos[0] != 1 {
		t.Fatalf("target position = %d, want 1", b.TargetPos[0])
	}
	if got := len(b.Target[0]); got != 3 { // "hello there" + eos
		t.Fatalf("target length = %d, want 3", got)
	}
}

func TestIteratorYieldContract(t *testing.T) {
	ds := makeTestDataset(t, 2, 1)
	it, err := NewHierarchicalIterator(ds, 2, IteratorOptions{Name: "train"})
	if err != nil {
		t.Fatal(err)
	}
	if it.Name() != "train" {
		t.Fatalf("name = %q", it.Name())
	}

	_, inputs, labels, err := it.Yield()
	if err != nil {
		t.Fatal(err)
	}
	if len(inputs) != 4 || len(labels) != 1 {
		t.Fatalf("inputs/labels = %d/%d", len(inputs), len(labels))
	}
	tokens := inputs[0]
	if dims := tokens.Shape().Dimensions; len(dims) != 3 || dims[0] != 2 {
		t.Fatalf("token tensor shape %v", dims)
	}

	if _, _, _, err := it.Yield(); err != io.EOF {
		t.Fatalf("err = %v, want io.EOF at epoch end", err)
	}

	it.Reset()
	if _, _, _, err := it.Yield(); err != nil {
		t.Fatalf("yield after reset: %v", err)
	}
}

func TestIteratorRejectsMissingVocab(t *testing.T) {
	ds := NewDataset(NewField(nil), []Example{
		{ConversationID: "c", Turns: [][]string{{"hi"}}, Roles: []string{"u"}},
	})
	if _, err := NewHierarchicalIterator(ds, 2, IteratorOptions{}); err == nil {
		t.Fatal("iterator accepted a field without a vocabulary")
	}
}
