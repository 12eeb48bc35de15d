package data

import (
	"errors"
	"strings"
	"testing"
)

var testKeys = RecordKeys{Text: "text", Group: "conversation_id", Role: "role", Sort: "timestamp"}

func decodeTestRecords(t *testing.T, src string) []Record {
	t.Helper()
	recs, err := DecodeRecords(strings.NewReader(src), "test.json", testKeys)
	if err != nil {
		t.Fatal(err)
	}
	return recs
}

func TestDecodeRecordsArrayAndNDJSON(t *testing.T) {
	asArray := `[
		{"text": "hi", "conversation_id": "c1", "role": "user", "timestamp": 1},
		{"text": "hello", "conversation_id": "c1", "role": "bot", "timestamp": 2}
	]`
	asLines := `{"text": "hi", "conversation_id": "c1", "role": "user", "timestamp": 1}
{"text": "hello", "conversation_id": "c1", "role": "bot", "timestamp": 2}`

	a := decodeTestRecords(t, asArray)
	b := decodeTestRecords(t, asLines)
	if len(a) != 2 || len(b) != 2 {
		t.Fatalf("got %d and %d records, want 2 and 2", len(a), len(b))
	}
	for i := range a {
		if a[i].Text != b[i].Text || a[i].Group != b[i].Group || a[i].Role != b[i].Role {
			t.Fatalf("record %d differs between array and ndjson decode", i)
		}
	}
	if a[0].Seq != 0 || a[1].Seq != 1 {
		t.Fatal("Seq does not follow source order")
	}
}

func TestDecodeRecordsNumericGroupIDs(t *testing.T) {
	recs := decodeTestRecords(t,
		`[{"text": "hi", "conversation_id": 42, "role": "user", "timestamp": 1}]`)
	if recs[0].Group != "42" {
		t.Fatalf("numeric group id rendered as %q", recs[0].Group)
	}
}

func TestDecodeRecordsMissingKey(t *testing.T) {
	src := `[
		{"text": "hi", "conversation_id": "c1", "role": "user", "timestamp": 1},
		{"text": "hello", "conversation_id": "c1", "timestamp": 2}
	]`
	_, err := DecodeRecords(strings.NewReader(src), "test.json", testKeys)
	var malformed *MalformedRecordError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want *MalformedRecordError", err)
	}
	if malformed.Key != "role" || malformed.Index != 1 || malformed.Path != "test.json" {
		t.Fatalf("unexpected error detail: %+v", malformed)
	}
}

func TestBuildExamplesGroupingAndOrder(t *testing.T) {
	// Conversations interleaved in the stream; timestamps out of order
	// within c1.
	recs := decodeTestRecords(t, `[
		{"text": "second turn", "conversation_id": "c1", "role": "bot", "timestamp": 2},
		{"text": "first c2", "conversation_id": "c2", "role": "user", "timestamp": 10},
		{"text": "first turn", "conversation_id": "c1", "role": "user", "timestamp": 1},
		{"text": "second c2", "conversation_id": "c2", "role": "bot", "timestamp": 20}
	]`)

	field := NewField(nil)
	examples, stats, err := BuildExamples(field, recs, BuilderConfig{Keys: testKeys, Sort: SortNumeric()})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Examples != 2 {
		t.Fatalf("got %d examples, want 2", stats.Examples)
	}
	// First-appearance order: c1 before c2.
	if examples[0].ConversationID != "c1" || examples[1].ConversationID != "c2" {
		t.Fatalf("conversation order %q, %q", examples[0].ConversationID, examples[1].ConversationID)
	}
	// Within c1, numeric sort put "first turn" first.
	if examples[0].Turns[0][0] != "first" || examples[0].Roles[0] != "user" {
		t.Fatalf("c1 turn 0 = %v (%s)", examples[0].Turns[0], examples[0].Roles[0])
	}
	if examples[0].Roles[1] != "bot" {
		t.Fatal("c1 roles not parallel to turns")
	}
}

func TestBuildExamplesSortModes(t *testing.T) {
	// Lexically "10" < "9", numerically 9 < 10.
	src := `[
		{"text": "ten", "conversation_id": "c", "role": "u", "timestamp": "10"},
		{"text": "nine", "conversation_id": "c", "role": "u", "timestamp": "9"}
	]`
	recs := decodeTestRecords(t, src)
	field := NewField(nil)

	numeric, _, err := BuildExamples(field, recs, BuilderConfig{Keys: testKeys, Sort: SortNumeric()})
	if err != nil {
		t.Fatal(err)
	}
	if numeric[0].Turns[0][0] != "nine" {
		t.Fatal("numeric sort did not order 9 before 10")
	}

	lexical, _, err := BuildExamples(field, decodeTestRecords(t, src),
		BuilderConfig{Keys: testKeys, Sort: SortLexical()})
	if err != nil {
		t.Fatal(err)
	}
	if lexical[0].Turns[0][0] != "ten" {
		t.Fatal(`lexical sort did not order "10" before "9"`)
	}

	custom, _, err := BuildExamples(field, decodeTestRecords(t, src),
		BuilderConfig{Keys: testKeys, Sort: SortFunc(func(a, b Record) bool {
			return a.Seq > b.Seq // reverse stream order
		})})
	if err != nil {
		t.Fatal(err)
	}
	if custom[0].Turns[0][0] != "nine" {
		t.Fatal("custom sort not applied")
	}
}

func TestBuildExamplesStableTies(t *testing.T) {
	recs := decodeTestRecords(t, `[
		{"text": "first", "conversation_id": "c", "role": "u", "timestamp": 5},
		{"text": "second", "conversation_id": "c", "role": "u", "timestamp": 5},
		{"text": "third", "conversation_id": "c", "role": "u", "timestamp": 5}
	]`)
	examples, _, err := BuildExamples(NewField(nil), recs, BuilderConfig{Keys: testKeys, Sort: SortNumeric()})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"first", "second", "third"}
	for i, w := range want {
		if examples[0].Turns[i][0] != w {
			t.Fatalf("tied turn %d = %q, want %q", i, examples[0].Turns[i][0], w)
		}
	}
}

func TestBuildExamplesSortManyOutOfOrder(t *testing.T) {
	recs := decodeTestRecords(t, `[
		{"text": "four", "conversation_id": "c", "role": "u", "timestamp": 4},
		{"text": "one", "conversation_id": "c", "role": "u", "timestamp": 1},
		{"text": "three", "conversation_id": "c", "role": "u", "timestamp": 3},
		{"text": "five", "conversation_id": "c", "role": "u", "timestamp": 5},
		{"text": "two", "conversation_id": "c", "role": "u", "timestamp": 2}
	]`)
	examples, _, err := BuildExamples(NewField(nil), recs, BuilderConfig{Keys: testKeys, Sort: SortNumeric()})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"one", "two", "three", "four", "five"}
	for i, w := range want {
		if got := examples[0].Turns[i][0]; got != w {
			t.Fatalf("turn %d = %q, want %q (full order %v)", i, got, w, examples[0].Turns)
		}
	}
}

func TestBuildExamplesUnusableLexicalSortValue(t *testing.T) {
	recs := decodeTestRecords(t,
		`[{"text": "hi", "conversation_id": "c", "role": "u", "timestamp": {"nested": true}}]`)
	_, _, err := BuildExamples(NewField(nil), recs, BuilderConfig{Keys: testKeys, Sort: SortLexical()})
	var malformed *MalformedRecordError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want *MalformedRecordError", err)
	}
	if malformed.Key != "timestamp" {
		t.Fatalf("error key %q, want timestamp", malformed.Key)
	}
}

func TestBuildExamplesNonNumericSortValue(t *testing.T) {
	recs := decodeTestRecords(t,
		`[{"text": "hi", "conversation_id": "c", "role": "u", "timestamp": "not a number"}]`)
	_, _, err := BuildExamples(NewField(nil), recs, BuilderConfig{Keys: testKeys, Sort: SortNumeric()})
	var malformed *MalformedRecordError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want *MalformedRecordError", err)
	}
	if malformed.Key != "timestamp" {
		t.Fatalf("error key %q, want timestamp", malformed.Key)
	}
}

func TestBuildExamplesSkipsEmptyDialogues(t *testing.T) {
	recs := decodeTestRecords(t, `[
		{"text": "   ", "conversation_id": "empty", "role": "u", "timestamp": 1},
		{"text": "real words", "conversation_id": "ok", "role": "u", "timestamp": 1}
	]`)
	examples, stats, err := BuildExamples(NewField(nil), recs, BuilderConfig{Keys: testKeys, Sort: SortNumeric()})
	if err != nil {
		t.Fatal(err)
	}
	if len(examples) != 1 || examples[0].ConversationID != "ok" {
		t.Fatalf("examples = %v", examples)
	}
	if stats.SkippedEmpty != 1 || len(stats.Empty) != 1 || stats.Empty[0].ConversationID != "empty" {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestBuildExamplesMaxSLFilter(t *testing.T) {
	recs := decodeTestRecords(t, `[
		{"text": "one two three four five", "conversation_id": "long", "role": "u", "timestamp": 1},
		{"text": "one two", "conversation_id": "short", "role": "u", "timestamp": 1}
	]`)
	examples, stats, err := BuildExamples(NewField(nil), recs,
		BuilderConfig{Keys: testKeys, Sort: SortNumeric(), MaxSL: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(examples) != 1 || examples[0].ConversationID != "short" {
		t.Fatalf("examples = %v", examples)
	}
	if stats.DroppedOverlength != 1 {
		t.Fatalf("dropped %d, want 1", stats.DroppedOverlength)
	}
}
