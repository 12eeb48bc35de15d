package data

import (
	"os"
	"path/filepath"
	"testing"
)

func writeDatasetFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const trainJSON = `[
	{"text": "hi there", "conversation_id": "c1", "role": "user", "timestamp": 1},
	{"text": "hello", "conversation_id": "c1", "role": "bot", "timestamp": 2},
	{"text": "bye", "conversation_id": "c2", "role": "user", "timestamp": 1}
]`

const valJSON = `[
	{"text": "hi again", "conversation_id": "v1", "role": "user", "timestamp": 1},
	{"text": "welcome back", "conversation_id": "v1", "role": "bot", "timestamp": 2}
]`

func TestSplitsOptionalTest(t *testing.T) {
	dir := t.TempDir()
	cfg := SplitConfig{
		TrainPath:      writeDatasetFile(t, dir, "train.json", trainJSON),
		ValidationPath: writeDatasetFile(t, dir, "val.json", valJSON),
		Keys:           testKeys,
		Sort:           SortNumeric(),
	}
	field := NewField(nil)
	train, val, test, err := Splits(field, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if train.Len() != 2 || val.Len() != 1 {
		t.Fatalf("train %d, val %d", train.Len(), val.Len())
	}
	if test != nil {
		t.Fatal("test dataset exists without a test path")
	}
	if train.Field() != val.Field() {
		t.Fatal("splits do not share the field")
	}
}

func TestSplitsCacheReuseAndReset(t *testing.T) {
	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "cache")
	trainPath := writeDatasetFile(t, dir, "train.json", trainJSON)
	cfg := SplitConfig{
		Path:      cacheDir,
		TrainPath: trainPath,
		Keys:      testKeys,
		Sort:      SortNumeric(),
	}

	first, _, _, err := Splits(NewField(nil), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(cachePath(cacheDir, trainPath)); err != nil {
		t.Fatalf("cache file not written: %v", err)
	}

	// Change the file on disk. The cache is keyed by path, so without
	// Reset the old examples come back.
	writeDatasetFile(t, dir, "train.json",
		`[{"text": "totally new", "conversation_id": "n1", "role": "user", "timestamp": 1}]`)

	cached, _, _, err := Splits(NewField(nil), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if cached.Len() != first.Len() {
		t.Fatalf("cached split has %d examples, want %d", cached.Len(), first.Len())
	}

	cfg.Reset = true
	fresh, _, _, err := Splits(NewField(nil), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Len() != 1 || fresh.Examples()[0].ConversationID != "n1" {
		t.Fatalf("reset split = %v", fresh.Examples())
	}
}

func TestSplitsCacheDistinguishesSameBasename(t *testing.T) {
	dir := t.TempDir()
	aDir := filepath.Join(dir, "a")
	bDir := filepath.Join(dir, "b")
	for _, d := range []string{aDir, bDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	cfg := SplitConfig{
		Path: filepath.Join(dir, "cache"),
		TrainPath: writeDatasetFile(t, aDir, "data.json",
			`[{"text": "train words", "conversation_id": "t1", "role": "user", "timestamp": 1}]`),
		ValidationPath: writeDatasetFile(t, bDir, "data.json",
			`[{"text": "validation words", "conversation_id": "v1", "role": "user", "timestamp": 1}]`),
		Keys: testKeys,
		Sort: SortNumeric(),
	}
	if p1, p2 := cachePath(cfg.Path, cfg.TrainPath), cachePath(cfg.Path, cfg.ValidationPath); p1 == p2 {
		t.Fatalf("same cache entry %q for both splits", p1)
	}

	if _, _, _, err := Splits(NewField(nil), cfg); err != nil {
		t.Fatal(err)
	}
	// Second run is served from the cache; each split must get its own
	// examples back.
	train, val, _, err := Splits(NewField(nil), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if train.Examples()[0].ConversationID != "t1" {
		t.Fatalf("train split served %q", train.Examples()[0].ConversationID)
	}
	if val.Examples()[0].ConversationID != "v1" {
		t.Fatalf("validation split served %q", val.Examples()[0].ConversationID)
	}
}

func TestRoleIndexFirstSeen(t *testing.T) {
	examples := []Example{
		{ConversationID: "c1", Turns: [][]string{{"a"}, {"b"}}, Roles: []string{"user", "bot"}},
		{ConversationID: "c2", Turns: [][]string{{"c"}}, Roles: []string{"system"}},
	}
	ri := BuildRoleIndex(examples)
	if ri.ID("user") != 2 || ri.ID("bot") != 3 || ri.ID("system") != 4 {
		t.Fatalf("role ids user=%d bot=%d system=%d", ri.ID("user"), ri.ID("bot"), ri.ID("system"))
	}
	if ri.ID("never-seen") != UnkRoleIndex {
		t.Fatal("unseen role did not map to UnkRoleIndex")
	}
	if ri.Len() != 5 {
		t.Fatalf("role index len %d, want 5", ri.Len())
	}
}
