package data

import (
	"crypto/sha256"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Example cache: parsed, tokenized examples are gob-encoded next to the
// working dir so repeated container construction skips re-parsing. Keyed by
// dataset path only; a stale cache is refreshed solely via Reset.

// cachePath keys the cache file by the dataset's full path (hashed), so
// splits sharing a basename in different directories get distinct entries.
// The basename stays in the file name for humans.
func cachePath(dir, datasetPath string) string {
	abs, err := filepath.Abs(datasetPath)
	if err != nil {
		abs = datasetPath
	}
	sum := sha256.Sum256([]byte(abs))
	base := filepath.Base(datasetPath)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%x.examples.gob", base, sum[:4]))
}

func loadExampleCache(dir, datasetPath string) ([]Example, bool) {
	if dir == "" {
		return nil, false
	}
	f, err := os.Open(cachePath(dir, datasetPath))
	if err != nil {
		return nil, false
	}
	defer f.Close()
	var examples []Example
	if err := gob.NewDecoder(f).Decode(&examples); err != nil {
		return nil, false
	}
	return examples, true
}

func saveExampleCache(dir, datasetPath string, examples []Example) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create cache dir %s", dir)
	}
	path := cachePath(dir, datasetPath)
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create cache %s", path)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(examples); err != nil {
		return errors.Wrapf(err, "encode cache %s", path)
	}
	return nil
}
