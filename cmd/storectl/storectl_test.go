package main

import (
	"path/filepath"
	"testing"

	"github.com/josegcpa/unet/internal/fsutil"
	"github.com/josegcpa/unet/internal/samplestore"
)

func TestRunSplitPartitionsKeys(t *testing.T) {
	dir := t.TempDir()
	fsys := fsutil.OSFileSystem{}

	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	keyList := filepath.Join(dir, "keys.txt")
	if err := samplestore.WriteKeyList(fsys, keyList, keys); err != nil {
		t.Fatalf("write key list: %v", err)
	}

	trainOut := filepath.Join(dir, "train.txt")
	testOut := filepath.Join(dir, "test.txt")
	err := runSplit([]string{
		"-key-list", keyList,
		"-train-out", trainOut,
		"-test-out", testOut,
		"-test-share", "0.2",
		"-seed", "7",
	})
	if err != nil {
		t.Fatalf("split: %v", err)
	}

	train, err := samplestore.ReadKeyList(fsys, trainOut)
	if err != nil {
		t.Fatalf("read train list: %v", err)
	}
	test, err := samplestore.ReadKeyList(fsys, testOut)
	if err != nil {
		t.Fatalf("read test list: %v", err)
	}

	if len(test) != 2 || len(train) != 8 {
		t.Fatalf("expected 8/2 split, got %d/%d", len(train), len(test))
	}
	seen := make(map[string]int)
	for _, k := range append(train, test...) {
		seen[k]++
	}
	for _, k := range keys {
		if seen[k] != 1 {
			t.Errorf("key %q appears %d times across partitions", k, seen[k])
		}
	}
}

func TestRunSplitRejectsEmptyPartition(t *testing.T) {
	dir := t.TempDir()
	fsys := fsutil.OSFileSystem{}

	keyList := filepath.Join(dir, "keys.txt")
	if err := samplestore.WriteKeyList(fsys, keyList, []string{"only"}); err != nil {
		t.Fatalf("write key list: %v", err)
	}

	err := runSplit([]string{
		"-key-list", keyList,
		"-train-out", filepath.Join(dir, "train.txt"),
		"-test-out", filepath.Join(dir, "test.txt"),
		"-test-share", "0.2",
	})
	if err == nil {
		t.Fatal("expected an error for a split leaving an empty partition")
	}
}

func TestRunKeysRequiresStore(t *testing.T) {
	if err := runKeys(nil); err == nil {
		t.Fatal("expected an error without -store")
	}
}
