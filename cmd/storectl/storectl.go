// Command storectl manages keyed sample stores: building one from paired
// image/mask directories, listing its keys, and splitting a key list into
// train/test partitions.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"

	"github.com/josegcpa/unet/internal/corpus"
	"github.com/josegcpa/unet/internal/fsutil"
	"github.com/josegcpa/unet/internal/imageio"
	"github.com/josegcpa/unet/internal/samplestore"
)

const usage = `usage: storectl <command> [flags]

commands:
  build   ingest paired image/mask directories into a store and key list
  keys    list the keys in a store
  split   partition a key list into train/test lists with a seeded shuffle
`

func main() {
	log.SetFlags(0)
	log.SetPrefix("storectl: ")

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "build":
		err = runBuild(os.Args[2:])
	case "keys":
		err = runKeys(os.Args[2:])
	case "split":
		err = runSplit(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

// runBuild ingests a directory corpus into a store, writing one record per
// image and the key list in corpus order.
func runBuild(args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	var (
		datasetDir = fs.String("dataset-dir", "", "Directory of input images")
		truthDir   = fs.String("truth-dir", "", "Directory of mask images paired by base name")
		weightDir  = fs.String("weight-dir", "", "Directory of weight-map images paired by base name")
		storePath  = fs.String("store", "", "Store file to create or extend")
		keyList    = fs.String("key-list", "", "Key list file to write")
		channels   = fs.Int("channels", 3, "Image channels to store")
		classes    = fs.Int("n-classes", 2, "Segmentation classes for mask decoding")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *datasetDir == "" || *storePath == "" || *keyList == "" {
		return fmt.Errorf("build needs -dataset-dir, -store, and -key-list")
	}

	fsys := fsutil.OSFileSystem{}
	crp, err := corpus.FromDirectories(fsys, *datasetDir, *truthDir, *weightDir)
	if err != nil {
		return err
	}

	store, err := samplestore.Open(*storePath)
	if err != nil {
		return err
	}
	defer store.Close()

	keys := make([]string, 0, crp.Len())
	for _, e := range crp.Entries {
		rec := &samplestore.Record{Key: e.ID, Channels: *channels, Classes: *classes}
		rec.Image, err = imageio.LoadPlanes(fsys, e.Image, *channels)
		if err != nil {
			return err
		}
		if e.Mask != "" {
			rec.Mask, err = imageio.LoadLabels(fsys, e.Mask, *classes)
			if err != nil {
				return err
			}
		}
		if e.Weight != "" {
			rec.Weight, err = imageio.LoadWeights(fsys, e.Weight)
			if err != nil {
				return err
			}
		}
		if err := store.Put(rec); err != nil {
			return err
		}
		keys = append(keys, e.ID)
		log.Printf("stored %s (%dx%d)", e.ID, rec.Image.H, rec.Image.W)
	}

	if err := samplestore.WriteKeyList(fsys, *keyList, keys); err != nil {
		return err
	}
	log.Printf("wrote %d keys to %s", len(keys), *keyList)
	return nil
}

// runKeys prints the store's keys in lexical order.
func runKeys(args []string) error {
	fs := flag.NewFlagSet("keys", flag.ExitOnError)
	storePath := fs.String("store", "", "Store file to read")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *storePath == "" {
		return fmt.Errorf("keys needs -store")
	}

	store, err := samplestore.Open(*storePath)
	if err != nil {
		return err
	}
	defer store.Close()

	keys, err := store.Keys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Println(k)
	}
	return nil
}

// runSplit shuffles a key list with a seeded rng and writes train/test
// partitions.
func runSplit(args []string) error {
	fs := flag.NewFlagSet("split", flag.ExitOnError)
	var (
		keyList   = fs.String("key-list", "", "Key list file to split")
		trainOut  = fs.String("train-out", "", "Output key list for the train partition")
		testOut   = fs.String("test-out", "", "Output key list for the test partition")
		testShare = fs.Float64("test-share", 0.2, "Fraction of keys assigned to the test partition")
		seed      = fs.Int64("seed", 42, "Shuffle seed")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *keyList == "" || *trainOut == "" || *testOut == "" {
		return fmt.Errorf("split needs -key-list, -train-out, and -test-out")
	}
	if *testShare <= 0 || *testShare >= 1 {
		return fmt.Errorf("test-share %v outside (0,1)", *testShare)
	}

	fsys := fsutil.OSFileSystem{}
	keys, err := samplestore.ReadKeyList(fsys, *keyList)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(*seed))
	rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })

	nTest := int(float64(len(keys)) * *testShare)
	if nTest == 0 || nTest == len(keys) {
		return fmt.Errorf("split of %d keys at share %v leaves an empty partition", len(keys), *testShare)
	}
	if err := samplestore.WriteKeyList(fsys, *testOut, keys[:nTest]); err != nil {
		return err
	}
	if err := samplestore.WriteKeyList(fsys, *trainOut, keys[nTest:]); err != nil {
		return err
	}
	log.Printf("split %d keys: %d train, %d test", len(keys), len(keys)-nTest, nTest)
	return nil
}
