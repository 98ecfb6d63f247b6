package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"

	"github.com/go-faker/faker/v4"
	"github.com/go-faker/faker/v4/pkg/interfaces"
	"github.com/go-faker/faker/v4/pkg/options"
	"github.com/sushant-115/bpindex/pkg/records"
)

type fakeRecord struct {
	Key   int64
	Value int64
}

// generate returns n random records with keys and values in [lo, hi) and a
// delete list holding about deleteFraction of the inserted keys plus a few
// keys that were never inserted.
func generate(n, lo, hi int, deleteFraction float64) ([]records.Record, []int64, error) {
	if hi <= lo {
		return nil, nil, fmt.Errorf("empty key range [%d, %d)", lo, hi)
	}
	if deleteFraction < 0 || deleteFraction > 1 {
		return nil, nil, fmt.Errorf("delete fraction %v out of [0, 1]", deleteFraction)
	}
	boundary := options.WithRandomIntegerBoundaries(interfaces.RandomIntegerBoundary{Start: lo, End: hi})

	recs := make([]records.Record, 0, n)
	for range n {
		var fr fakeRecord
		if err := faker.FakeData(&fr, boundary); err != nil {
			return nil, nil, err
		}
		recs = append(recs, records.Record{Key: fr.Key, Value: fr.Value})
	}

	var deletes []int64
	for _, i := range rand.Perm(len(recs))[:int(float64(len(recs))*deleteFraction)] {
		deletes = append(deletes, recs[i].Key)
	}
	for range len(deletes)/10 + 1 {
		deletes = append(deletes, int64(hi)+rand.Int64N(int64(hi-lo)+1))
	}
	return recs, deletes, nil
}

func writeCSV(path string, write func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		return errors.Join(err, f.Close())
	}
	return f.Close()
}

func main() {
	log.SetFlags(0)
	n := flag.Int("n", 1000, "number of records to generate")
	lo := flag.Int("min", 0, "smallest key")
	hi := flag.Int("max", 100000, "keys are below this value")
	fraction := flag.Float64("delete-fraction", 0.3, "fraction of inserted keys written to the delete file")
	insertPath := flag.String("insert", "insert.csv", "output path for key,value records")
	deletePath := flag.String("delete", "delete.csv", "output path for keys to delete")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "\nbpindex-gen writes random workloads for bpindex -i and -d.\n\nArguments:")
		flag.PrintDefaults()
	}
	flag.Parse()

	recs, deletes, err := generate(*n, *lo, *hi, *fraction)
	if err != nil {
		log.Fatalf("bpindex-gen: %v", err)
	}
	if err := writeCSV(*insertPath, func(f *os.File) error { return records.Write(f, recs) }); err != nil {
		log.Fatalf("bpindex-gen: %v", err)
	}
	if err := writeCSV(*deletePath, func(f *os.File) error { return records.WriteKeys(f, deletes) }); err != nil {
		log.Fatalf("bpindex-gen: %v", err)
	}
	fmt.Printf("wrote %d records to %s and %d keys to %s\n", len(recs), *insertPath, len(deletes), *deletePath)
}
