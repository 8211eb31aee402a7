package pgstore_test

import (
	"fmt"
	"log"
	"os"

	"github.com/qminer/qminer-sub006"
	"github.com/qminer/qminer-sub006/record"
)

// Example_base creates a base with one store, adds a record and reads a
// field back after reopening.
func Example_base() {
	dir, err := os.MkdirTemp("", "pgstore-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	b, err := pgstore.Create(dir, []byte(`{
		"name": "Movies",
		"fields": [
			{"name": "Title", "type": "string", "primary": true},
			{"name": "Year", "type": "int"},
			{"name": "Plot", "type": "string", "null": true}
		]
	}`))
	if err != nil {
		log.Fatal(err)
	}
	movies, _ := b.Store("Movies")
	id, err := movies.AddRec(record.Value{"Title": "Metropolis", "Year": 1927})
	if err != nil {
		log.Fatal(err)
	}
	if err := b.Close(); err != nil {
		log.Fatal(err)
	}

	b, err = pgstore.Open(dir)
	if err != nil {
		log.Fatal(err)
	}
	defer b.Close()
	movies, _ = b.Store("Movies")
	year, _ := movies.GetFieldInt(id, "Year")
	null, _ := movies.IsFieldNull(id, "Plot")
	fmt.Println(year, null)
	// Output: 1927 true
}
