// assets/embed.go
//
// Files compiled into the binary:
//   - vocab_small.txt: a tiny demo embedding table used when VOCAB_PATH is unset.
//   - migrations/*.sql: schema for the sqlite store, applied in lexical order.

package assets

import (
	"bytes"
	"embed"
	"io"
	"io/fs"
	"sort"
)

//go:embed vocab_small.txt
var vocabSmall []byte

//go:embed migrations/*.sql
var migrations embed.FS

// Vocabulary returns a reader over the embedded demo vocabulary.
func Vocabulary() io.Reader {
	return bytes.NewReader(vocabSmall)
}

// Migration is one embedded SQL file.
type Migration struct {
	Name string
	SQL  string
}

// Migrations returns the embedded SQL migrations sorted by file name.
func Migrations() ([]Migration, error) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		b, err := migrations.ReadFile(name)
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{Name: name, SQL: string(b)})
	}
	return out, nil
}
