package harness

import (
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/unitao/internal/compiler"
	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/schema"
)

// loadSpec compiles the entries under the top-level schema field of one
// CUE file, ordered by id and then ascending version.
func loadSpec(path string) ([]*schema.Document, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spec: %w", err)
	}
	v := cuecontext.New().CompileBytes(src, cue.Filename(path))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile %s: %w", path, err)
	}
	entries := v.LookupPath(cue.ParsePath("schema"))
	if !entries.Exists() {
		return nil, fmt.Errorf("%s: no schema entries found", path)
	}
	iter, err := entries.Fields()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var docs []*schema.Document
	for iter.Next() {
		doc, err := compiler.CompileSchema(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("%s: schema.%s: %w", path, iter.Label(), err)
		}
		docs = append(docs, doc)
	}
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].ID != docs[j].ID {
			return docs[i].ID < docs[j].ID
		}
		return ir.CompareVersions(docs[i].Version, docs[j].Version) < 0
	})
	return docs, nil
}
