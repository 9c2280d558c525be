package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/unitao/internal/compiler"
	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/schema"
)

// LoadResult contains the schema documents found in a directory.
type LoadResult struct {
	Documents []*schema.Document
	FileCount int // Number of CUE files found
}

// LoadError represents an error that occurred during schema loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code constants shared by the schema commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeNoSchemas   = "E008" // No schema: entries

	ErrCodeInvalidSchema = "E101" // Schema entry does not compile
)

// LoadSchemas loads the CUE package in dir and compiles every entry under
// its top-level schema field. All compile errors are collected.
//
// The result is ordered by id, then ascending version, which is the order
// the entries must be pushed in.
func LoadSchemas(dir string) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schema directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing schema directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &LoadResult{FileCount: len(cueFiles)}
	schemasVal := value.LookupPath(cue.ParsePath("schema"))
	if !schemasVal.Exists() {
		return result, []error{&LoadError{Code: ErrCodeNoSchemas, Message: "no schema entries found"}}
	}
	iter, err := schemasVal.Fields()
	if err != nil {
		return result, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("iterating schemas: %v", err)}}
	}

	var errs []error
	for iter.Next() {
		doc, err := compiler.CompileSchema(iter.Value())
		if err != nil {
			errs = append(errs, convertCompileError(err, "schema."+iter.Label()))
			continue
		}
		result.Documents = append(result.Documents, doc)
	}

	sort.SliceStable(result.Documents, func(i, j int) bool {
		a, b := result.Documents[i], result.Documents[j]
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return ir.CompareVersions(a.Version, b.Version) < 0
	})
	return result, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeInvalidSchema,
			Message: fmt.Sprintf("%s: %s: %s", context, compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeInvalidSchema,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}
