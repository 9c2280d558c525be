package compiler

import (
	"errors"
	"fmt"

	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/schema"
)

// Validation error codes (E200-E299)
const (
	ErrSchemaInvalid      = "E201" // document does not compile
	ErrDuplicateVersion   = "E202" // same (id, version) declared twice
	ErrVersionOrder       = "E203" // versions of one id are not ascending
	ErrIncompatibleUpdate = "E204" // a version is not a compatible upgrade of the previous one
)

// ValidationError represents a schema set validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a set of schema documents that will be pushed together,
// in push order. Every document must compile. Several versions of one id
// must ascend and each must be a compatible upgrade of the one before, as
// the catalog would require on registration.
//
// All errors are returned (does not fail-fast).
func Validate(docs []*schema.Document) []ValidationError {
	var errs []ValidationError

	seen := map[string]bool{}
	latest := map[string]*schema.Schema{}
	for i, doc := range docs {
		field := fmt.Sprintf("schemas[%d]", i)
		if doc != nil && doc.ID != "" {
			field = fmt.Sprintf("schema.%s@%s", doc.ID, doc.Version)
		}

		sch, err := schema.Compile(doc)
		if err != nil {
			errs = append(errs, ValidationError{Field: field + errField(err), Message: errMessage(err), Code: ErrSchemaInvalid})
			continue
		}

		key := sch.ID + "@" + sch.Version
		if seen[key] {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("version %s of %s is declared more than once", sch.Version, sch.ID),
				Code:    ErrDuplicateVersion,
			})
			continue
		}
		seen[key] = true

		prev, ok := latest[sch.ID]
		if !ok {
			latest[sch.ID] = sch
			continue
		}
		if ir.CompareVersions(sch.Version, prev.Version) <= 0 {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("version %s must be newer than %s", sch.Version, prev.Version),
				Code:    ErrVersionOrder,
			})
			continue
		}
		if err := schema.CheckUpgrade(prev, sch); err != nil {
			errs = append(errs, ValidationError{Field: field + errField(err), Message: errMessage(err), Code: ErrIncompatibleUpdate})
			continue
		}
		latest[sch.ID] = sch
	}

	return errs
}

func errField(err error) string {
	var e *ir.Error
	if errors.As(err, &e) && e.Path != "" {
		return "." + e.Path
	}
	return ""
}

func errMessage(err error) string {
	var e *ir.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
