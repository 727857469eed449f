package filter

import (
	"encoding/json"

	"github.com/mnemos/mnemos/pkg/errs"
)

// Marshal serializes a filter tree. The encoding is stable: parsing the
// output yields the same tree.
func Marshal(e *Expr) ([]byte, error) {
	return json.Marshal(e)
}

// Parse deserializes a filter tree produced by Marshal.
func Parse(data []byte) (*Expr, error) {
	var e Expr
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errs.Wrap(errs.KindValidation, "filter.parse", err)
	}
	if err := validateShape(&e); err != nil {
		return nil, err
	}
	return &e, nil
}

// validateShape rejects nodes that are both leaf and group, or neither.
func validateShape(e *Expr) error {
	if e == nil {
		return nil
	}
	isLeaf := e.Field != "" || e.Op != ""
	isGroup := e.Group != "" || len(e.Children) > 0
	if isLeaf && isGroup {
		return errs.New(errs.KindValidation, "filter.parse", "node is both leaf and group")
	}
	if !isLeaf && !isGroup {
		return errs.New(errs.KindValidation, "filter.parse", "empty filter node")
	}
	for _, c := range e.Children {
		if err := validateShape(c); err != nil {
			return err
		}
	}
	return nil
}
