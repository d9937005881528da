package model

import "fmt"

// Failure is a serializable representation of an error raised by a remote
// cell. On the wire it carries module+class+args so the receiving side can
// reconstruct a typed sentinel via cellerr.FromFailure; unknown classes
// deserialize to a generic remote error.
type Failure struct {
	Module string         `json:"module"`
	Class  string         `json:"class"`
	Args   map[string]any `json:"args,omitempty"`
	Detail string         `json:"detail"`
}

func (f *Failure) Error() string {
	if f.Detail != "" {
		return f.Detail
	}
	return fmt.Sprintf("%s.%s", f.Module, f.Class)
}

// Response is what a targeted or broadcast call collects back. Exactly one
// of Value/Failure is set.
type Response struct {
	CellName string   `json:"cell_name"`
	Value    any      `json:"value,omitempty"`
	Failure  *Failure `json:"failure,omitempty"`
}

// ValueOrRaise returns Value, or a typed error reconstructed from Failure if
// one is set.
func (r *Response) ValueOrRaise() (any, error) {
	if r.Failure != nil {
		return nil, FromFailure(r.Failure)
	}
	return r.Value, nil
}

func NewSuccessResponse(cellName string, value any) *Response {
	return &Response{CellName: cellName, Value: value}
}

func NewFailureResponse(cellName string, err error) *Response {
	return &Response{CellName: cellName, Failure: ToFailure(err)}
}
