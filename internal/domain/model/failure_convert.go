package model

import "github.com/webitel/cellmesh/internal/domain/cellerr"

// ToFailure serializes err into the module+class+args wire shape described
// in spec.md section 4.3 ("Serialization"). Unrecognized error types still
// round-trip: they carry no Class, so the far side reconstructs a
// *cellerr.RemoteError.
func ToFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	return &Failure{
		Module: cellerr.Module(),
		Class:  cellerr.ClassOf(err),
		Detail: err.Error(),
	}
}

// FromFailure reconstructs a typed error from a wire Failure.
func FromFailure(f *Failure) error {
	if f == nil {
		return nil
	}
	return cellerr.FromWire(f.Module, f.Class, f.Detail)
}
