package packarchive

import "github.com/dataloom/packarchive/errors"

// EntryDescriptor locates one payload within an archive's data region, in
// region-relative byte coordinates.
type EntryDescriptor struct {
	Start  uint64
	Length uint64
}

// End returns the exclusive end offset of the entry, Start+Length.
func (d EntryDescriptor) End() uint64 { return d.Start + d.Length }

func newEntryDescriptor(start, length uint64) (EntryDescriptor, error) {
	if length == 0 {
		return EntryDescriptor{}, errors.E(errors.Invalid, "entry value must be non-empty")
	}
	return EntryDescriptor{Start: start, Length: length}, nil
}
