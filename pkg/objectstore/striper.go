package objectstore

// ExtentToFile maps an object-local byte range back to image-relative
// extents. With one stripe unit per object (Layout.ObjectSize bytes,
// stripe count 1), the mapping is a single contiguous extent at
// objectNo*ObjectSize + off.
func ExtentToFile(layout Layout, objectNo uint64, off, length uint64) []Extent {
	if length == 0 {
		return nil
	}
	return []Extent{{
		Offset: objectNo*layout.ObjectSize + off,
		Length: length,
	}}
}
