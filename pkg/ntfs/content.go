package ntfs

// RawContent is an attribute payload with no structure, used for $DATA and
// other byte-stream attributes.
type RawContent []byte

// MarshalBinary returns a copy of the bytes.
func (r RawContent) MarshalBinary() ([]byte, error) {
	return append([]byte(nil), r...), nil
}

// UnmarshalBinary replaces r with a copy of data. Empty content decodes to
// an empty, non-nil slice.
func (r *RawContent) UnmarshalBinary(data []byte) error {
	*r = append(make(RawContent, 0, len(data)), data...)
	return nil
}
