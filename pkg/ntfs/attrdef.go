package ntfs

import "github.com/marmos91/dittofs-ntfs/pkg/mft"

// AttributeDefinitionFlags are the $AttrDef flags of an attribute type.
type AttributeDefinitionFlags uint32

const (
	AttrDefIndexed        AttributeDefinitionFlags = 0x02
	AttrDefMultiple       AttributeDefinitionFlags = 0x04
	AttrDefNotZero        AttributeDefinitionFlags = 0x08
	AttrDefIndexedUnique  AttributeDefinitionFlags = 0x10
	AttrDefNamedUnique    AttributeDefinitionFlags = 0x20
	AttrDefMustBeResident AttributeDefinitionFlags = 0x40
	AttrDefLogNonResident AttributeDefinitionFlags = 0x80
)

// AttributeDefinition describes one attribute type.
type AttributeDefinition struct {
	Type          mft.AttributeType
	Name          string
	CollationRule CollationRule
	Flags         AttributeDefinitionFlags
	MinSize       uint64
	MaxSize       int64
}

// AttributeDefinitions answers per-type storage policy questions, the
// equivalent of the volume's $AttrDef file.
type AttributeDefinitions struct {
	defs map[mft.AttributeType]AttributeDefinition
}

// NewAttributeDefinitions builds a table from defs.
func NewAttributeDefinitions(defs ...AttributeDefinition) *AttributeDefinitions {
	t := &AttributeDefinitions{defs: make(map[mft.AttributeType]AttributeDefinition, len(defs))}
	for _, d := range defs {
		t.defs[d.Type] = d
	}
	return t
}

// DefaultAttributeDefinitions returns the definitions NTFS 3.1 formats
// volumes with.
func DefaultAttributeDefinitions() *AttributeDefinitions {
	return NewAttributeDefinitions(
		AttributeDefinition{Type: mft.AttributeStandardInformation, Name: "$STANDARD_INFORMATION", Flags: AttrDefMustBeResident, MinSize: 0x30, MaxSize: 0x48},
		AttributeDefinition{Type: mft.AttributeAttributeList, Name: "$ATTRIBUTE_LIST", Flags: AttrDefLogNonResident, MaxSize: -1},
		AttributeDefinition{Type: mft.AttributeFileName, Name: "$FILE_NAME", CollationRule: CollationFilename, Flags: AttrDefIndexed | AttrDefMustBeResident, MinSize: 0x44, MaxSize: 0x242},
		AttributeDefinition{Type: mft.AttributeObjectID, Name: "$OBJECT_ID", Flags: AttrDefMustBeResident, MaxSize: 0x100},
		AttributeDefinition{Type: mft.AttributeSecurityDescriptor, Name: "$SECURITY_DESCRIPTOR", Flags: AttrDefLogNonResident, MaxSize: -1},
		AttributeDefinition{Type: mft.AttributeVolumeName, Name: "$VOLUME_NAME", Flags: AttrDefMustBeResident, MinSize: 0x2, MaxSize: 0x100},
		AttributeDefinition{Type: mft.AttributeVolumeInformation, Name: "$VOLUME_INFORMATION", Flags: AttrDefMustBeResident, MinSize: 0xC, MaxSize: 0xC},
		AttributeDefinition{Type: mft.AttributeData, Name: "$DATA", MaxSize: -1},
		AttributeDefinition{Type: mft.AttributeIndexRoot, Name: "$INDEX_ROOT", Flags: AttrDefMustBeResident, MaxSize: -1},
		AttributeDefinition{Type: mft.AttributeIndexAllocation, Name: "$INDEX_ALLOCATION", Flags: AttrDefLogNonResident, MaxSize: -1},
		AttributeDefinition{Type: mft.AttributeBitmap, Name: "$BITMAP", Flags: AttrDefLogNonResident, MaxSize: -1},
		AttributeDefinition{Type: mft.AttributeReparsePoint, Name: "$REPARSE_POINT", Flags: AttrDefLogNonResident, MaxSize: 0x4000},
		AttributeDefinition{Type: mft.AttributeExtendedAttrInfo, Name: "$EA_INFORMATION", Flags: AttrDefMustBeResident, MinSize: 0x8, MaxSize: 0x8},
		AttributeDefinition{Type: mft.AttributeExtendedAttr, Name: "$EA", MaxSize: 0x10000},
		AttributeDefinition{Type: mft.AttributeLoggedUtilityStream, Name: "$LOGGED_UTILITY_STREAM", Flags: AttrDefLogNonResident, MaxSize: 0x10000},
	)
}

// Lookup returns the definition of t.
func (d *AttributeDefinitions) Lookup(t mft.AttributeType) (AttributeDefinition, bool) {
	def, ok := d.defs[t]
	return def, ok
}

// IsIndexed reports whether attributes of type t are flagged as indexed when
// created.
func (d *AttributeDefinitions) IsIndexed(t mft.AttributeType) bool {
	def, ok := d.defs[t]
	return ok && def.Flags&AttrDefIndexed != 0
}

// CanBeNonResident reports whether attributes of type t may be stored
// outside the file record. Unknown types may.
func (d *AttributeDefinitions) CanBeNonResident(t mft.AttributeType) bool {
	def, ok := d.defs[t]
	return !ok || def.Flags&AttrDefMustBeResident == 0
}
