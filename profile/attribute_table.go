package profile

import (
	"github.com/user/bluerange/gatt"
	"github.com/user/bluerange/logger"
)

// FieldSpec describes one named characteristic a profile expects inside a
// service instance.
type FieldSpec struct {
	Name string
	UUID []byte

	// Mandatory fields must resolve to a valid value handle or the whole
	// record is rejected
	Mandatory bool

	// Configurable fields carry notifications/indications; their CCC
	// descriptor handle is resolved from the descriptor list
	Configurable bool

	// RequireCCC marks the CCC handle itself as mandatory (a configurable
	// field whose subscription the profile cannot live without)
	RequireCCC bool
}

// FieldHandles is the resolved handle set for one field
type FieldHandles struct {
	ValueHandle uint16
	CCCHandle   uint16
	Properties  uint8

	// Writable is set when the characteristic accepts
	// write-without-response commands
	Writable bool
}

// AttributeTable maps the semantic fields of one discovered service instance
// to attribute handles. Built wholesale per discovery pass, never patched.
type AttributeTable struct {
	ServiceHandle uint16
	fields        map[string]FieldHandles
}

// BuildAttributeTable resolves the given field specs against a discovered
// service instance. Unrecognized characteristics are logged and ignored.
// Returns nil and false when any mandatory field is missing; the caller
// treats that as a soft failure and skips the service instance.
func BuildAttributeTable(prefix string, svc *gatt.Service, specs []FieldSpec) (*AttributeTable, bool) {
	table := &AttributeTable{
		ServiceHandle: svc.Handle,
		fields:        make(map[string]FieldHandles, len(specs)),
	}

	for i := range svc.Characteristics {
		chrc := &svc.Characteristics[i]
		spec := findSpec(specs, chrc.UUID)
		if spec == nil {
			logger.Warn(prefix, "unknown characteristic=%s in service handle=0x%04x",
				gatt.Key(chrc.UUID), svc.Handle)
			continue
		}

		handles := FieldHandles{
			ValueHandle: chrc.ValueHandle,
			Properties:  chrc.Properties,
			Writable:    chrc.WritableNoResponse(),
		}
		if spec.Configurable {
			handles.CCCHandle = chrc.CCCHandle()
			logger.Debug(prefix, "field %s handle=0x%04x ccc=0x%04x",
				spec.Name, handles.ValueHandle, handles.CCCHandle)
		}
		table.fields[spec.Name] = handles
	}

	// Validate mandatory fields
	for _, spec := range specs {
		handles, found := table.fields[spec.Name]
		if spec.Mandatory && (!found || !gatt.HandleValid(handles.ValueHandle)) {
			logger.Warn(prefix, "mandatory field %s missing, ignoring service handle=0x%04x",
				spec.Name, svc.Handle)
			return nil, false
		}
		if spec.RequireCCC && found && !gatt.HandleValid(handles.CCCHandle) {
			logger.Warn(prefix, "mandatory CCC for field %s missing, ignoring service handle=0x%04x",
				spec.Name, svc.Handle)
			return nil, false
		}
	}

	return table, true
}

func findSpec(specs []FieldSpec, uuid []byte) *FieldSpec {
	for i := range specs {
		if gatt.Equal(specs[i].UUID, uuid) {
			return &specs[i]
		}
	}
	return nil
}

// Field returns the resolved handles for a named field
func (t *AttributeTable) Field(name string) (FieldHandles, bool) {
	handles, ok := t.fields[name]
	return handles, ok
}

// ValueHandle returns the value handle for a named field, or InvalidHandle
// when the field was not resolved (optional field absent)
func (t *AttributeTable) ValueHandle(name string) uint16 {
	handles, ok := t.fields[name]
	if !ok {
		return gatt.InvalidHandle
	}
	return handles.ValueHandle
}

// FieldByHandle resolves a value handle back to its semantic field name,
// used to route notifications
func (t *AttributeTable) FieldByHandle(handle uint16) (string, FieldHandles, bool) {
	for name, handles := range t.fields {
		if handles.ValueHandle == handle {
			return name, handles, true
		}
	}
	return "", FieldHandles{}, false
}

// Len returns the number of resolved fields
func (t *AttributeTable) Len() int {
	return len(t.fields)
}
