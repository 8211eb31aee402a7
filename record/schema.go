package record

import (
	"bytes"
	"fmt"
	"time"

	"github.com/qminer/qminer-sub006/codec"
)

// FieldKind is the value type of a field.
type FieldKind uint8

const (
	FieldInt FieldKind = iota + 1
	FieldUInt64
	FieldFlt
	FieldFltPr
	FieldBool
	FieldTm
	FieldStr
	FieldIntV
	FieldFltV
	FieldStrV
	FieldNumSpV
	FieldBowSpV
)

var kindNames = [...]string{
	FieldInt:    "int",
	FieldUInt64: "uint64",
	FieldFlt:    "float",
	FieldFltPr:  "float_pair",
	FieldBool:   "bool",
	FieldTm:     "datetime",
	FieldStr:    "string",
	FieldIntV:   "int_v",
	FieldFltV:   "float_v",
	FieldStrV:   "string_v",
	FieldNumSpV: "num_sp_v",
	FieldBowSpV: "bow_sp_v",
}

func (k FieldKind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseFieldKind parses a schema type name.
func ParseFieldKind(s string) (FieldKind, error) {
	for k, name := range kindNames {
		if name != "" && name == s {
			return FieldKind(k), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown field type %q", ErrSchema, s)
}

// IsVar reports whether values of k have no fixed encoded size.
func (k FieldKind) IsVar() bool {
	switch k {
	case FieldStr, FieldIntV, FieldFltV, FieldStrV, FieldNumSpV, FieldBowSpV:
		return true
	}
	return false
}

// FieldLocation says where a field's bytes live.
type FieldLocation uint8

const (
	// Disk fields are serialized into a blob in the paged store.
	Disk FieldLocation = iota
	// Memory fields are serialized into a buffer kept in memory.
	Memory
)

func (l FieldLocation) String() string {
	if l == Memory {
		return "memory"
	}
	return "cache"
}

func parseLocation(s string) (FieldLocation, error) {
	switch s {
	case "", "cache", "disk":
		return Disk, nil
	case "memory":
		return Memory, nil
	}
	return Disk, fmt.Errorf("%w: unknown store location %q", ErrSchema, s)
}

// FieldDesc describes one field. ID is assigned by Validate.
type FieldDesc struct {
	ID       int
	Name     string
	Kind     FieldKind
	Nullable bool
	Primary  bool
	// Codebook stores string values as ids into a per-field dictionary so
	// they fit the fixed part of a record.
	Codebook bool
	Location FieldLocation
}

// InFixedPart reports whether the field has a fixed-size slot.
func (f *FieldDesc) InFixedPart() bool {
	return !f.Kind.IsVar() || (f.Kind == FieldStr && f.Codebook)
}

// KeyDesc names a field the indexer maintains a key for.
type KeyDesc struct {
	Field string
	Type  string
}

// WindowType selects how GarbageCollect trims a store.
type WindowType uint8

const (
	WindowNone WindowType = iota
	// WindowLength keeps the newest Size records.
	WindowLength
	// WindowTime keeps records whose TimeField is within Size milliseconds
	// of the newest record.
	WindowTime
)

// WindowDesc describes the store window.
type WindowDesc struct {
	Type      WindowType
	Size      uint64
	TimeField string
}

// Schema describes a store and its fields.
type Schema struct {
	Name   string
	Fields []FieldDesc
	Keys   []KeyDesc
	Window WindowDesc

	byName  map[string]int
	keys    map[string]bool
	primary int
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// Validate checks the schema and assigns field ids.
func (s *Schema) Validate() error {
	if !validName(s.Name) {
		return fmt.Errorf("%w: invalid store name %q", ErrSchema, s.Name)
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("%w: store %s has no fields", ErrSchema, s.Name)
	}
	s.byName = make(map[string]int, len(s.Fields))
	s.primary = -1
	for i := range s.Fields {
		f := &s.Fields[i]
		f.ID = i
		if !validName(f.Name) {
			return fmt.Errorf("%w: invalid field name %q", ErrSchema, f.Name)
		}
		if _, dup := s.byName[f.Name]; dup {
			return fmt.Errorf("%w: duplicate field %q", ErrSchema, f.Name)
		}
		s.byName[f.Name] = i
		if f.Kind == 0 || int(f.Kind) >= len(kindNames) {
			return fmt.Errorf("%w: field %s has no type", ErrSchema, f.Name)
		}
		if f.Codebook && f.Kind != FieldStr {
			return fmt.Errorf("%w: codebook field %s must be a string", ErrSchema, f.Name)
		}
		if f.Location > Memory {
			return fmt.Errorf("%w: field %s has unknown location", ErrSchema, f.Name)
		}
		if !f.Primary {
			continue
		}
		if s.primary >= 0 {
			return fmt.Errorf("%w: store can have only one primary field", ErrSchema)
		}
		switch f.Kind {
		case FieldStr, FieldInt, FieldUInt64, FieldFlt, FieldTm:
		default:
			return fmt.Errorf("%w: primary field %s cannot be %s", ErrSchema, f.Name, f.Kind)
		}
		if f.Nullable {
			return fmt.Errorf("%w: primary field %s cannot be nullable", ErrSchema, f.Name)
		}
		s.primary = i
	}

	s.keys = make(map[string]bool, len(s.Keys))
	for _, k := range s.Keys {
		if _, ok := s.byName[k.Field]; !ok {
			return fmt.Errorf("%w: key on unknown field %q", ErrSchema, k.Field)
		}
		s.keys[k.Field] = true
	}

	switch s.Window.Type {
	case WindowNone:
	case WindowLength:
		if s.Window.Size == 0 {
			return fmt.Errorf("%w: empty length window", ErrSchema)
		}
	case WindowTime:
		f, ok := s.Field(s.Window.TimeField)
		if !ok || f.Kind != FieldTm {
			return fmt.Errorf("%w: time window needs a datetime field, got %q", ErrSchema, s.Window.TimeField)
		}
		if s.Window.Size == 0 {
			return fmt.Errorf("%w: empty time window", ErrSchema)
		}
	default:
		return fmt.Errorf("%w: unknown window type %d", ErrSchema, s.Window.Type)
	}
	return nil
}

// Field returns the field called name.
func (s *Schema) Field(name string) (*FieldDesc, bool) {
	i, ok := s.byName[name]
	if !ok {
		return nil, false
	}
	return &s.Fields[i], true
}

// Primary returns the primary field, if any.
func (s *Schema) Primary() (*FieldDesc, bool) {
	if s.primary < 0 {
		return nil, false
	}
	return &s.Fields[s.primary], true
}

// IsKey reports whether the indexer keeps a key on the named field.
func (s *Schema) IsKey(name string) bool { return s.keys[name] }

// HasLocation reports whether any field lives at loc.
func (s *Schema) HasLocation(loc FieldLocation) bool {
	for i := range s.Fields {
		if s.Fields[i].Location == loc {
			return true
		}
	}
	return false
}

type fieldJSON struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Null     bool   `json:"null,omitempty"`
	Primary  bool   `json:"primary,omitempty"`
	Store    string `json:"store,omitempty"`
	Codebook bool   `json:"codebook,omitempty"`
}

type keyJSON struct {
	Field string `json:"field"`
	Type  string `json:"type,omitempty"`
}

type timeWindowJSON struct {
	Duration uint64 `json:"duration"`
	Unit     string `json:"unit,omitempty"`
	Field    string `json:"field"`
}

type schemaJSON struct {
	Name       string          `json:"name"`
	Fields     []fieldJSON     `json:"fields"`
	Keys       []keyJSON       `json:"keys,omitempty"`
	Window     uint64          `json:"window,omitempty"`
	TimeWindow *timeWindowJSON `json:"timeWindow,omitempty"`
}

var timeUnits = map[string]time.Duration{
	"millisecond": time.Millisecond,
	"second":      time.Second,
	"minute":      time.Minute,
	"hour":        time.Hour,
	"day":         24 * time.Hour,
	"week":        7 * 24 * time.Hour,
}

func (j *schemaJSON) schema() (*Schema, error) {
	s := &Schema{Name: j.Name}
	for _, fj := range j.Fields {
		kind, err := ParseFieldKind(fj.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fj.Name, err)
		}
		loc, err := parseLocation(fj.Store)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fj.Name, err)
		}
		s.Fields = append(s.Fields, FieldDesc{
			Name:     fj.Name,
			Kind:     kind,
			Nullable: fj.Null,
			Primary:  fj.Primary,
			Codebook: fj.Codebook,
			Location: loc,
		})
	}
	for _, kj := range j.Keys {
		typ := kj.Type
		if typ == "" {
			typ = "value"
		}
		s.Keys = append(s.Keys, KeyDesc{Field: kj.Field, Type: typ})
	}
	switch {
	case j.Window > 0 && j.TimeWindow != nil:
		return nil, fmt.Errorf("%w: store %s has both a length and a time window", ErrSchema, j.Name)
	case j.Window > 0:
		s.Window = WindowDesc{Type: WindowLength, Size: j.Window}
	case j.TimeWindow != nil:
		unit := j.TimeWindow.Unit
		if unit == "" {
			unit = "second"
		}
		d, ok := timeUnits[unit]
		if !ok {
			return nil, fmt.Errorf("%w: unknown time unit %q", ErrSchema, unit)
		}
		s.Window = WindowDesc{
			Type:      WindowTime,
			Size:      j.TimeWindow.Duration * uint64(d/time.Millisecond),
			TimeField: j.TimeWindow.Field,
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// MarshalJSON encodes the schema in the form ParseSchemas accepts.
func (s *Schema) MarshalJSON() ([]byte, error) {
	j := schemaJSON{Name: s.Name}
	for _, f := range s.Fields {
		fj := fieldJSON{
			Name:     f.Name,
			Type:     f.Kind.String(),
			Null:     f.Nullable,
			Primary:  f.Primary,
			Codebook: f.Codebook,
		}
		if f.Location == Memory {
			fj.Store = Memory.String()
		}
		j.Fields = append(j.Fields, fj)
	}
	for _, k := range s.Keys {
		j.Keys = append(j.Keys, keyJSON(k))
	}
	switch s.Window.Type {
	case WindowLength:
		j.Window = s.Window.Size
	case WindowTime:
		j.TimeWindow = &timeWindowJSON{Duration: s.Window.Size, Unit: "millisecond", Field: s.Window.TimeField}
	}
	return codec.Default.Marshal(j)
}

// ParseSchema parses a single store definition.
func ParseSchema(data []byte) (*Schema, error) {
	var j schemaJSON
	if err := codec.Default.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return j.schema()
}

// ParseSchemas parses a store definition or an array of them.
func ParseSchemas(data []byte) ([]*Schema, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		s, err := ParseSchema(trimmed)
		if err != nil {
			return nil, err
		}
		return []*Schema{s}, nil
	}
	var js []schemaJSON
	if err := codec.Default.Unmarshal(trimmed, &js); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	out := make([]*Schema, 0, len(js))
	seen := make(map[string]bool, len(js))
	for i := range js {
		s, err := js[i].schema()
		if err != nil {
			return nil, err
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("%w: duplicate store %q", ErrSchema, s.Name)
		}
		seen[s.Name] = true
		out = append(out, s)
	}
	return out, nil
}
