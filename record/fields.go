package record

import (
	"fmt"
	"time"
)

func (s *Store) lookupField(name string, kind FieldKind) (*FieldDesc, error) {
	f, ok := s.schema.Field(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	if kind != 0 && f.Kind != kind {
		return nil, fmt.Errorf("%w: %s is %s, not %s", ErrFieldKind, name, f.Kind, kind)
	}
	return f, nil
}

func (s *Store) storedField(id uint64, name string, kind FieldKind) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(false); err != nil {
		return nil, err
	}
	f, err := s.lookupField(name, kind)
	if err != nil {
		return nil, err
	}
	return s.fieldValue(id, f)
}

func getTyped[T any](s *Store, id uint64, name string, kind FieldKind) (T, error) {
	var zero T
	v, err := s.storedField(id, name, kind)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, fmt.Errorf("%w: %s of record %d", ErrNullValue, name, id)
	}
	return public(kind, v).(T), nil
}

func (s *Store) setTyped(id uint64, name string, kind FieldKind, v any) error {
	if _, err := s.lookupField(name, kind); err != nil {
		return err
	}
	return s.UpdateRec(id, Value{name: v})
}

// GetField returns the value of a field, or nil when it is null.
func (s *Store) GetField(id uint64, name string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(false); err != nil {
		return nil, err
	}
	f, err := s.lookupField(name, 0)
	if err != nil {
		return nil, err
	}
	v, err := s.fieldValue(id, f)
	if err != nil || v == nil {
		return nil, err
	}
	return public(f.Kind, v), nil
}

// IsFieldNull reports whether a field of record id is null.
func (s *Store) IsFieldNull(id uint64, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(false); err != nil {
		return false, err
	}
	f, err := s.lookupField(name, 0)
	if err != nil {
		return false, err
	}
	if !s.ids.Contains(id) {
		return false, fmt.Errorf("%w: %d", ErrUnknownRecord, id)
	}
	ser := s.ser[f.Location]
	if f.Location == Memory {
		return ser.IsNull(s.mem[id], f.ID)
	}
	var null bool
	err = s.blobs.View(s.ptrs[id], func(b []byte) error {
		var err error
		null, err = ser.IsNull(b, f.ID)
		return err
	})
	return null, err
}

// SetField sets a field to v, converted like an AddRec value.
func (s *Store) SetField(id uint64, name string, v any) error {
	return s.setTyped(id, name, 0, v)
}

// SetFieldNull sets a nullable field to null.
func (s *Store) SetFieldNull(id uint64, name string) error {
	return s.setTyped(id, name, 0, nil)
}

// GetFieldInt returns an int field. It fails with ErrFieldKind for a field
// of another kind and with ErrNullValue when the field is null. The other
// GetField* methods behave the same way for their kinds.
func (s *Store) GetFieldInt(id uint64, name string) (int64, error) {
	return getTyped[int64](s, id, name, FieldInt)
}

// GetFieldUInt64 returns a uint64 field.
func (s *Store) GetFieldUInt64(id uint64, name string) (uint64, error) {
	return getTyped[uint64](s, id, name, FieldUInt64)
}

// GetFieldFlt returns a float field.
func (s *Store) GetFieldFlt(id uint64, name string) (float64, error) {
	return getTyped[float64](s, id, name, FieldFlt)
}

// GetFieldFltPr returns a float pair field.
func (s *Store) GetFieldFltPr(id uint64, name string) ([2]float64, error) {
	return getTyped[[2]float64](s, id, name, FieldFltPr)
}

// GetFieldBool returns a bool field.
func (s *Store) GetFieldBool(id uint64, name string) (bool, error) {
	return getTyped[bool](s, id, name, FieldBool)
}

// GetFieldTm returns a datetime field as a UTC time.Time.
func (s *Store) GetFieldTm(id uint64, name string) (time.Time, error) {
	return getTyped[time.Time](s, id, name, FieldTm)
}

// GetFieldTmMSecs returns a datetime field as milliseconds since the epoch,
// the stored representation, where GetFieldTm converts it to time.Time.
func (s *Store) GetFieldTmMSecs(id uint64, name string) (int64, error) {
	v, err := s.storedField(id, name, FieldTm)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, fmt.Errorf("%w: %s of record %d", ErrNullValue, name, id)
	}
	return v.(int64), nil
}

// GetFieldStr returns a string field. Codebook strings are resolved.
func (s *Store) GetFieldStr(id uint64, name string) (string, error) {
	return getTyped[string](s, id, name, FieldStr)
}

// GetFieldIntV returns an int vector field.
func (s *Store) GetFieldIntV(id uint64, name string) ([]int64, error) {
	return getTyped[[]int64](s, id, name, FieldIntV)
}

// GetFieldFltV returns a float vector field.
func (s *Store) GetFieldFltV(id uint64, name string) ([]float64, error) {
	return getTyped[[]float64](s, id, name, FieldFltV)
}

// GetFieldStrV returns a string vector field.
func (s *Store) GetFieldStrV(id uint64, name string) ([]string, error) {
	return getTyped[[]string](s, id, name, FieldStrV)
}

// GetFieldNumSpV returns a numeric sparse vector field.
func (s *Store) GetFieldNumSpV(id uint64, name string) ([]SparseEntry, error) {
	return getTyped[[]SparseEntry](s, id, name, FieldNumSpV)
}

// GetFieldBowSpV returns a bag-of-words sparse vector field.
func (s *Store) GetFieldBowSpV(id uint64, name string) ([]BowEntry, error) {
	return getTyped[[]BowEntry](s, id, name, FieldBowSpV)
}

// SetFieldInt sets an int field through UpdateRec, so indexers and triggers
// see the change. It fails with ErrFieldKind for a field of another kind. The
// other SetField* methods behave the same way for their kinds.
func (s *Store) SetFieldInt(id uint64, name string, v int64) error {
	return s.setTyped(id, name, FieldInt, v)
}

// SetFieldUInt64 sets a uint64 field.
func (s *Store) SetFieldUInt64(id uint64, name string, v uint64) error {
	return s.setTyped(id, name, FieldUInt64, v)
}

// SetFieldFlt sets a float field.
func (s *Store) SetFieldFlt(id uint64, name string, v float64) error {
	return s.setTyped(id, name, FieldFlt, v)
}

// SetFieldFltPr sets a float pair field.
func (s *Store) SetFieldFltPr(id uint64, name string, v [2]float64) error {
	return s.setTyped(id, name, FieldFltPr, v)
}

// SetFieldBool sets a bool field.
func (s *Store) SetFieldBool(id uint64, name string, v bool) error {
	return s.setTyped(id, name, FieldBool, v)
}

// SetFieldTm sets a datetime field. It is stored with millisecond precision.
func (s *Store) SetFieldTm(id uint64, name string, v time.Time) error {
	return s.setTyped(id, name, FieldTm, v)
}

// SetFieldTmMSecs sets a datetime field from milliseconds since the epoch.
func (s *Store) SetFieldTmMSecs(id uint64, name string, ms int64) error {
	return s.setTyped(id, name, FieldTm, ms)
}

// SetFieldStr sets a string field.
func (s *Store) SetFieldStr(id uint64, name string, v string) error {
	return s.setTyped(id, name, FieldStr, v)
}

// SetFieldIntV sets an int vector field.
func (s *Store) SetFieldIntV(id uint64, name string, v []int64) error {
	return s.setTyped(id, name, FieldIntV, v)
}

// SetFieldFltV sets a float vector field.
func (s *Store) SetFieldFltV(id uint64, name string, v []float64) error {
	return s.setTyped(id, name, FieldFltV, v)
}

// SetFieldStrV sets a string vector field.
func (s *Store) SetFieldStrV(id uint64, name string, v []string) error {
	return s.setTyped(id, name, FieldStrV, v)
}

// SetFieldNumSpV sets a numeric sparse vector field.
func (s *Store) SetFieldNumSpV(id uint64, name string, v []SparseEntry) error {
	return s.setTyped(id, name, FieldNumSpV, v)
}

// SetFieldBowSpV sets a bag-of-words sparse vector field.
func (s *Store) SetFieldBowSpV(id uint64, name string, v []BowEntry) error {
	return s.setTyped(id, name, FieldBowSpV, v)
}
