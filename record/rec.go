package record

import (
	"errors"
	"fmt"
	"strings"

	"github.com/qminer/qminer-sub006/codec"
	"github.com/qminer/qminer-sub006/pgblob"
)

// AddRec stores v as a new record and returns its id.
//
// When v refers to an existing record, through "$id", "$name" or the value
// of the primary field, no record is added: the existing id is returned and
// any other fields in v are applied with UpdateRec. A reference that cannot
// be parsed, or a missing primary field, is logged and reported as NoRecID
// with a nil error. When the indexer rejects a new record it is removed
// again and AddRec returns NoRecID with the indexer's error.
func (s *Store) AddRec(v Value) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return NoRecID, err
	}
	id, found, err := s.resolve(v)
	if err != nil {
		s.logger.Error("cannot resolve reference to existing record", "error", err)
		return NoRecID, nil
	}
	if found {
		if len(v) > 1 {
			if err := s.updateRec(id, v); err != nil {
				return NoRecID, err
			}
		}
		return id, nil
	}
	return s.addRec(v)
}

// AddRecJSON decodes a JSON object and calls AddRec.
func (s *Store) AddRecJSON(data []byte) (uint64, error) {
	obj, err := codec.DecodeObject(data)
	if err != nil {
		return NoRecID, fmt.Errorf("add record: %w", err)
	}
	return s.AddRec(Value(obj))
}

func (s *Store) resolve(v Value) (uint64, bool, error) {
	if raw, ok := v[keyID]; ok {
		id, ok := toUint64(raw)
		if !ok {
			return 0, false, fmt.Errorf("malformed %s %v", keyID, raw)
		}
		if s.ids.Contains(id) {
			return id, true, nil
		}
	}
	pf, hasPrimary := s.schema.Primary()
	if raw, ok := v[keyName]; ok {
		name, ok := raw.(string)
		if !ok {
			return 0, false, fmt.Errorf("malformed %s %v", keyName, raw)
		}
		if hasPrimary && pf.Kind == FieldStr {
			if id, ok := s.pk.get(name); ok {
				return id, true, nil
			}
		}
	}
	if !hasPrimary {
		return 0, false, nil
	}
	raw, ok := v[pf.Name]
	if !ok || raw == nil {
		return 0, false, fmt.Errorf("%w: primary field %s", ErrMissingField, pf.Name)
	}
	key, err := normalize(pf.Kind, raw)
	if err != nil {
		return 0, false, fmt.Errorf("primary field %s: %w", pf.Name, err)
	}
	id, ok := s.pk.get(key)
	return id, ok, nil
}

func (s *Store) addRec(v Value) (uint64, error) {
	if err := s.checkValue(v); err != nil {
		return NoRecID, err
	}
	var memBuf []byte
	if ser := s.ser[Memory]; ser != nil {
		buf, err := ser.Serialize(v, nil)
		if err != nil {
			return NoRecID, err
		}
		memBuf = buf
	}
	ptr := pgblob.Null
	var diskBuf []byte
	if ser := s.ser[Disk]; ser != nil {
		buf, err := ser.Serialize(v, s.toast)
		if err != nil {
			return NoRecID, err
		}
		if ptr, err = s.blobs.Put(buf); err != nil {
			_ = s.dropToast(Disk, buf, nil)
			return NoRecID, err
		}
		diskBuf = buf
	}

	id := s.nextID
	s.nextID++
	s.ids.Add(id)
	if !ptr.IsNull() {
		s.ptrs[id] = ptr
	}
	if memBuf != nil {
		s.mem[id] = memBuf
		s.memBytes += int64(len(memBuf))
	}
	var key any
	pf, hasKey := s.schema.Primary()
	if hasKey {
		key, _ = normalize(pf.Kind, v[pf.Name])
		s.pk.set(key, id)
	}
	if s.indexing() {
		rec, err := s.getRec(id)
		if err == nil {
			err = s.opts.indexer.Index(id, rec)
		}
		if err != nil {
			err = fmt.Errorf("index record %d: %w", id, err)
			if hasKey {
				s.pk.del(key)
			}
			s.ids.Remove(id)
			delete(s.ptrs, id)
			if memBuf != nil {
				s.memBytes -= int64(len(memBuf))
				delete(s.mem, id)
			}
			if !ptr.IsNull() {
				if derr := s.blobs.Del(ptr); derr != nil {
					err = errors.Join(err, derr)
				}
				_ = s.dropToast(Disk, diskBuf, nil)
			}
			return NoRecID, err
		}
	}
	s.opts.trigger.OnAdd(id)
	return id, nil
}

// UpdateRec applies the fields of v to record id. Per location, fields in
// the fixed part are patched in place; a changed variable-length or key
// field re-serializes the record, which may move its blob.
func (s *Store) UpdateRec(id uint64, v Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return err
	}
	return s.updateRec(id, v)
}

func (s *Store) updateRec(id uint64, v Value) error {
	if !s.ids.Contains(id) {
		return fmt.Errorf("%w: %d", ErrUnknownRecord, id)
	}
	if err := s.checkValue(v); err != nil {
		return err
	}
	var present, variable [2]bool
	var primaryP, keyP bool
	var changed []string
	for name := range v {
		if strings.HasPrefix(name, "$") {
			continue
		}
		f, _ := s.schema.Field(name)
		changed = append(changed, name)
		present[f.Location] = true
		if !s.ser[f.Location].IsInFixedPart(f.ID) {
			variable[f.Location] = true
		}
		primaryP = primaryP || f.Primary
		keyP = keyP || s.schema.IsKey(name)
	}
	if len(changed) == 0 {
		return nil
	}

	var oldKey, newKey any
	if primaryP {
		pf, _ := s.schema.Primary()
		newKey, _ = normalize(pf.Kind, v[pf.Name])
		if other, ok := s.pk.get(newKey); ok && other != id {
			return fmt.Errorf("%w: %v", ErrDuplicateKey, v[pf.Name])
		}
		var err error
		if oldKey, err = s.fieldValue(id, pf); err != nil {
			return err
		}
	}
	keyP = keyP && s.indexing()
	var oldRec Value
	if keyP {
		var err error
		if oldRec, err = s.getRec(id); err != nil {
			return err
		}
	}

	if primaryP {
		s.pk.del(oldKey)
	}
	err := s.applyUpdate(id, v, present, variable, keyP)
	if primaryP {
		if err != nil {
			s.pk.set(oldKey, id)
		} else {
			s.pk.set(newKey, id)
		}
	}
	if err != nil {
		return err
	}

	if keyP {
		newRec, err := s.getRec(id)
		if err == nil {
			err = s.opts.indexer.Update(id, oldRec, newRec, changed)
		}
		if err != nil {
			return fmt.Errorf("index record %d: %w", id, err)
		}
	}
	s.opts.trigger.OnUpdate(id)
	return nil
}

func (s *Store) applyUpdate(id uint64, v Value, present, variable [2]bool, reserialize bool) error {
	if present[Disk] {
		ser := s.ser[Disk]
		ptr := s.ptrs[id]
		if variable[Disk] || reserialize {
			old, err := s.blobs.Get(ptr)
			if err != nil {
				return err
			}
			buf, _, err := ser.SerializeUpdate(v, old, s.toast)
			if err != nil {
				return err
			}
			kept, err := ser.ToastPointers(old)
			if err != nil {
				return err
			}
			newPtr, err := s.blobs.PutAt(buf, ptr)
			if err != nil {
				_ = s.dropToast(Disk, buf, kept)
				return err
			}
			s.ptrs[id] = newPtr
			current, err := ser.ToastPointers(buf)
			if err != nil {
				return err
			}
			if err := s.dropToast(Disk, old, current); err != nil {
				return err
			}
		} else {
			err := s.blobs.Update(ptr, func(b []byte) error {
				_, err := ser.SerializeUpdateInPlace(v, b)
				return err
			})
			if err != nil {
				return err
			}
		}
	}
	if present[Memory] {
		ser := s.ser[Memory]
		old := s.mem[id]
		if variable[Memory] || reserialize {
			buf, _, err := ser.SerializeUpdate(v, old, nil)
			if err != nil {
				return err
			}
			s.mem[id] = buf
			s.memBytes += int64(len(buf) - len(old))
		} else if _, err := ser.SerializeUpdateInPlace(v, old); err != nil {
			return err
		}
	}
	return nil
}

// IsRecID reports whether record id exists.
func (s *Store) IsRecID(id uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ids.Contains(id)
}

// IsRecNm reports whether a record has the given string primary key.
func (s *Store) IsRecNm(name string) bool {
	_, ok := s.GetRecID(name)
	return ok
}

// GetRecID returns the record whose string primary key is name.
func (s *Store) GetRecID(name string) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pf, ok := s.schema.Primary()
	if !ok || pf.Kind != FieldStr {
		return NoRecID, false
	}
	id, ok := s.pk.get(name)
	if !ok {
		return NoRecID, false
	}
	return id, true
}

// GetRecNm returns the string primary key of record id, or "" when the
// store has none.
func (s *Store) GetRecNm(id uint64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(false); err != nil {
		return "", err
	}
	pf, ok := s.schema.Primary()
	if !ok || pf.Kind != FieldStr {
		return "", nil
	}
	v, err := s.fieldValue(id, pf)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// GetRecIDByKey returns the record whose primary field equals key. Keys are
// converted like field values, so a datetime key may be a time.Time, a
// string or milliseconds.
func (s *Store) GetRecIDByKey(key any) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pf, ok := s.schema.Primary()
	if !ok {
		return NoRecID, false, ErrNoPrimaryKey
	}
	k, err := normalize(pf.Kind, key)
	if err != nil {
		return NoRecID, false, err
	}
	id, ok := s.pk.get(k)
	if !ok {
		return NoRecID, false, nil
	}
	return id, true, nil
}
