// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bacnet

import (
	"sort"
	"sync"
)

// PropertyStore resolves property values for the ReadProperty handler.
// Errors of type *BACnetError are returned to the requester as-is.
type PropertyStore interface {
	Resolve(object ObjectIdentifier, property PropertyIdentifier) ([]Value, error)
}

// PropertyWriter is implemented by stores that accept WriteProperty.
type PropertyWriter interface {
	PropertyStore
	WriteProperty(req WritePropertyRequest) error
}

// MemoryStore is an in-memory object table. It is safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	objects  map[ObjectIdentifier]map[PropertyIdentifier][]Value
	readOnly map[PropertyIdentifier]bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[ObjectIdentifier]map[PropertyIdentifier][]Value),
		readOnly: map[PropertyIdentifier]bool{
			PropertyObjectIdentifier: true,
			PropertyObjectType:       true,
			PropertyObjectList:       true,
		},
	}
}

// AddObject creates an object with its identifier, type and name properties.
func (s *MemoryStore) AddObject(object ObjectIdentifier, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	props, ok := s.objects[object]
	if !ok {
		props = make(map[PropertyIdentifier][]Value)
		s.objects[object] = props
	}
	props[PropertyObjectIdentifier] = []Value{object}
	props[PropertyObjectType] = []Value{Enumerated(object.Type)}
	props[PropertyObjectName] = []Value{NewCharacterString(name)}
}

// Set stores the values of a property, creating the object if needed.
func (s *MemoryStore) Set(object ObjectIdentifier, property PropertyIdentifier, values ...Value) {
	s.mu.Lock()
	defer s.mu.Unlock()

	props, ok := s.objects[object]
	if !ok {
		props = map[PropertyIdentifier][]Value{
			PropertyObjectIdentifier: {object},
			PropertyObjectType:       {Enumerated(object.Type)},
		}
		s.objects[object] = props
	}
	props[property] = append([]Value(nil), values...)
}

// Objects returns the identifiers of all objects, ordered by type then instance.
func (s *MemoryStore) Objects() []ObjectIdentifier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.objectList()
}

func (s *MemoryStore) objectList() []ObjectIdentifier {
	list := make([]ObjectIdentifier, 0, len(s.objects))
	for oid := range s.objects {
		list = append(list, oid)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Type != list[j].Type {
			return list[i].Type < list[j].Type
		}
		return list[i].Instance < list[j].Instance
	})
	return list
}

// lookup finds an object's properties. Device instance MaxInstance is the
// wildcard that addresses the store's device object.
func (s *MemoryStore) lookup(object ObjectIdentifier) (ObjectIdentifier, map[PropertyIdentifier][]Value, bool) {
	if props, ok := s.objects[object]; ok {
		return object, props, true
	}
	if object.Type == ObjectTypeDevice && object.Instance == MaxInstance {
		for oid, props := range s.objects {
			if oid.Type == ObjectTypeDevice {
				return oid, props, true
			}
		}
	}
	return object, nil, false
}

// Resolve returns the values of a property. The object-list of a device
// object lists every object in the store unless it was set explicitly.
func (s *MemoryStore) Resolve(object ObjectIdentifier, property PropertyIdentifier) ([]Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	object, props, ok := s.lookup(object)
	if !ok {
		return nil, NewBACnetError(ErrorClassObject, ErrorCodeUnknownObject)
	}
	values, ok := props[property]
	if !ok {
		if property == PropertyObjectList && object.Type == ObjectTypeDevice {
			list := s.objectList()
			values = make([]Value, len(list))
			for i, oid := range list {
				values[i] = oid
			}
			return values, nil
		}
		return nil, NewBACnetError(ErrorClassProperty, ErrorCodeUnknownProperty)
	}
	return append([]Value(nil), values...), nil
}

// WriteProperty replaces a property value, or one element of an array
// property when an array index is given. The written value must keep the
// datatype of the stored one; Null is accepted to relinquish.
func (s *MemoryStore) WriteProperty(req WritePropertyRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, props, ok := s.lookup(req.Object)
	if !ok {
		return NewBACnetError(ErrorClassObject, ErrorCodeUnknownObject)
	}
	current, ok := props[req.Property]
	if !ok {
		return NewBACnetError(ErrorClassProperty, ErrorCodeUnknownProperty)
	}
	if s.readOnly[req.Property] {
		return NewBACnetError(ErrorClassProperty, ErrorCodeWriteAccessDenied)
	}
	if len(req.Values) == 0 {
		return NewBACnetError(ErrorClassProperty, ErrorCodeInvalidDataType)
	}

	if req.ArrayIndex != nil {
		idx := *req.ArrayIndex
		if idx == 0 || uint64(idx) > uint64(len(current)) {
			return NewBACnetError(ErrorClassProperty, ErrorCodeInvalidArrayIndex)
		}
		if len(req.Values) != 1 || !sameDatatype(current[idx-1], req.Values[0]) {
			return NewBACnetError(ErrorClassProperty, ErrorCodeInvalidDataType)
		}
		updated := append([]Value(nil), current...)
		updated[idx-1] = req.Values[0]
		props[req.Property] = updated
		return nil
	}

	if len(current) > 0 && !sameDatatype(current[0], req.Values[0]) {
		return NewBACnetError(ErrorClassProperty, ErrorCodeInvalidDataType)
	}
	props[req.Property] = append([]Value(nil), req.Values...)
	return nil
}

func sameDatatype(current, v Value) bool {
	_, null := v.(Null)
	return null || current.AppTag() == v.AppTag()
}
