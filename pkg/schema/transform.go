/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package schema

import (
	"fmt"

	"github.com/anvil-project/anvil/pkg/apis/v1alpha1"
)

// Transform applies a declarative migration between two adjacent schema
// versions. Forward rewrites a predecessor-shaped payload into the successor
// shape; Backward inverts it. The invariant Backward(Forward(x)) == x holds
// for every payload valid under the predecessor, provided the spec passed
// CheckInvertible.
type Transform struct {
	spec v1alpha1.TransformSpec
}

func NewTransform(spec v1alpha1.TransformSpec) (*Transform, error) {
	if err := CheckInvertible(spec); err != nil {
		return nil, err
	}
	return &Transform{spec: spec}, nil
}

// CheckInvertible verifies that every op in the spec has a well-defined
// inverse: renames must not collide and value maps must be bijections.
func CheckInvertible(spec v1alpha1.TransformSpec) error {
	for i, op := range spec.Ops {
		switch op.Kind {
		case "rename":
			if op.Field == "" || op.NewName == "" {
				return fmt.Errorf("op %d: rename requires field and new_name", i)
			}
		case "map_values":
			if op.Field == "" {
				return fmt.Errorf("op %d: map_values requires field", i)
			}
			seen := map[string]string{}
			for from, to := range op.ValueMap {
				if prev, ok := seen[to]; ok {
					return fmt.Errorf("op %d: value map is not a bijection, %q and %q both map to %q", i, prev, from, to)
				}
				seen[to] = from
			}
		default:
			return fmt.Errorf("op %d: unknown transform kind %q", i, op.Kind)
		}
	}
	return nil
}

// Forward rewrites a payload from the predecessor version's shape to this
// version's shape.
func (t *Transform) Forward(payload v1alpha1.Payload) (v1alpha1.Payload, error) {
	out := payload.Clone()
	for _, op := range t.spec.Ops {
		if err := applyOp(out, op, false); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Backward rewrites a payload from this version's shape to the predecessor
// version's shape. Ops are inverted and applied in reverse order.
func (t *Transform) Backward(payload v1alpha1.Payload) (v1alpha1.Payload, error) {
	out := payload.Clone()
	for i := len(t.spec.Ops) - 1; i >= 0; i-- {
		if err := applyOp(out, t.spec.Ops[i], true); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func applyOp(payload v1alpha1.Payload, op v1alpha1.TransformOp, invert bool) error {
	switch op.Kind {
	case "rename":
		from, to := op.Field, op.NewName
		if invert {
			from, to = to, from
		}
		if v, ok := payload[from]; ok {
			delete(payload, from)
			payload[to] = v
		}
	case "map_values":
		field := op.Field
		v, ok := payload[field]
		if !ok {
			return nil
		}
		if v.Kind != v1alpha1.ValueKindString {
			return fmt.Errorf("map_values on %q requires a string value, got %s", field, v.Kind)
		}
		mapping := op.ValueMap
		if invert {
			mapping = invertMap(op.ValueMap)
		}
		if mapped, ok := mapping[v.Str]; ok {
			payload[field] = v1alpha1.StringValue(mapped)
		}
	}
	return nil
}

func invertMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}
