/*
Copyright 2025 Jordi Gil.

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

package notifier

// Match reports whether every key in filters matches the corresponding
// field in event. When either the filter value or the event field is a
// slice, they match by set membership (in either direction); two scalar
// values match by equality. A filter key absent from event never matches.
func Match(filters map[string]interface{}, event map[string]interface{}) bool {
	for key, want := range filters {
		got, ok := event[key]
		if !ok {
			return false
		}
		if !matchOne(want, got) {
			return false
		}
	}
	return true
}

func matchOne(want, got interface{}) bool {
	wantSet, wantIsSlice := toSlice(want)
	if !wantIsSlice {
		gotSet, gotIsSlice := toSlice(got)
		if gotIsSlice {
			return containsValue(gotSet, want)
		}
		return want == got
	}

	gotSet, gotIsSlice := toSlice(got)
	if gotIsSlice {
		for _, g := range gotSet {
			if containsValue(wantSet, g) {
				return true
			}
		}
		return false
	}
	return containsValue(wantSet, got)
}

func containsValue(set []interface{}, v interface{}) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func toSlice(v interface{}) ([]interface{}, bool) {
	switch s := v.(type) {
	case []interface{}:
		return s, true
	case []string:
		out := make([]interface{}, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	default:
		return nil, false
	}
}
