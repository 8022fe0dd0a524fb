// Copyright 2014-present Webcast.io. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See the LICENSE file for details.

package jobukyu

// Merge deep-merges incoming into existing and returns a new map.
// Keys present on only one side are preserved. When both sides hold a
// map for the same key, merging continues recursively; for any other
// conflict the incoming value wins. Arrays are leaves and get replaced
// wholesale, never merged element-wise. Neither input is mutated.
func Merge(incoming, existing map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = copyValue(v)
	}
	for k, v := range incoming {
		if inMap, ok := v.(map[string]interface{}); ok {
			if exMap, ok := merged[k].(map[string]interface{}); ok {
				merged[k] = Merge(inMap, exMap)
				continue
			}
		}
		merged[k] = copyValue(v)
	}
	return merged
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, vv := range t {
			m[k] = copyValue(vv)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, vv := range t {
			s[i] = copyValue(vv)
		}
		return s
	}
	return v
}
