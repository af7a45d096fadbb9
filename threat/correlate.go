package threat

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Hard caps bounding sweep output size. Not configurable.
const (
	MaxEventsPerIOC       = 20
	MaxEvidencePerFinding = 30
	MaxIOCsPerSweep       = 100
)

// maxEvidenceValueLen bounds a single captured value
const maxEvidenceValueLen = 200

// Evidence is one matched field inside a record
type Evidence struct {
	FieldPath string `json:"field_path"`
	Value     string `json:"value"`
}

// RecordFields converts any JSON-encodable record into the generic map
// shape the correlator walks.
func RecordFields(record interface{}) map[string]interface{} {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	return fields
}

// SearchRecord walks a record's fields recursively doing case-insensitive
// substring containment against target. Nested maps and arrays are
// descended with dotted/indexed field paths. At most maxEvidence entries
// are returned; zero or negative means MaxEvidencePerFinding.
func SearchRecord(fields map[string]interface{}, target string, maxEvidence int) []Evidence {
	if maxEvidence <= 0 {
		maxEvidence = MaxEvidencePerFinding
	}
	target = strings.ToLower(strings.TrimSpace(target))
	if target == "" || len(fields) == 0 {
		return nil
	}
	var evidence []Evidence
	searchValue("", fields, target, &evidence, maxEvidence)
	return evidence
}

func searchValue(path string, value interface{}, target string, evidence *[]Evidence, maxEvidence int) {
	if len(*evidence) >= maxEvidence {
		return
	}
	switch v := value.(type) {
	case map[string]interface{}:
		// sorted descent keeps evidence deterministic when the cap truncates
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			searchValue(joinPath(path, key), v[key], target, evidence, maxEvidence)
			if len(*evidence) >= maxEvidence {
				return
			}
		}
	case []interface{}:
		for i, child := range v {
			searchValue(path+"["+strconv.Itoa(i)+"]", child, target, evidence, maxEvidence)
			if len(*evidence) >= maxEvidence {
				return
			}
		}
	case string:
		if strings.Contains(strings.ToLower(v), target) {
			*evidence = append(*evidence, Evidence{FieldPath: path, Value: truncate(v)})
		}
	case float64:
		text := strconv.FormatFloat(v, 'f', -1, 64)
		if strings.Contains(text, target) {
			*evidence = append(*evidence, Evidence{FieldPath: path, Value: text})
		}
	case bool:
		if strings.Contains(strconv.FormatBool(v), target) {
			*evidence = append(*evidence, Evidence{FieldPath: path, Value: strconv.FormatBool(v)})
		}
	case nil:
		// nulls never match
	default:
		text := fmt.Sprintf("%v", v)
		if strings.Contains(strings.ToLower(text), target) {
			*evidence = append(*evidence, Evidence{FieldPath: path, Value: truncate(text)})
		}
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func truncate(value string) string {
	if len(value) <= maxEvidenceValueLen {
		return value
	}
	return value[:maxEvidenceValueLen] + "..."
}
