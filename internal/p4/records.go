package p4

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Record is one tagged output record. After normalization every value is
// either a string or a []string.
type Record map[string]any

// TextKey holds plain text output and info messages.
const TextKey = "data"

var indexedKeyPattern = regexp.MustCompile(`^(.*[A-Za-z])(\d+)$`)

// String returns the string value of key, or "".
func (r Record) String(key string) string {
	if r == nil {
		return ""
	}
	value, _ := r[key].(string)
	return value
}

// Strings returns the list value of key. A scalar becomes a one-item list.
func (r Record) Strings(key string) []string {
	if r == nil {
		return nil
	}
	switch typed := r[key].(type) {
	case []string:
		out := make([]string, len(typed))
		copy(out, typed)
		return out
	case string:
		return []string{typed}
	default:
		return nil
	}
}

// IsText reports whether the record only carries text output.
func (r Record) IsText() bool {
	_, ok := r[TextKey]
	return ok && len(r) == 1
}

// StringFields keeps only string values.
func (r Record) StringFields() map[string]string {
	out := make(map[string]string, len(r))
	for key, value := range r {
		if s, ok := value.(string); ok {
			out[key] = s
		}
	}
	return out
}

// Flatten joins list values with newlines so every value is a string.
func (r Record) Flatten() map[string]string {
	out := make(map[string]string, len(r))
	for key, value := range r {
		switch typed := value.(type) {
		case string:
			out[key] = typed
		case []string:
			out[key] = strings.Join(typed, "\n")
		}
	}
	return out
}

// Decode converts the record into a typed struct with json tags. A value of
// the wrong shape for a field is an error.
func Decode(record Record, out any) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	if err := json.Unmarshal(encoded, out); err != nil {
		return fmt.Errorf("decoding record into %T: %w", out, err)
	}
	return nil
}

// TextOf returns the text output carried by records, in order.
func TextOf(records []Record) []string {
	out := make([]string, 0, len(records))
	for _, record := range records {
		if record.IsText() {
			out = append(out, record.String(TextKey))
		}
	}
	return out
}

// TaggedOf drops text-only records.
func TaggedOf(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, record := range records {
		if !record.IsText() {
			out = append(out, record)
		}
	}
	return out
}

// normalizeRecord converts decoded JSON values into strings and folds
// indexed keys (View0, View1, ...) into lists.
func normalizeRecord(raw map[string]any) (Record, error) {
	flat := make(map[string]string, len(raw))
	for key, value := range raw {
		switch typed := value.(type) {
		case string:
			flat[key] = typed
		case json.Number:
			flat[key] = typed.String()
		case bool:
			flat[key] = strconv.FormatBool(typed)
		case nil:
			flat[key] = ""
		default:
			return nil, fmt.Errorf("unexpected %T value for field %q", value, key)
		}
	}

	record := make(Record, len(flat))
	groups := map[string]map[int]string{}
	for key, value := range flat {
		match := indexedKeyPattern.FindStringSubmatch(key)
		if match == nil {
			record[key] = value
			continue
		}
		if _, ok := flat[match[1]+"0"]; !ok {
			record[key] = value
			continue
		}
		index, err := strconv.Atoi(match[2])
		if err != nil || (match[2] != "0" && strings.HasPrefix(match[2], "0")) {
			record[key] = value
			continue
		}
		if groups[match[1]] == nil {
			groups[match[1]] = map[int]string{}
		}
		groups[match[1]][index] = value
	}

	for base, items := range groups {
		if _, clash := record[base]; clash {
			for index, value := range items {
				record[base+strconv.Itoa(index)] = value
			}
			continue
		}
		indexes := make([]int, 0, len(items))
		for index := range items {
			indexes = append(indexes, index)
		}
		sort.Ints(indexes)
		list := make([]string, 0, len(indexes))
		for _, index := range indexes {
			list = append(list, items[index])
		}
		record[base] = list
	}
	return record, nil
}

// parseOutput turns "-Mj" output into records and a typed error for any
// warning or failure messages.
func parseOutput(command string, stdout, stderr []byte, exitCode int) ([]Record, error) {
	records := make([]Record, 0)
	var messages []string
	severity := SeverityEmpty
	var text []string

	flushText := func() {
		if len(text) == 0 {
			return
		}
		records = append(records, Record{TextKey: strings.Join(text, "\n")})
		text = nil
	}

	for _, line := range bytes.Split(stdout, []byte("\n")) {
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		raw, ok := decodeJSONLine(trimmed)
		if !ok {
			text = append(text, strings.TrimRight(string(line), "\r"))
			continue
		}
		flushText()

		code, _ := raw["code"].(string)
		switch code {
		case "error":
			level := SeverityFailed
			if n, ok := raw["severity"].(json.Number); ok {
				if parsed, err := n.Int64(); err == nil && parsed > 0 {
					level = Severity(parsed)
				}
			}
			data, _ := raw["data"].(string)
			if level >= SeverityWarning {
				messages = append(messages, strings.TrimSpace(data))
				if level > severity {
					severity = level
				}
				continue
			}
			records = append(records, Record{TextKey: strings.TrimSpace(data)})
		case "info", "text":
			data, _ := raw["data"].(string)
			records = append(records, Record{TextKey: strings.TrimRight(data, "\n")})
		default:
			delete(raw, "code")
			record, err := normalizeRecord(raw)
			if err != nil {
				return records, fmt.Errorf("p4 %s: %w", command, err)
			}
			records = append(records, record)
		}
	}
	flushText()

	for _, line := range strings.Split(string(stderr), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			messages = append(messages, trimmed)
			level := SeverityWarning
			if exitCode != 0 {
				level = SeverityFailed
			}
			if level > severity {
				severity = level
			}
		}
	}
	if exitCode != 0 && severity < SeverityFailed {
		severity = SeverityFailed
		if len(messages) == 0 {
			messages = append(messages, fmt.Sprintf("exit status %d", exitCode))
		}
	}

	if severity >= SeverityWarning {
		return records, &Error{Command: command, Severity: severity, Messages: messages}
	}
	return records, nil
}

func decodeJSONLine(line []byte) (map[string]any, bool) {
	if line[0] != '{' {
		return nil, false
	}
	decoder := json.NewDecoder(bytes.NewReader(line))
	decoder.UseNumber()
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		return nil, false
	}
	return raw, true
}
