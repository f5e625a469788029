package queue

// Metadata is the flat, string-keyed metadata mapping carried alongside a
// queued message. Values are restricted to strings, booleans, numbers and
// string lists so that an item survives a crash-and-reload cycle through
// JSON without losing type information.
type Metadata map[string]any

// Well-known metadata keys.
const (
	MetaListname  = "listname"
	MetaRecips    = "recips"
	MetaVerp      = "verp"
	MetaFastTrack = "_fasttrack"
	MetaApproved  = "_approved"
	MetaItemID    = "_itemid"
	MetaCooked    = "_cooked"
	MetaSender    = "sender"
	MetaReason    = "reason"
	MetaReceived  = "received"
)

// GetString returns the string value for key, or "" if absent or not a string.
func (md Metadata) GetString(key string) string {
	if v, ok := md[key].(string); ok {
		return v
	}
	return ""
}

// GetBool returns the boolean value for key, or false if absent or not a bool.
func (md Metadata) GetBool(key string) bool {
	if v, ok := md[key].(bool); ok {
		return v
	}
	return false
}

// GetInt returns the numeric value for key as an int. JSON reloads numbers
// as float64, so both representations are accepted.
func (md Metadata) GetInt(key string) (int, bool) {
	switch v := md[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// GetStringList returns the string-list value for key, or nil if absent.
func (md Metadata) GetStringList(key string) []string {
	switch v := md[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// SetDefault sets key to value only when the key is not already present.
// Stages that merely default a flag (such as verp) must not overwrite a
// value an earlier stage set deliberately.
func (md Metadata) SetDefault(key string, value any) {
	if _, ok := md[key]; !ok {
		md[key] = value
	}
}

// Copy returns a shallow copy with string lists duplicated, so a requeued
// item's metadata cannot alias the original's recipient list.
func (md Metadata) Copy() Metadata {
	out := make(Metadata, len(md))
	for k, v := range md {
		if list, ok := v.([]string); ok {
			dup := make([]string, len(list))
			copy(dup, list)
			out[k] = dup
			continue
		}
		out[k] = v
	}
	return out
}

// normalize rewrites values that lost their concrete type during a JSON
// reload: a []any holding only strings becomes []string again.
func (md Metadata) normalize() {
	for k, v := range md {
		raw, ok := v.([]any)
		if !ok {
			continue
		}
		list := make([]string, 0, len(raw))
		strings := true
		for _, e := range raw {
			s, ok := e.(string)
			if !ok {
				strings = false
				break
			}
			list = append(list, s)
		}
		if strings {
			md[k] = list
		}
	}
}
