package database

import (
	"cmp"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// The in-memory matcher understands the operator subset the API emits:
// $eq $ne $gt $gte $lt $lte $in $nin $regex $exists $or $and.

func matches(doc, filter bson.M) bool {
	for key, cond := range filter {
		switch key {
		case "$or":
			subs, _ := asList(cond)
			ok := false
			for _, sub := range subs {
				if m, isDoc := sub.(bson.M); isDoc && matches(doc, m) {
					ok = true
					break
				}
			}
			if !ok {
				return false
			}
		case "$and":
			subs, _ := asList(cond)
			for _, sub := range subs {
				if m, isDoc := sub.(bson.M); !isDoc || !matches(doc, m) {
					return false
				}
			}
		default:
			value, present := lookup(doc, key)
			if !matchField(value, present, cond) {
				return false
			}
		}
	}
	return true
}

// lookup resolves dotted paths into nested documents.
func lookup(doc bson.M, path string) (any, bool) {
	var current any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(bson.M)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func matchField(value any, present bool, cond any) bool {
	switch c := cond.(type) {
	case bson.M:
		if !isOperatorDoc(c) {
			return present && anyElement(value, func(v any) bool { return equal(v, c) })
		}
		for op, arg := range c {
			if op == "$options" {
				continue
			}
			if !matchOperator(value, present, op, arg, c) {
				return false
			}
		}
		return true
	case primitive.Regex:
		return present && anyElement(value, func(v any) bool { return regexMatch(v, c.Pattern, c.Options) })
	default:
		if cond == nil {
			return !present || value == nil
		}
		return present && anyElement(value, func(v any) bool { return equal(v, cond) })
	}
}

func matchOperator(value any, present bool, op string, arg any, all bson.M) bool {
	switch op {
	case "$eq":
		return matchField(value, present, arg)
	case "$ne":
		return !matchField(value, present, arg)
	case "$gt", "$gte", "$lt", "$lte":
		if !present {
			return false
		}
		return anyElement(value, func(v any) bool {
			if class(v) != class(arg) {
				return false
			}
			c := compare(v, arg)
			switch op {
			case "$gt":
				return c > 0
			case "$gte":
				return c >= 0
			case "$lt":
				return c < 0
			default:
				return c <= 0
			}
		})
	case "$in":
		candidates, _ := asList(arg)
		for _, candidate := range candidates {
			if matchField(value, present, candidate) {
				return true
			}
		}
		return false
	case "$nin":
		return !matchOperator(value, present, "$in", arg, all)
	case "$regex":
		if !present {
			return false
		}
		pattern, options := "", ""
		switch r := arg.(type) {
		case primitive.Regex:
			pattern, options = r.Pattern, r.Options
		default:
			pattern = fmt.Sprint(r)
		}
		if o, ok := all["$options"].(string); ok {
			options = o
		}
		return anyElement(value, func(v any) bool { return regexMatch(v, pattern, options) })
	case "$exists":
		want, _ := arg.(bool)
		return present == want
	default:
		return false
	}
}

func isOperatorDoc(m bson.M) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

// anyElement applies fn to value, or to each element when value is an array.
func anyElement(value any, fn func(any) bool) bool {
	if list, ok := asList(value); ok {
		for _, item := range list {
			if fn(item) {
				return true
			}
		}
		return false
	}
	return fn(value)
}

func regexMatch(v any, pattern, options string) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	if strings.Contains(options, "i") {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func asList(v any) ([]any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case primitive.A:
		return []any(t), true
	case []any:
		return t, true
	case []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func containsEqual(list []any, v any) bool {
	for _, item := range list {
		if equal(item, v) {
			return true
		}
	}
	return false
}

// Value classes in BSON comparison order.
const (
	classNull = iota
	classNumber
	classString
	classDocument
	classBool
	classDate
	classOther
)

func class(v any) int {
	switch v.(type) {
	case nil:
		return classNull
	case string:
		return classString
	case bool:
		return classBool
	case time.Time, primitive.DateTime:
		return classDate
	case bson.M:
		return classDocument
	}
	if _, ok := toNumber(v); ok {
		return classNumber
	}
	return classOther
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toMillis(v any) int64 {
	switch t := v.(type) {
	case time.Time:
		return t.UnixMilli()
	case primitive.DateTime:
		return int64(t)
	}
	return 0
}

func equal(a, b any) bool {
	if class(a) != class(b) {
		return false
	}
	if class(a) == classDocument {
		return reflect.DeepEqual(a, b)
	}
	return compare(a, b) == 0
}

// compare orders values first by class, then within the class.
func compare(a, b any) int {
	ca, cb := class(a), class(b)
	if ca != cb {
		return cmp.Compare(ca, cb)
	}
	switch ca {
	case classNull:
		return 0
	case classNumber:
		x, _ := toNumber(a)
		y, _ := toNumber(b)
		return cmp.Compare(x, y)
	case classString:
		return strings.Compare(a.(string), b.(string))
	case classBool:
		x, y := a.(bool), b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case classDate:
		return cmp.Compare(toMillis(a), toMillis(b))
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}
