// Package query turns untrusted query-string parameters into a bson read query.
//
// The steps run in a fixed order (filter, sort, projection, pagination) and
// each one only adds to the accumulating Query, so no step depends on the
// output of another.
package query

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"qalam/internal/utils"
)

// Kind is the storage type of a known field, used to cast query-string values.
type Kind int

const (
	String Kind = iota
	Int
	Time
	Bool
)

// Schema maps field names to their kinds. Fields missing from the schema are
// passed through as literal strings.
type Schema map[string]Kind

const (
	DefaultLimit int64 = 100
	MaxLimit     int64 = 1000

	// VersionField is the internal revision counter hidden by default.
	VersionField = "__v"
)

var reservedKeys = []string{"page", "sort", "limit", "fields"}

// field[op]=value
var operatorKey = regexp.MustCompile(`^([A-Za-z0-9_.]+)\[(gte|gt|lte|lt)\]$`)

// Query is the accumulating read descriptor.
type Query struct {
	Filter     bson.M
	Sort       bson.D
	Projection bson.M
	Skip       int64
	Limit      int64
}

type Options struct {
	Schema       Schema
	Hidden       []string
	DefaultLimit int64
	MaxLimit     int64
}

func (o Options) limits() (int64, int64) {
	def, ceiling := o.DefaultLimit, o.MaxLimit
	if ceiling <= 0 {
		ceiling = MaxLimit
	}
	if def <= 0 {
		def = DefaultLimit
	}
	if def > ceiling {
		def = ceiling
	}
	return def, ceiling
}

// Shape applies every step to base using the request's values.
func Shape(base bson.M, values url.Values, opts Options) (Query, error) {
	var q Query
	filter, err := Filter(base, values, opts.Schema, opts.Hidden)
	if err != nil {
		return Query{}, err
	}
	q.Filter = filter
	q.Sort = Sort(values.Get("sort"), opts.Hidden)
	q.Projection, err = Project(values.Get("fields"), opts.Hidden)
	if err != nil {
		return Query{}, err
	}
	q.Skip, q.Limit = Paginate(values.Get("page"), values.Get("limit"), opts)
	return q, nil
}

// Filter builds the match document. Keys in base always win over client keys.
// Client keys naming a hidden field, or starting with "$", are dropped.
func Filter(base bson.M, values url.Values, schema Schema, hidden []string) (bson.M, error) {
	filter := bson.M{}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if slices.Contains(reservedKeys, key) || strings.HasPrefix(key, "$") {
			continue
		}
		raw := values[key]
		if len(raw) == 0 {
			continue
		}

		if m := operatorKey.FindStringSubmatch(key); m != nil {
			field, op := m[1], "$"+m[2]
			if isHidden(field, hidden) {
				continue
			}
			v, err := cast(field, raw[len(raw)-1], schema)
			if err != nil {
				return nil, err
			}
			ops := operators(filter, field)
			ops[op] = v
			continue
		}
		if isHidden(key, hidden) {
			continue
		}

		switch key {
		case "description":
			filter[key] = primitive.Regex{Pattern: regexp.QuoteMeta(raw[len(raw)-1]), Options: "i"}
		case "categories":
			var set []string
			for _, r := range raw {
				for _, c := range strings.Split(r, ",") {
					if c = strings.TrimSpace(c); c != "" {
						set = append(set, c)
					}
				}
			}
			if len(set) == 0 {
				continue
			}
			filter[key] = bson.M{"$in": set}
		default:
			if len(raw) == 1 {
				v, err := cast(key, raw[0], schema)
				if err != nil {
					return nil, err
				}
				filter[key] = v
				continue
			}
			set := make(bson.A, 0, len(raw))
			for _, r := range raw {
				v, err := cast(key, r, schema)
				if err != nil {
					return nil, err
				}
				set = append(set, v)
			}
			filter[key] = bson.M{"$in": set}
		}
	}

	for k, v := range base {
		filter[k] = v
	}
	return filter, nil
}

// operators returns the operator document for field, folding a plain value
// already set by the bare key into it so both conditions apply.
func operators(filter bson.M, field string) bson.M {
	var ops bson.M
	switch existing := filter[field].(type) {
	case nil:
		ops = bson.M{}
	case bson.M:
		ops = existing
	case primitive.Regex:
		ops = bson.M{"$regex": existing}
	default:
		ops = bson.M{"$eq": existing}
	}
	filter[field] = ops
	return ops
}

func isHidden(field string, hidden []string) bool {
	for _, h := range hidden {
		if field == h || strings.HasPrefix(field, h+".") {
			return true
		}
	}
	return false
}

func cast(field, raw string, schema Schema) (any, error) {
	kind, known := schema[field]
	if !known {
		return raw, nil
	}
	switch kind {
	case Int:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, invalidValue(field, raw)
		}
		return n, nil
	case Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, invalidValue(field, raw)
		}
		return b, nil
	case Time:
		t, err := parseTime(raw)
		if err != nil {
			return nil, invalidValue(field, raw)
		}
		return t, nil
	default:
		return raw, nil
	}
}

func parseTime(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.DateTime, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", raw)
}

func invalidValue(field, raw string) error {
	return utils.NewValidationError(fmt.Sprintf("Invalid %s: %s", field, raw))
}

// Sort parses "-createdAt,title" into an ordered sort document. List order is
// tie-break priority; no implicit secondary key is added. Hidden fields are
// skipped.
func Sort(spec string, hidden []string) bson.D {
	var d bson.D
	seen := map[string]bool{}
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		dir := 1
		if strings.HasPrefix(part, "-") {
			dir = -1
			part = strings.TrimPrefix(part, "-")
		}
		if part == "" || seen[part] || isHidden(part, hidden) {
			continue
		}
		seen[part] = true
		d = append(d, bson.E{Key: part, Value: dir})
	}
	return d
}

// Project parses the fields allow-list. Hidden fields are never returned.
func Project(spec string, hidden []string) (bson.M, error) {
	var include, exclude []string
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "" || part == "-":
		case strings.HasPrefix(part, "-"):
			exclude = append(exclude, strings.TrimPrefix(part, "-"))
		default:
			include = append(include, part)
		}
	}
	if len(include) > 0 && len(exclude) > 0 {
		return nil, utils.NewValidationError("Cannot mix field inclusion and exclusion")
	}

	proj := bson.M{}
	if len(include) > 0 {
		for _, f := range include {
			if isHidden(f, hidden) {
				continue
			}
			proj[f] = 1
		}
		if len(proj) > 0 {
			return proj, nil
		}
		// every requested field was hidden: fall back to the default projection
	}

	if len(exclude) == 0 {
		exclude = []string{VersionField}
	}
	for _, f := range append(exclude, hidden...) {
		if f == "_id" {
			continue
		}
		proj[f] = 0
	}
	return proj, nil
}

// Paginate returns skip and limit. Invalid pages fall back to 1, invalid or
// non-positive limits to the default, and limits above the cap are clamped.
func Paginate(page, limit string, opts Options) (skip, n int64) {
	def, ceiling := opts.limits()

	p, err := strconv.ParseInt(page, 10, 64)
	if err != nil || p < 1 {
		p = 1
	}
	n, err = strconv.ParseInt(limit, 10, 64)
	if err != nil || n < 1 {
		n = def
	}
	if n > ceiling {
		n = ceiling
	}
	if p-1 > math.MaxInt64/n {
		// past any reachable document
		return math.MaxInt64, n
	}
	return (p - 1) * n, n
}
