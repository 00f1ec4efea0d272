package filter

import (
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ToBSON converts f into a MongoDB query document.
// Identifier values implementing fmt.Stringer (uuid.UUID) are stored as strings.
func ToBSON(f Filter, fields Fields) (bson.D, error) {
	doc := bson.D{}
	for _, name := range sortedKeys(f) {
		cond := f[name]
		col, err := fields.Column(name)
		if err != nil {
			return nil, err
		}
		if err := cond.validate(name); err != nil {
			return nil, err
		}
		if cond.Missing {
			// null also matches absent fields
			doc = append(doc, bson.E{Key: col, Value: nil})
			continue
		}

		ops := bson.D{}
		if cond.Contains != "" {
			ops = append(ops, bson.E{Key: "$regex", Value: bson.Regex{
				Pattern: regexp.QuoteMeta(cond.Contains),
				Options: "i",
			}})
		}
		if cond.Greater != nil {
			ops = append(ops, bson.E{Key: "$gt", Value: bsonValue(cond.Greater)})
		}
		if cond.Less != nil {
			ops = append(ops, bson.E{Key: "$lt", Value: bsonValue(cond.Less)})
		}

		switch {
		case cond.Exact != nil && len(ops) == 0:
			doc = append(doc, bson.E{Key: col, Value: bsonValue(cond.Exact)})
		case cond.Exact != nil:
			ops = append(bson.D{{Key: "$eq", Value: bsonValue(cond.Exact)}}, ops...)
			doc = append(doc, bson.E{Key: col, Value: ops})
		default:
			doc = append(doc, bson.E{Key: col, Value: ops})
		}
	}
	return doc, nil
}

// FindOptions builds sort, skip and limit options for a normalized query.
func FindOptions(q Query, fields Fields) (*options.FindOptionsBuilder, error) {
	q = q.Normalize()
	sortDoc, err := SortBSON(q.Sort, fields)
	if err != nil {
		return nil, err
	}
	return options.Find().
		SetSort(sortDoc).
		SetSkip(q.Offset()).
		SetLimit(int64(q.PageSize)), nil
}

// SortBSON returns the sort document with the id tiebreaker appended.
func SortBSON(s Sort, fields Fields) (bson.D, error) {
	if s.Field == "" {
		s.Field = "id"
	}
	col, err := fields.Column(s.Field)
	if err != nil {
		return nil, err
	}
	dir := 1
	if s.Desc {
		dir = -1
	}
	doc := bson.D{{Key: col, Value: dir}}
	idCol, err := fields.Column("id")
	if err != nil {
		return nil, err
	}
	if idCol != col {
		doc = append(doc, bson.E{Key: idCol, Value: 1})
	}
	return doc, nil
}

func bsonValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC()
	case fmt.Stringer:
		return t.String()
	default:
		return v
	}
}
