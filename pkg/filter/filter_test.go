package filter_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/dmitrymomot/photovault/pkg/filter"
)

type item struct {
	ID        string
	Name      string
	Size      int64
	OwnerID   uuid.UUID
	ExpiresAt *time.Time
}

func (i item) FieldValue(name string) (any, bool) {
	switch name {
	case "id":
		return i.ID, true
	case "name":
		return i.Name, true
	case "size":
		return i.Size, true
	case "ownerId":
		return i.OwnerID, true
	case "expiresAt":
		if i.ExpiresAt == nil {
			return nil, false
		}
		return *i.ExpiresAt, true
	}
	return nil, false
}

var testFields = filter.Fields{
	"id":        "_id",
	"name":      "name",
	"size":      "size",
	"ownerId":   "owner_id",
	"expiresAt": "expires_at",
}

func TestIsIdentifier(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"id":              true,
		"_id":             true,
		"ID":              true,
		"user_id":         true,
		"customerID":      true,
		"createdByUserId": true,
		"spaceId":         true,
		"name":            false,
		"paid":            false,
		"email":           false,
		"Id":              false,
	}
	for field, want := range cases {
		assert.Equal(t, want, filter.IsIdentifier(field), field)
	}
}

func TestWhere(t *testing.T) {
	t.Parallel()

	t.Run("strings on regular fields match by substring", func(t *testing.T) {
		t.Parallel()
		f := filter.Where("name", "vac")
		assert.Equal(t, "vac", f["name"].Contains)
		assert.Nil(t, f["name"].Exact)
	})

	t.Run("strings on identifier fields match exactly", func(t *testing.T) {
		t.Parallel()
		f := filter.Where("spaceId", "abc")
		assert.Equal(t, "abc", f["spaceId"].Exact)
		assert.Empty(t, f["spaceId"].Contains)
	})

	t.Run("non-strings match exactly", func(t *testing.T) {
		t.Parallel()
		f := filter.Where("size", 10)
		assert.Equal(t, 10, f["size"].Exact)
	})

	t.Run("range operators combine on one field", func(t *testing.T) {
		t.Parallel()
		f := filter.Filter{}.Greater("size", 1).Less("size", 5)
		assert.Equal(t, 1, f["size"].Greater)
		assert.Equal(t, 5, f["size"].Less)
	})
}

func TestValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, filter.Where("name", "x").Validate(testFields))
	assert.ErrorIs(t, filter.Where("color", "x").Validate(testFields), filter.ErrUnknownField)
	assert.ErrorIs(t, filter.Filter{"name": {}}.Validate(testFields), filter.ErrInvalidCondition)
	assert.NoError(t, filter.Filter{}.Missing("expiresAt").Validate(testFields))
	assert.ErrorIs(t,
		filter.Filter{"expiresAt": {Missing: true, Less: time.Now()}}.Validate(testFields),
		filter.ErrInvalidCondition)
}

func TestMatch(t *testing.T) {
	t.Parallel()

	owner := uuid.New()
	exp := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	rec := item{ID: "a", Name: "Summer Vacation", Size: 42, OwnerID: owner, ExpiresAt: &exp}

	t.Run("substring is case-insensitive", func(t *testing.T) {
		t.Parallel()
		ok, err := filter.Match(rec, filter.Where("name", "VACA"))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("uuid compares against its string form", func(t *testing.T) {
		t.Parallel()
		ok, err := filter.Match(rec, filter.Where("ownerId", owner.String()))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = filter.Match(rec, filter.Where("ownerId", owner))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("numeric kinds are folded", func(t *testing.T) {
		t.Parallel()
		ok, err := filter.Match(rec, filter.Where("size", 42))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("strict bounds", func(t *testing.T) {
		t.Parallel()
		ok, err := filter.Match(rec, filter.Filter{}.Less("expiresAt", exp))
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = filter.Match(rec, filter.Filter{}.Less("expiresAt", exp.Add(time.Second)))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("absent field never matches", func(t *testing.T) {
		t.Parallel()
		ok, err := filter.Match(item{ID: "b"}, filter.Filter{}.Less("expiresAt", exp))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing matches only absent fields", func(t *testing.T) {
		t.Parallel()
		f := filter.Filter{}.Missing("expiresAt").Greater("size", 1)
		ok, err := filter.Match(item{ID: "b", Size: 2}, f)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = filter.Match(rec, f)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("incomparable bound is an error", func(t *testing.T) {
		t.Parallel()
		_, err := filter.Match(rec, filter.Filter{}.Greater("size", "big"))
		assert.ErrorIs(t, err, filter.ErrNotComparable)
	})
}

func TestApply_Pagination(t *testing.T) {
	t.Parallel()

	items := make([]item, 0, 45)
	for i := range 45 {
		items = append(items, item{ID: fmt.Sprintf("id-%02d", i), Size: int64(i % 7)})
	}

	t.Run("pages partition the result set", func(t *testing.T) {
		t.Parallel()
		seen := map[string]int{}
		q := filter.Query{PageSize: 10, Sort: filter.Sort{Field: "size"}}
		for p := 1; p <= 5; p++ {
			q.Page = p
			page, err := filter.Apply(items, q)
			require.NoError(t, err)
			assert.Equal(t, int64(45), page.TotalItems)
			assert.Equal(t, 5, page.TotalPages)
			for _, it := range page.Items {
				seen[it.ID]++
			}
		}
		assert.Len(t, seen, 45)
		for id, n := range seen {
			assert.Equal(t, 1, n, id)
		}
	})

	t.Run("page past the end is empty", func(t *testing.T) {
		t.Parallel()
		page, err := filter.Apply(items, filter.Query{Page: 9, PageSize: 10})
		require.NoError(t, err)
		assert.Empty(t, page.Items)
		assert.NotNil(t, page.Items)
		assert.False(t, page.HasNext())
	})

	t.Run("page size is capped", func(t *testing.T) {
		t.Parallel()
		page, err := filter.Apply(items, filter.Query{PageSize: 1000})
		require.NoError(t, err)
		assert.Equal(t, filter.MaxPageSize, page.PageSize)
		assert.Len(t, page.Items, 45)
	})

	t.Run("descending sort breaks ties by id", func(t *testing.T) {
		t.Parallel()
		page, err := filter.Apply(items, filter.Query{PageSize: 3, Sort: filter.Sort{Field: "size", Desc: true}})
		require.NoError(t, err)
		require.Len(t, page.Items, 3)
		assert.Equal(t, []string{"id-06", "id-13", "id-20"}, []string{page.Items[0].ID, page.Items[1].ID, page.Items[2].ID})
	})
}

func TestTotalPages(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, filter.TotalPages(0, 20))
	assert.Equal(t, 1, filter.TotalPages(1, 20))
	assert.Equal(t, 1, filter.TotalPages(20, 20))
	assert.Equal(t, 2, filter.TotalPages(21, 20))
	assert.Equal(t, 0, filter.TotalPages(10, 0))
}

func TestToBSON(t *testing.T) {
	t.Parallel()

	owner := uuid.New()
	f := filter.Where("ownerId", owner).And("name", "a.b").Greater("size", 3)
	doc, err := filter.ToBSON(f, testFields)
	require.NoError(t, err)

	want := bson.D{
		{Key: "name", Value: bson.D{{Key: "$regex", Value: bson.Regex{Pattern: `a\.b`, Options: "i"}}}},
		{Key: "owner_id", Value: owner.String()},
		{Key: "size", Value: bson.D{{Key: "$gt", Value: 3}}},
	}
	assert.Equal(t, want, doc)

	_, err = filter.ToBSON(filter.Where("color", "red"), testFields)
	assert.ErrorIs(t, err, filter.ErrUnknownField)

	doc, err = filter.ToBSON(filter.Filter{}.Missing("expiresAt").Less("size", 3), testFields)
	require.NoError(t, err)
	assert.Equal(t, bson.D{
		{Key: "expires_at", Value: nil},
		{Key: "size", Value: bson.D{{Key: "$lt", Value: 3}}},
	}, doc)
}

func TestSortBSON(t *testing.T) {
	t.Parallel()

	doc, err := filter.SortBSON(filter.Sort{Field: "size", Desc: true}, testFields)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "size", Value: -1}, {Key: "_id", Value: 1}}, doc)

	doc, err = filter.SortBSON(filter.Sort{}, testFields)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "_id", Value: 1}}, doc)
}

func TestToSQL(t *testing.T) {
	t.Parallel()

	t.Run("builds positional placeholders", func(t *testing.T) {
		t.Parallel()
		f := filter.Where("name", "50%_off").Less("size", 9)
		where, args, err := filter.ToSQL(f, testFields, 1)
		require.NoError(t, err)
		assert.Equal(t, "name ILIKE $2 AND size < $3", where)
		assert.Equal(t, []any{`%50\%\_off%`, 9}, args)
	})

	t.Run("missing field", func(t *testing.T) {
		t.Parallel()
		f := filter.Filter{}.Less("size", 9).Missing("expiresAt")
		where, args, err := filter.ToSQL(f, testFields, 0)
		require.NoError(t, err)
		assert.Equal(t, "expires_at IS NULL AND size < $1", where)
		assert.Equal(t, []any{9}, args)
	})

	t.Run("empty filter", func(t *testing.T) {
		t.Parallel()
		where, args, err := filter.ToSQL(nil, testFields, 0)
		require.NoError(t, err)
		assert.Equal(t, "TRUE", where)
		assert.Empty(t, args)
	})

	t.Run("order by", func(t *testing.T) {
		t.Parallel()
		clause, err := filter.OrderBy(filter.Sort{Field: "expiresAt"}, testFields)
		require.NoError(t, err)
		assert.Equal(t, "ORDER BY expires_at ASC NULLS FIRST, _id ASC", clause)
	})

	t.Run("limit offset", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "LIMIT 10 OFFSET 20", filter.LimitOffset(filter.Query{Page: 3, PageSize: 10}))
	})
}
