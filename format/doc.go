// Package format turns flat rows into nested object graphs.
//
// A [Format] is an ordered list of output fields. Scalar fields copy (and
// optionally convert) a value from the source row. Relation fields resolve a
// key held by the source row against another entity type:
//
//   - [Object] - a foreign key to one related row
//   - [Partial] - an optional related row keyed by the parent's id
//   - [MultipleObject] - a string or list holding several keys
//   - [ObjectSwitch] - a key whose entity type is chosen by a discriminator
//   - [Chain] - a many-to-many relation through a join entity
//
// Relations are only fetched when the [Request] expands them; otherwise they
// yield a cheap default ([Ref] placeholders, nil or empty lists). Expanded
// relations are batched: every relation field is fetched at most once per
// Apply call no matter how many rows are formatted.
//
//	f := format.NewFormatter(registry, format.WithFormats(userFormat))
//	post := format.New("post").
//	    Add("id", format.Scalar{Type: "number"}).
//	    Add("user", format.Object{Reference: format.Reference{
//	        Entity: "User",
//	        Select: format.Projection{Format: "user"},
//	    }})
//	out, err := f.Apply(ctx, post, rows, format.ParseRequest("user"))
//
// Relation fields of one format are resolved concurrently.
package format
