// Package dynaorm provides a thin object-relational layer over the AWS SDK
// for Go v2 DynamoDB client.
//
// Records are plain maps decoded with the attributevalue package. Filters are
// ordered attribute/value conditions; each attribute is classified against
// the table's key schema, which is described lazily and cached per [DB], and
// lands either in the key condition or in the filter expression of a query.
//
// # Basic Usage
//
//	db, err := dynaorm.Connect(ctx, dynaorm.ConfigFromEnv())
//	music := db.Table("Music")
//
//	_, err = music.Create(ctx, dynaorm.Record{"Artist": "A", "SongTitle": "1", "Genre": "Rock"})
//
//	// Query: Artist is the partition key, Genre is filtered
//	songs, err := music.Where(dynaorm.Where("Artist", "A").And("Genre", "Rock")).Load(ctx)
//
//	// Any of several values
//	n, err := music.Where(dynaorm.Where("Artist", dynaorm.In("A", "B"))).Count(ctx)
//
// A relation without filter conditions scans the table. A relation whose
// conditions name no key attribute fails with [ErrEmptyKeyCondition] instead
// of sending a query DynamoDB would reject.
//
// # Pagination
//
// Relations are immutable values. Offset resumes after a record; Page and
// After hand out opaque cursors:
//
//	page, err := music.Relation().Limit(ctx, 10)
//	next, err := music.Offset(page[len(page)-1]).Limit(ctx, 10)
//
// FindEach and FindInBatches walk a whole table or query in pages, using the
// last record of each page as the cursor of the next.
//
// # Transactions
//
// Writes made with the context passed to a transaction body are buffered and
// sent as one TransactWriteItems request when the body returns nil:
//
//	_, err := db.Transaction(ctx, func(ctx context.Context) error {
//	    if _, err := music.Create(ctx, song); err != nil {
//	        return err
//	    }
//	    _, err := music.Delete(ctx, oldKey)
//	    return err
//	})
//
// Results of buffered writes are marked [ResultOptimistic].
package dynaorm
