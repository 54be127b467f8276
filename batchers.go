package scraper

import "iter"

// Chunk groups a row stream into slices of at most size items without
// materializing the stream. The last chunk may be shorter. An error from seq
// is yielded as-is together with a nil chunk, and the rows collected since the
// previous chunk are dropped.
//
// Example:
//
//	for batch, err := range scraper.Chunk(out.Facts(), 500) {
//	    if err != nil {
//	        return err
//	    }
//	    post(batch)
//	}
func Chunk[T any](seq iter.Seq2[T, error], size int) iter.Seq2[[]T, error] {
	size = max(size, 1)
	return func(yield func([]T, error) bool) {
		batch := make([]T, 0, size)
		for item, err := range seq {
			if err != nil {
				yield(nil, err)
				return
			}
			batch = append(batch, item)
			if len(batch) == size {
				if !yield(batch, nil) {
					return
				}
				batch = make([]T, 0, size)
			}
		}
		if len(batch) > 0 {
			yield(batch, nil)
		}
	}
}

// chunk splits a slice into sub-slices of at most size elements.
func chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 || size <= 0 {
		return nil
	}

	numChunks := (len(items) + size - 1) / size
	result := make([][]T, 0, numChunks)

	for i := 0; i < len(items); i += size {
		end := min(i+size, len(items))
		result = append(result, items[i:end])
	}

	return result
}

// Rows adapts a materialized slice to the stream shape consumed by uploaders.
func Rows(rows []Row) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		for _, row := range rows {
			if !yield(row, nil) {
				return
			}
		}
	}
}
