package lesson

import (
	"context"
	"log"
)

// Uploader sends one packaged artifact to the lecture server.
type Uploader interface {
	Upload(ctx context.Context, filename string, data []byte) error
}

// Flush uploads every queued artifact and drops the ones the server
// accepted. A failed upload stays queued for the next run. It returns how
// many were uploaded and the first failure.
func Flush(ctx context.Context, outbox *Cache, up Uploader) (int, error) {
	names, err := outbox.List(ctx)
	if err != nil {
		return 0, err
	}

	var uploaded int
	var first error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return uploaded, err
		}
		data, err := outbox.Get(ctx, name)
		if err != nil {
			log.Printf("Outbox: skipping %s: %v", name, err)
			if first == nil {
				first = err
			}
			continue
		}
		if err := up.Upload(ctx, name, data); err != nil {
			log.Printf("Outbox: upload %s failed: %v", name, err)
			if first == nil {
				first = err
			}
			continue
		}
		if err := outbox.Delete(ctx, name); err != nil {
			log.Printf("Outbox: uploaded %s but could not dequeue it: %v", name, err)
		}
		uploaded++
		log.Printf("Outbox: uploaded %s", name)
	}
	return uploaded, first
}
