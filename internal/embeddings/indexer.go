package embeddings

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/actionchat/actionchat/internal/store"
)

// Indexer embeds a source's operations and writes the vectors back to
// the store. Embedding failure is non-fatal: operations stay callable
// by exact name and the selector degrades to lexical presentation.
type Indexer struct {
	driver Driver
	ops    store.OperationStore
}

func NewIndexer(driver Driver, ops store.OperationStore) *Indexer {
	return &Indexer{driver: driver, ops: ops}
}

// IndexSource embeds every operation of the source in driver-sized
// batches. Returns the number of operations embedded.
func (ix *Indexer) IndexSource(ctx context.Context, sourceID string) (int, error) {
	ops, err := ix.ops.ListOperations(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	if len(ops) == 0 {
		return 0, nil
	}

	indexed := 0
	batch := ix.driver.MaxBatchSize()
	for start := 0; start < len(ops); start += batch {
		end := start + batch
		if end > len(ops) {
			end = len(ops)
		}
		chunk := ops[start:end]

		texts := make([]string, len(chunk))
		for i := range chunk {
			texts[i] = OperationText(&chunk[i])
		}

		vectors, err := ix.driver.Embed(ctx, texts)
		if err != nil {
			log.Warn().Err(err).Str("source_id", sourceID).Int("from", start).
				Msg("Embedding batch failed, operations stay lexical")
			continue
		}
		for i, v := range vectors {
			if len(v) == 0 {
				continue
			}
			if err := ix.ops.SetOperationEmbedding(ctx, chunk[i].ID, v); err != nil {
				log.Warn().Err(err).Str("operation_id", chunk[i].ID).Msg("Failed to store embedding")
				continue
			}
			indexed++
		}
	}

	log.Info().Str("source_id", sourceID).Int("indexed", indexed).Int("total", len(ops)).
		Msg("Source operations indexed")
	return indexed, nil
}

// EmbedQuery embeds a single turn text for k-NN search.
func (ix *Indexer) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	vectors, err := ix.driver.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, nil
	}
	return vectors[0], nil
}

// Dimensions exposes the configured vector width.
func (ix *Indexer) Dimensions() int { return ix.driver.Dimensions() }
