package capability

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantSearch backs the Search capability with a Qdrant collection of
// indexed source documents (title/url/snippet payload fields). Matching
// is payload-filtered full-text rather than vector similarity: the
// corpus this adapter serves (web snippets and knowledge-base articles)
// is small enough that a keyword match on the indexed "text" field is
// sufficient, and it avoids standing up a separate embedding model.
type QdrantSearch struct {
	client         *qdrant.Client
	collectionName string
}

// NewQdrantSearch connects to host:grpcPort and ensures the search
// collection exists, creating it with a 1-dimensional placeholder
// vector (required by Qdrant's schema even though this adapter matches
// on payload, not vector distance).
func NewQdrantSearch(ctx context.Context, host string, grpcPort int, apiKey, collectionName string) (*QdrantSearch, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   grpcPort,
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}

	q := &QdrantSearch{client: client, collectionName: collectionName}
	exists, err := client.CollectionExists(ctx, collectionName)
	if err != nil {
		return nil, fmt.Errorf("check collection: %w", err)
	}
	if !exists {
		if err := client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     1,
				Distance: qdrant.Distance_Cosine,
			}),
		}); err != nil {
			return nil, fmt.Errorf("create collection: %w", err)
		}
	}
	return q, nil
}

// Search runs a payload text-match against the indexed corpus,
// returning up to topK hits.
func (q *QdrantSearch) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	limit := uint64(topK)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collectionName,
		Query:          qdrant.NewQuery(0),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("text", query),
			},
		},
		Limit:       &limit,
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	out := make([]SearchResult, 0, len(points))
	for _, p := range points {
		payload := p.GetPayload()
		out = append(out, SearchResult{
			Title:   payload["title"].GetStringValue(),
			URL:     payload["url"].GetStringValue(),
			Snippet: payload["snippet"].GetStringValue(),
		})
	}
	return out, nil
}
