// Package qdrant adapts the Qdrant vector database to store.VectorIndex,
// the alternate C4 backend for installs that prefer a dedicated vector
// database over pgvector.
package qdrant

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"mnemosyne/internal/store"
)

// payloadIDField stores the caller-supplied ID when it isn't itself a UUID;
// Qdrant point IDs must be a UUID or a positive integer.
const payloadIDField = "_original_id"

// Index is a store.VectorIndex backed by a Qdrant collection.
type Index struct {
	client     *qdrant.Client
	collection string
	dimension  int
	metric     string
}

// New connects to Qdrant over gRPC (default port 6334) and ensures the
// target collection exists with the requested dimension/metric.
func New(dsn, collection string, dimension int, metric string) (*Index, error) {
	if collection == "" {
		return nil, fmt.Errorf("qdrant: collection name is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("qdrant: parse dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	portStr := parsed.Port()
	if portStr == "" {
		portStr = "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("qdrant: invalid port: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: port}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant: create client: %w", err)
	}
	idx := &Index{client: client, collection: collection, dimension: dimension, metric: strings.ToLower(strings.TrimSpace(metric))}
	if err := idx.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("qdrant: ensure collection: %w", err)
	}
	return idx, nil
}

func (q *Index) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	if q.dimension <= 0 {
		return fmt.Errorf("dimension must be > 0")
	}
	var distance qdrant.Distance
	switch q.metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	default:
		distance = qdrant.Distance_Cosine
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: distance,
		}),
	})
}

func pointIDFor(id string) (string, bool) {
	if _, err := uuid.Parse(id); err == nil {
		return id, false
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String(), true
}

// Upsert implements store.VectorIndex.
func (q *Index) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error {
	pointID, remapped := pointIDFor(id)
	payloadMap := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		payloadMap[k] = v
	}
	if remapped {
		payloadMap[payloadIDField] = id
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(pointID),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payloadMap),
		}},
	})
	return err
}

// Delete implements store.VectorIndex.
func (q *Index) Delete(ctx context.Context, id string) error {
	pointID, _ := pointIDFor(id)
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(pointID)),
	})
	return err
}

// SimilaritySearch implements store.VectorIndex.
func (q *Index) SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]store.VectorResult, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)

	var qf *qdrant.Filter
	if len(filter) > 0 {
		must := make([]*qdrant.Condition, 0, len(filter))
		for k, v := range filter {
			must = append(must, qdrant.NewMatch(k, v))
		}
		qf = &qdrant.Filter{Must: must}
	}
	limit := uint64(k)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         qf,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	out := make([]store.VectorResult, 0, len(hits))
	for _, hit := range hits {
		id := hit.Id.GetUuid()
		if id == "" {
			id = hit.Id.String()
		}
		metadata := make(map[string]string)
		for k, v := range hit.Payload {
			if k == payloadIDField {
				id = v.GetStringValue()
				continue
			}
			metadata[k] = v.GetStringValue()
		}
		out = append(out, store.VectorResult{ID: id, Score: float64(hit.Score), Metadata: metadata})
	}
	return out, nil
}

// Close releases the underlying gRPC connection.
func (q *Index) Close() error { return q.client.Close() }
