package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"repo-advisor/internal/apperr"
	"repo-advisor/internal/contextutil"
	"repo-advisor/internal/document"
)

const (
	collectionPrefix = "repo-advisor-"
	upsertBatchSize  = 256
)

// QdrantBackend loads each index into its own ephemeral Qdrant collection.
type QdrantBackend struct {
	client *qdrant.Client
}

// NewQdrantBackend creates a new Qdrant backend.
// urlStr should be in the format "http://host:port" (e.g., "http://localhost:6333").
// The gRPC port (typically 6334) will be derived from the HTTP port.
func NewQdrantBackend(urlStr string) (*QdrantBackend, error) {
	host, port, err := grpcAddress(urlStr)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	return &QdrantBackend{client: client}, nil
}

// grpcAddress derives the gRPC host and port from the Qdrant HTTP URL.
func grpcAddress(urlStr string) (string, int, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid Qdrant URL: %w", err)
	}

	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}

	port := 6334 // Default gRPC port
	if parsedURL.Port() != "" {
		httpPort, err := strconv.Atoi(parsedURL.Port())
		if err == nil {
			// gRPC port is typically HTTP port + 1
			port = httpPort + 1
		}
	}
	return host, port, nil
}

// Close closes the underlying gRPC connection.
func (b *QdrantBackend) Close() error {
	return b.client.Close()
}

// Ping checks that the Qdrant server answers health checks.
func (b *QdrantBackend) Ping(ctx context.Context) error {
	if _, err := b.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check failed: %w", err)
	}
	return nil
}

// Load creates a fresh collection and upserts every entry. If any step fails the
// collection is dropped before returning.
func (b *QdrantBackend) Load(ctx context.Context, dimension int, entries []Entry) (Index, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be greater than 0, got %d", apperr.ErrIndex, dimension)
	}
	for i, e := range entries {
		if len(e.Vector) != dimension {
			return nil, fmt.Errorf("%w: entry %d (%s#%d) has dimension %d, expected %d",
				apperr.ErrIndex, i, e.Chunk.Path, e.Chunk.Index, len(e.Vector), dimension)
		}
	}

	collection := collectionPrefix + uuid.NewString()
	logger.InfoContext(ctx, "creating collection", "collection", collection, "vector_size", dimension)
	err := b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	idx := &QdrantIndex{
		client:     b.client,
		collection: collection,
		dimension:  dimension,
		size:       len(entries),
	}

	if err := idx.upsert(ctx, entries); err != nil {
		if closeErr := idx.Close(context.WithoutCancel(ctx)); closeErr != nil {
			logger.WarnContext(ctx, "failed to drop partially loaded collection", "collection", collection, "error", closeErr)
		}
		return nil, err
	}

	logger.InfoContext(ctx, "upserted points", "collection", collection, "count", len(entries))
	return idx, nil
}

// QdrantIndex is an Index backed by a Qdrant collection owned by one run.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dimension  int
	size       int

	closeOnce sync.Once
	closeErr  error
}

func (q *QdrantIndex) upsert(ctx context.Context, entries []Entry) error {
	wait := true
	for start := 0; start < len(entries); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(entries))

		points := make([]*qdrant.PointStruct, 0, end-start)
		for pos := start; pos < end; pos++ {
			e := entries[pos]
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDNum(uint64(pos)),
				Vectors: qdrant.NewVectors(e.Vector...),
				Payload: qdrant.NewValueMap(map[string]any{
					"position": pos,
					"path":     e.Chunk.Path,
					"index":    e.Chunk.Index,
					"start":    e.Chunk.Start,
					"length":   e.Chunk.Length,
					"text":     e.Chunk.Text,
				}),
			})
		}

		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection,
			Wait:           &wait,
			Points:         points,
		})
		if err != nil {
			return fmt.Errorf("%w: failed to upsert points: %v", apperr.ErrIndex, err)
		}
	}
	return nil
}

// Query performs a cosine similarity search. Every point is scored server-side and the
// top k are picked locally, so entries tied at the cutoff keep insertion order.
func (q *QdrantIndex) Query(ctx context.Context, vector []float32, k int) ([]SearchResult, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be greater than 0", apperr.ErrInvalidInput)
	}
	if len(vector) != q.dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, expected %d", apperr.ErrIndex, len(vector), q.dimension)
	}
	if q.size == 0 {
		return []SearchResult{}, nil
	}

	limit := uint64(q.size)
	scoredPoints, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to search points", "collection", q.collection, "k", k, "error", err)
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	results := rankPoints(scoredPoints, k)
	logger.DebugContext(ctx, "search completed", "collection", q.collection, "k", k, "results", len(results))
	return results, nil
}

// rankPoints orders points by score, then insertion position, and keeps the first k.
func rankPoints(points []*qdrant.ScoredPoint, k int) []SearchResult {
	type ranked struct {
		result   SearchResult
		position int64
	}
	hits := make([]ranked, 0, len(points))
	for _, point := range points {
		meta := convertPayloadToMap(point.GetPayload())
		hits = append(hits, ranked{
			result:   SearchResult{Chunk: chunkFromPayload(meta), Score: point.GetScore()},
			position: intValue(meta["position"]),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].result.Score != hits[j].result.Score {
			return hits[i].result.Score > hits[j].result.Score
		}
		return hits[i].position < hits[j].position
	})

	n := min(k, len(hits))
	results := make([]SearchResult, n)
	for i := range n {
		results[i] = hits[i].result
	}
	return results
}

// Size returns the number of indexed entries.
func (q *QdrantIndex) Size() int {
	return q.size
}

// Dimension returns the vector dimensionality.
func (q *QdrantIndex) Dimension() int {
	return q.dimension
}

// Close drops the collection.
func (q *QdrantIndex) Close(ctx context.Context) error {
	q.closeOnce.Do(func() {
		if err := q.client.DeleteCollection(ctx, q.collection); err != nil {
			q.closeErr = fmt.Errorf("failed to delete collection %s: %w", q.collection, err)
			return
		}
		contextutil.LoggerFromContext(ctx).DebugContext(ctx, "collection deleted", "collection", q.collection)
	})
	return q.closeErr
}

func chunkFromPayload(meta map[string]any) document.Chunk {
	path, _ := meta["path"].(string)
	text, _ := meta["text"].(string)
	return document.Chunk{
		Path:   path,
		Index:  int(intValue(meta["index"])),
		Start:  int(intValue(meta["start"])),
		Length: int(intValue(meta["length"])),
		Text:   text,
	}
}

func intValue(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// convertPayloadToMap converts Qdrant payload to map[string]any.
func convertPayloadToMap(payload map[string]*qdrant.Value) map[string]any {
	result := make(map[string]any, len(payload))
	for k, v := range payload {
		if v == nil {
			continue
		}
		result[k] = convertValue(v)
	}
	return result
}

// convertValue converts a Qdrant Value to Go any type.
func convertValue(v *qdrant.Value) any {
	switch val := v.Kind.(type) {
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_ListValue:
		list := make([]any, len(val.ListValue.Values))
		for i, item := range val.ListValue.Values {
			list[i] = convertValue(item)
		}
		return list
	case *qdrant.Value_StructValue:
		return convertPayloadToMap(val.StructValue.Fields)
	default:
		return nil
	}
}
