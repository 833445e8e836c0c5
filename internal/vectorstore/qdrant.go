package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"chat-vectorsync/internal/config"
	"chat-vectorsync/internal/models"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/tmc/langchaingo/embeddings"
	"go.uber.org/zap"
)

// VectorPayloadKey holds the dense vector inside exported payloads
const VectorPayloadKey = "vector"

// pointNamespace derives point ids from message ids. A retried upload of
// the same message overwrites its earlier point instead of duplicating it.
var pointNamespace = uuid.MustParse("6f1c2a52-3d8e-4c7b-9a41-2e5d7b0c9f13")

// ErrDimensionMismatch is returned when an embedding does not fit the collection
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// pointsClient is the subset of *qdrant.Client the store uses
type pointsClient interface {
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Get(ctx context.Context, request *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error)
	SetPayload(ctx context.Context, request *qdrant.SetPayloadPoints) (*qdrant.UpdateResult, error)
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// QdrantStore embeds messages and keeps them in a Qdrant collection
type QdrantStore struct {
	client     pointsClient
	embedder   embeddings.Embedder
	collection string
	vectorSize uint64
	log        *zap.Logger
}

// NewQdrantStore connects to Qdrant
func NewQdrantStore(cfg config.VectorConfig, embedder embeddings.Embedder, log *zap.Logger) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return newQdrantStore(client, embedder, cfg, log), nil
}

func newQdrantStore(client pointsClient, embedder embeddings.Embedder, cfg config.VectorConfig, log *zap.Logger) *QdrantStore {
	return &QdrantStore{
		client:     client,
		embedder:   embedder,
		collection: cfg.Collection,
		vectorSize: cfg.VectorSize,
		log:        log.With(zap.String("collection", cfg.Collection)),
	}
}

// PointID returns the deterministic point id of a message
func PointID(messageID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(messageID)).String()
}

// EnsureCollection creates the collection if it does not exist yet
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	s.log.Info("Created vector collection", zap.Uint64("vector_size", s.vectorSize))
	return nil
}

// Ping checks that Qdrant answers
func (s *QdrantStore) Ping(ctx context.Context) error {
	_, err := s.client.HealthCheck(ctx)
	return err
}

// Close releases the client connection
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func messagePayload(msg *models.Message) map[string]any {
	payload := map[string]any{
		"message_id":      msg.MessageID,
		"conversation_id": msg.ConversationID,
		"session_id":      msg.SessionID,
		"role":            string(msg.Role),
		"content":         msg.Content,
		"created_at":      msg.CreatedAt.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
	}
	if msg.Username != nil {
		payload["username"] = *msg.Username
	}
	if msg.PhilosopherCollection != nil {
		payload["philosopher_collection"] = *msg.PhilosopherCollection
	}
	return payload
}

func (s *QdrantStore) embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, errors.New("embedder returned no vector")
	}
	if err := s.checkDimension(vectors[0]); err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (s *QdrantStore) checkDimension(vector []float32) error {
	if s.vectorSize > 0 && uint64(len(vector)) != s.vectorSize {
		return fmt.Errorf("%w: got %d, collection expects %d", ErrDimensionMismatch, len(vector), s.vectorSize)
	}
	return nil
}

func (s *QdrantStore) upsert(ctx context.Context, pointID string, vector []float32, payload map[string]any) error {
	values, err := qdrant.TryValueMap(payload)
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(pointID),
			Vectors: qdrant.NewVectorsDense(vector),
			Payload: values,
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}
	return nil
}

// Upload embeds the message content and upserts it under its point id
func (s *QdrantStore) Upload(ctx context.Context, msg *models.Message) (string, error) {
	vector, err := s.embed(ctx, msg.Content)
	if err != nil {
		return "", err
	}

	pointID := PointID(msg.MessageID)
	if err := s.upsert(ctx, pointID, vector, messagePayload(msg)); err != nil {
		return "", err
	}

	s.log.Debug("Uploaded message vector",
		zap.String("message_id", msg.MessageID),
		zap.String("point_id", pointID),
	)
	return pointID, nil
}

// FetchPayload returns the payload of a point with its vector under
// VectorPayloadKey, or nil when the point does not exist
func (s *QdrantStore) FetchPayload(ctx context.Context, pointID string) (map[string]any, error) {
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(pointID)},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get point: %w", err)
	}
	if len(points) == 0 {
		return nil, nil
	}

	point := points[0]
	payload := make(map[string]any, len(point.GetPayload())+1)
	for key, value := range point.GetPayload() {
		payload[key] = fromValue(value)
	}

	if vector := denseVector(point.GetVectors()); len(vector) > 0 {
		list := make([]any, len(vector))
		for i, v := range vector {
			list[i] = float64(v)
		}
		payload[VectorPayloadKey] = list
	}
	return payload, nil
}

// ImportPayload restores an exported payload. Without a stored vector the
// content is embedded again.
func (s *QdrantStore) ImportPayload(ctx context.Context, pointID string, payload map[string]any) error {
	fields := make(map[string]any, len(payload))
	for key, value := range payload {
		if key != VectorPayloadKey {
			fields[key] = value
		}
	}

	vector, err := vectorFromPayload(payload[VectorPayloadKey])
	if err != nil {
		return err
	}
	if vector == nil {
		content, ok := fields["content"].(string)
		if !ok || content == "" {
			return errors.New("payload has neither a vector nor content to embed")
		}
		if vector, err = s.embed(ctx, content); err != nil {
			return err
		}
	} else if err := s.checkDimension(vector); err != nil {
		return err
	}

	return s.upsert(ctx, pointID, vector, fields)
}

// UpdateSessionMetadata sets session_id on every given point
func (s *QdrantStore) UpdateSessionMetadata(ctx context.Context, pointIDs []string, oldSession, newSession string) (int, error) {
	if len(pointIDs) == 0 {
		return 0, nil
	}

	ids := make([]*qdrant.PointId, len(pointIDs))
	for i, id := range pointIDs {
		ids[i] = qdrant.NewID(id)
	}

	_, err := s.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Payload:        qdrant.NewValueMap(map[string]any{"session_id": newSession}),
		PointsSelector: qdrant.NewPointsSelector(ids...),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to update session payload: %w", err)
	}

	s.log.Info("Updated session payload",
		zap.String("old_session_id", oldSession),
		zap.String("new_session_id", newSession),
		zap.Int("points", len(pointIDs)),
	)
	return len(pointIDs), nil
}

func denseVector(vectors *qdrant.VectorsOutput) []float32 {
	vector := vectors.GetVector()
	if vector == nil {
		return nil
	}
	if dense := vector.GetDense(); dense != nil {
		return dense.GetData()
	}
	return vector.GetData()
}

func vectorFromPayload(raw any) ([]float32, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []float32:
		return v, nil
	case []float64:
		out := make([]float32, len(v))
		for i, f := range v {
			out[i] = float32(f)
		}
		return out, nil
	case []any:
		out := make([]float32, len(v))
		for i, item := range v {
			f, ok := item.(float64)
			if !ok {
				return nil, fmt.Errorf("vector element %d is %T, not a number", i, item)
			}
			out[i] = float32(f)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported vector type %T", raw)
	}
}

// fromValue converts a Qdrant payload value into plain Go values
func fromValue(value *qdrant.Value) any {
	switch kind := value.GetKind().(type) {
	case *qdrant.Value_NullValue:
		return nil
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_StructValue:
		fields := kind.StructValue.GetFields()
		out := make(map[string]any, len(fields))
		for key, v := range fields {
			out[key] = fromValue(v)
		}
		return out
	case *qdrant.Value_ListValue:
		values := kind.ListValue.GetValues()
		out := make([]any, len(values))
		for i, v := range values {
			out[i] = fromValue(v)
		}
		return out
	default:
		return nil
	}
}
