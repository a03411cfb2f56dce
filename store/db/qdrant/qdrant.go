// Package qdrant implements the vector store driver on a qdrant instance
// over its gRPC API.
package qdrant

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hrygo/siyuan-companion/internal/profile"
	"github.com/hrygo/siyuan-companion/store"
)

// defaultPort is qdrant's gRPC port.
const defaultPort = 6334

// DB implements store.Driver on a single qdrant collection.
type DB struct {
	client     *qdrant.Client
	profile    *profile.Profile
	collection string
}

// NewDB opens a qdrant client for the location in the profile. The location
// accepts "host:port" or an http(s) URL; an https scheme enables TLS.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	host, port, useTLS, err := parseLocation(profile.QdrantLocation)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create qdrant client")
	}

	return &DB{
		client:     client,
		profile:    profile,
		collection: profile.CollectionName,
	}, nil
}

func parseLocation(location string) (host string, port int, useTLS bool, err error) {
	if location == "" {
		return "localhost", defaultPort, false, nil
	}

	switch {
	case strings.HasPrefix(location, "https://"):
		location = strings.TrimPrefix(location, "https://")
		useTLS = true
	case strings.HasPrefix(location, "http://"):
		location = strings.TrimPrefix(location, "http://")
	}
	location = strings.TrimSuffix(location, "/")

	host = location
	port = defaultPort

	if idx := strings.LastIndex(location, ":"); idx >= 0 {
		host = location[:idx]
		port, err = strconv.Atoi(location[idx+1:])
		if err != nil {
			return "", 0, false, errors.Errorf("invalid qdrant location %q", location)
		}
	}

	if host == "" {
		return "", 0, false, errors.Errorf("invalid qdrant location %q", location)
	}

	return host, port, useTLS, nil
}

// EnsureCollection creates the collection with cosine distance if it does
// not exist, and verifies the vector dimension if it does.
func (d *DB) EnsureCollection(ctx context.Context, dim int) error {
	exists, err := d.client.CollectionExists(ctx, d.collection)
	if err != nil {
		return errors.Wrap(err, "failed to check qdrant collection")
	}

	if !exists {
		return d.createCollection(ctx, dim)
	}

	info, err := d.client.GetCollectionInfo(ctx, d.collection)
	if err != nil {
		return errors.Wrap(err, "failed to inspect qdrant collection")
	}

	size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
	if size != uint64(dim) {
		return errors.Errorf("collection %s stores %d-dimensional vectors, embedder produces %d",
			d.collection, size, dim)
	}

	return nil
}

func (d *DB) createCollection(ctx context.Context, dim int) error {
	err := d.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: d.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return errors.Wrapf(err, "failed to create qdrant collection %s", d.collection)
	}

	return nil
}

func (d *DB) Upsert(ctx context.Context, points []store.Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, len(points))
	for i, point := range points {
		structs[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(point.ID),
			Vectors: qdrant.NewVectors(point.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"blockId":    point.Payload.BlockID,
				"documentId": point.Payload.DocumentID,
				"content":    point.Payload.Content,
			}),
		}
	}

	wait := true
	_, err := d.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: d.collection,
		Points:         structs,
		Wait:           &wait,
	})
	if err != nil {
		return errors.Wrap(err, "failed to upsert points")
	}

	return nil
}

func (d *DB) Delete(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDNum(id)
	}

	wait := true
	_, err := d.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: d.collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
		Wait:           &wait,
	})
	if err != nil {
		return errors.Wrap(err, "failed to delete points")
	}

	return nil
}

func (d *DB) Query(ctx context.Context, vector []float32, limit int) ([]store.Hit, error) {
	limitU := uint64(limit)

	results, err := d.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: d.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limitU,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		// An empty or missing index is not a failure, just no results.
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to query points")
	}

	hits := make([]store.Hit, len(results))
	for i, point := range results {
		payload := point.GetPayload()
		hits[i] = store.Hit{
			ID:    point.GetId().GetNum(),
			Score: point.GetScore(),
			Payload: store.Payload{
				BlockID:    payload["blockId"].GetStringValue(),
				DocumentID: payload["documentId"].GetStringValue(),
				Content:    payload["content"].GetStringValue(),
			},
		}
	}

	return hits, nil
}

// Recreate drops the collection and creates it again with identical
// configuration.
func (d *DB) Recreate(ctx context.Context, dim int) error {
	err := d.client.DeleteCollection(ctx, d.collection)
	if err != nil && status.Code(err) != codes.NotFound {
		return errors.Wrapf(err, "failed to drop qdrant collection %s", d.collection)
	}

	return d.createCollection(ctx, dim)
}

func (d *DB) Close() error {
	return d.client.Close()
}
