package semantic

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// VectorStore is the Qdrant-backed similarity index. It is the sole owner
// of all Qdrant operations. Every point carries the embedding model version
// in its payload, and every read is constrained to the active version, so
// vectors from an older model are never matched against a newer query.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	dims        int
	version     string
}

// NewStore creates a VectorStore connected to Qdrant at the given gRPC
// address, pinned to one embedding model version.
func NewStore(addr, collection string, dims int, modelVersion string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		dims:        dims,
		version:     modelVersion,
	}, nil
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error { return v.conn.Close() }

// ModelVersion returns the active embedding model version.
func (v *VectorStore) ModelVersion() string { return v.version }

// EnsureCollection creates the collection if it doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w: %w", ErrUnavailable, err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(v.dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w: %w", v.collection, ErrUnavailable, err)
	}
	return nil
}

// pointID derives a stable UUID from the report id, so re-upserting the
// same report always addresses the same point.
func pointID(reportID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("painsignal:"+reportID)).String()
}

// Upsert stores entries, replacing any prior point per report id.
func (v *VectorStore) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(entries))
	for i, e := range entries {
		if e.ModelVersion != v.version {
			return fmt.Errorf("semantic: upsert %s: %w: have %q, index requires %q",
				e.ReportID, ErrModelVersionMismatch, e.ModelVersion, v.version)
		}
		if len(e.Values) != v.dims {
			return fmt.Errorf("semantic: upsert %s: %w: got %d, want %d",
				e.ReportID, ErrDimensionMismatch, len(e.Values), v.dims)
		}
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(e.ReportID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: e.Values},
				},
			},
			Payload: payloadFromMetadata(e.ReportID, v.version, e.Metadata),
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w: %w", len(points), ErrUnavailable, err)
	}
	return nil
}

// Remove deletes the point for a report id.
func (v *VectorStore) Remove(ctx context.Context, reportID string) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{fieldMatch("report_id", reportID)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: remove %s: %w: %w", reportID, ErrUnavailable, err)
	}
	return nil
}

// Get retrieves the stored point for a report id, vector included.
func (v *VectorStore) Get(ctx context.Context, reportID string) (Entry, bool, error) {
	one := uint32(1)
	resp, err := v.points.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: v.collection,
		Filter: &pb.Filter{
			Must: []*pb.Condition{
				fieldMatch("model_version", v.version),
				fieldMatch("report_id", reportID),
			},
		},
		Limit:       &one,
		WithPayload: &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors: &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("semantic: get %s: %w: %w", reportID, ErrUnavailable, err)
	}
	if len(resp.GetResult()) == 0 {
		return Entry{}, false, nil
	}
	point := resp.GetResult()[0]
	id, meta := metadataFromPayload(point.GetPayload())
	return Entry{
		ReportID:     id,
		Values:       point.GetVectors().GetVector().GetData(),
		ModelVersion: v.version,
		Metadata:     meta,
	}, true, nil
}

// Search performs k-NN cosine search constrained to the active model
// version plus the given metadata equality filters.
func (v *VectorStore) Search(ctx context.Context, vector []float32, modelVersion string, k int, filters map[string]string) ([]SearchResult, error) {
	if modelVersion != v.version {
		return nil, fmt.Errorf("semantic: search: %w: query %q, index %q",
			ErrModelVersionMismatch, modelVersion, v.version)
	}
	if len(vector) != v.dims {
		return nil, fmt.Errorf("semantic: search: %w: got %d, want %d",
			ErrDimensionMismatch, len(vector), v.dims)
	}
	if k <= 0 {
		return nil, nil
	}

	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         vector,
		Limit:          uint64(k),
		Filter:         v.buildFilter(filters),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w: %w", ErrUnavailable, err)
	}

	results := make([]SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		id, meta := metadataFromPayload(r.GetPayload())
		results[i] = SearchResult{ReportID: id, Score: r.GetScore(), Metadata: meta}
	}
	return results, nil
}

// Browse scrolls all matching points and returns the most recent first.
// The corpus is a few thousand points, so a full scroll is acceptable.
func (v *VectorStore) Browse(ctx context.Context, limit int, filters map[string]string) ([]SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}

	filter := v.buildFilter(filters)
	var all []SearchResult
	var offset *pb.PointId
	page := uint32(512)
	for {
		resp, err := v.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: v.collection,
			Filter:         filter,
			Limit:          &page,
			Offset:         offset,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		})
		if err != nil {
			return nil, fmt.Errorf("semantic: browse: %w: %w", ErrUnavailable, err)
		}
		for _, r := range resp.GetResult() {
			id, meta := metadataFromPayload(r.GetPayload())
			all = append(all, SearchResult{ReportID: id, Metadata: meta})
		}
		offset = resp.GetNextPageOffset()
		if offset == nil || len(resp.GetResult()) == 0 {
			break
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Metadata.Timestamp.After(all[j].Metadata.Timestamp)
	})
	if limit > len(all) {
		limit = len(all)
	}
	return all[:limit], nil
}

// Count returns the number of points matching the filters under the active
// model version.
func (v *VectorStore) Count(ctx context.Context, filters map[string]string) (int, error) {
	exact := true
	resp, err := v.points.Count(ctx, &pb.CountPoints{
		CollectionName: v.collection,
		Filter:         v.buildFilter(filters),
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("semantic: count: %w: %w", ErrUnavailable, err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// buildFilter converts metadata equality filters into a Qdrant filter,
// always including the active model version constraint.
func (v *VectorStore) buildFilter(filters map[string]string) *pb.Filter {
	must := make([]*pb.Condition, 0, len(filters)+1)
	must = append(must, fieldMatch("model_version", v.version))
	for k, val := range filters {
		must = append(must, fieldMatch(k, val))
	}
	return &pb.Filter{Must: must}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func payloadFromMetadata(reportID, version string, m Metadata) map[string]*pb.Value {
	payload := map[string]*pb.Value{
		"report_id":     strValue(reportID),
		"model_version": strValue(version),
		"statement":     strValue(m.Statement),
		"method":        strValue(m.Method),
		"category":      strValue(m.Category),
		"source":        strValue(m.Source),
		"technical":     strValue(boolString(m.Technical)),
		"ts":            {Kind: &pb.Value_IntegerValue{IntegerValue: m.Timestamp.Unix()}},
	}
	if m.Title != "" {
		payload["title"] = strValue(m.Title)
	}
	for k, val := range m.Extra {
		if _, reserved := payload[k]; !reserved {
			payload[k] = strValue(val)
		}
	}
	return payload
}

func metadataFromPayload(payload map[string]*pb.Value) (string, Metadata) {
	meta := Metadata{}
	var reportID string
	for k, val := range payload {
		switch k {
		case "report_id":
			reportID = val.GetStringValue()
		case "model_version":
			// implicit, not part of metadata
		case "statement":
			meta.Statement = val.GetStringValue()
		case "method":
			meta.Method = val.GetStringValue()
		case "category":
			meta.Category = val.GetStringValue()
		case "source":
			meta.Source = val.GetStringValue()
		case "technical":
			meta.Technical = val.GetStringValue() == "true"
		case "ts":
			meta.Timestamp = time.Unix(val.GetIntegerValue(), 0).UTC()
		case "title":
			meta.Title = val.GetStringValue()
		default:
			if meta.Extra == nil {
				meta.Extra = make(map[string]string)
			}
			meta.Extra[k] = val.GetStringValue()
		}
	}
	return reportID, meta
}

func strValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
