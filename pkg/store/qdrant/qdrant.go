// Package qdrant stores points and centroids as Qdrant points.
//
// Point payload: point_id, genres (list of labels), kmeansNorm (features) and cluster
// (assigned centroid coordinates). Centroid payload: centroid_id, seq and point.
// Qdrant ids are UUIDs; ids that are not UUIDs are mapped to a name-based UUID.
package qdrant

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jllopis/kluster/pkg/cluster"
	kerrors "github.com/jllopis/kluster/pkg/errors"
	"github.com/jllopis/kluster/pkg/telemetry"
)

const (
	fieldPointID    = "point_id"
	fieldLabels     = "genres"
	fieldFeatures   = "kmeansNorm"
	fieldCluster    = "cluster"
	fieldCentroidID = "centroid_id"
	fieldSeq        = "seq"
	fieldCoords     = "point"

	scrollPageSize = 256
)

// Config configures the Qdrant store.
type Config struct {
	// Addr is the gRPC address. Default: "localhost:6334".
	Addr string
	// PointsCollection holds points. Default: "movies".
	PointsCollection string
	// CentroidsCollection holds centroids. Default: "centroids".
	CentroidsCollection string
	// Dimension is the vector size used when collections are created.
	Dimension int
}

// Store implements cluster.Store on Qdrant.
type Store struct {
	conn        *grpc.ClientConn
	client      pb.PointsClient
	collections pb.CollectionsClient
	points      string
	centroids   string
	dim         int
	tracer      trace.Tracer
}

// New connects to Qdrant and ensures both collections exist.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6334"
	}
	if cfg.PointsCollection == "" {
		cfg.PointsCollection = "movies"
	}
	if cfg.CentroidsCollection == "" {
		cfg.CentroidsCollection = "centroids"
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = cluster.DefaultDimension
	}

	conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("did not connect: %w", err)
	}

	s := &Store{
		conn:        conn,
		client:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		points:      cfg.PointsCollection,
		centroids:   cfg.CentroidsCollection,
		dim:         cfg.Dimension,
		tracer:      otel.Tracer("kluster/store/qdrant"),
	}
	for _, name := range []string{s.points, s.centroids} {
		if err := s.ensureCollection(ctx, name); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close closes the gRPC connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) ensureCollection(ctx context.Context, name string) error {
	if _, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name}); err == nil {
		return nil
	}
	_, err := s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(s.dim),
					Distance: pb.Distance_Euclid,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	return nil
}

func (s *Store) span(ctx context.Context, op string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "qdrant."+op, trace.WithAttributes(telemetry.StoreAttributes("qdrant", op)...))
}

// Seed upserts points and centroids. Centroid order follows the slice order.
func (s *Store) Seed(ctx context.Context, points []cluster.Point, centroids []cluster.Centroid) error {
	ctx, span := s.span(ctx, "seed")
	defer span.End()

	if len(points) > 0 {
		structs := make([]*pb.PointStruct, len(points))
		for i, p := range points {
			payload := map[string]*pb.Value{
				fieldPointID:  stringValue(p.ID),
				fieldLabels:   stringListValue(p.Labels),
				fieldFeatures: vectorValue(p.Features),
			}
			if p.Cluster != nil {
				payload[fieldCluster] = vectorValue(p.Cluster)
			}
			structs[i] = pointStruct(p.ID, p.Features, payload)
		}
		if err := s.upsert(ctx, s.points, structs); err != nil {
			return err
		}
	}
	if len(centroids) > 0 {
		structs := make([]*pb.PointStruct, len(centroids))
		for i, c := range centroids {
			structs[i] = centroidStruct(c.ID, int64(i), c.Coords)
		}
		if err := s.upsert(ctx, s.centroids, structs); err != nil {
			return err
		}
	}
	return nil
}

// FetchPoints scrolls every point whose genres contain label.
func (s *Store) FetchPoints(ctx context.Context, label string) ([]cluster.Point, error) {
	ctx, span := s.span(ctx, "fetch_points")
	defer span.End()

	records, err := s.scroll(ctx, s.points, labelFilter(label))
	if err != nil {
		return nil, err
	}
	points := make([]cluster.Point, 0, len(records))
	for _, r := range records {
		p, err := decodePoint(r)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, nil
}

// WriteAssignments compares against the stored assignments and sets the cluster payload
// of changed points, one SetPayload call per distinct centroid.
func (s *Store) WriteAssignments(ctx context.Context, updates []cluster.Assignment) (cluster.BulkResult, error) {
	ctx, span := s.span(ctx, "write_assignments")
	defer span.End()

	var res cluster.BulkResult
	if len(updates) == 0 {
		return res, nil
	}
	ids := make([]*pb.PointId, len(updates))
	for i, u := range updates {
		ids[i] = PointID(u.PointID)
	}
	current, err := s.get(ctx, s.points, ids)
	if err != nil {
		return res, err
	}

	var order []string
	changed := make(map[string][]*pb.PointId)
	coords := make(map[string]cluster.Vector)
	for i, u := range updates {
		rec, ok := current[ids[i].GetUuid()]
		if !ok {
			continue
		}
		res.Matched++
		old, ok, err := vectorField(rec.GetPayload(), fieldCluster, "point", u.PointID)
		if err != nil {
			return cluster.BulkResult{}, err
		}
		if ok && old.Equal(u.Coords) {
			continue
		}
		res.Modified++
		key := u.Coords.Key()
		if _, seen := changed[key]; !seen {
			order = append(order, key)
			coords[key] = u.Coords
		}
		changed[key] = append(changed[key], ids[i])
	}

	wait := true
	for _, key := range order {
		_, err := s.client.SetPayload(ctx, &pb.SetPayloadPoints{
			CollectionName: s.points,
			Wait:           &wait,
			Payload:        map[string]*pb.Value{fieldCluster: vectorValue(coords[key])},
			PointsSelector: &pb.PointsSelector{
				PointsSelectorOneOf: &pb.PointsSelector_Points{
					Points: &pb.PointsIdsList{Ids: changed[key]},
				},
			},
		})
		if err != nil {
			return cluster.BulkResult{}, fmt.Errorf("failed to set cluster payload: %w", err)
		}
	}
	return res, nil
}

// AggregatePointsByCentroid joins the label's points to centroids client-side.
func (s *Store) AggregatePointsByCentroid(ctx context.Context, label string) ([]cluster.Group, error) {
	points, err := s.FetchPoints(ctx, label)
	if err != nil {
		return nil, err
	}
	centroids, err := s.FetchCentroids(ctx)
	if err != nil {
		return nil, err
	}
	return cluster.GroupByAssignment(points, centroids), nil
}

// FetchCentroids returns all centroids ordered by seed position.
func (s *Store) FetchCentroids(ctx context.Context) ([]cluster.Centroid, error) {
	ctx, span := s.span(ctx, "fetch_centroids")
	defer span.End()

	records, err := s.scroll(ctx, s.centroids, nil)
	if err != nil {
		return nil, err
	}
	type ordered struct {
		seq int64
		c   cluster.Centroid
	}
	list := make([]ordered, 0, len(records))
	for _, r := range records {
		payload := r.GetPayload()
		c := cluster.Centroid{ID: payload[fieldCentroidID].GetStringValue()}
		if c.ID == "" {
			c.ID = r.GetId().GetUuid()
		}
		coords, _, err := vectorField(payload, fieldCoords, "centroid", c.ID)
		if err != nil {
			return nil, err
		}
		c.Coords = coords
		list = append(list, ordered{seq: payload[fieldSeq].GetIntegerValue(), c: c})
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].seq != list[j].seq {
			return list[i].seq < list[j].seq
		}
		return list[i].c.ID < list[j].c.ID
	})
	out := make([]cluster.Centroid, len(list))
	for i, o := range list {
		out[i] = o.c
	}
	return out, nil
}

// WriteCentroidUpdates upserts changed centroids, keeping their seed position.
func (s *Store) WriteCentroidUpdates(ctx context.Context, updates []cluster.CentroidUpdate) (cluster.BulkResult, error) {
	ctx, span := s.span(ctx, "write_centroid_updates")
	defer span.End()

	var res cluster.BulkResult
	if len(updates) == 0 {
		return res, nil
	}
	ids := make([]*pb.PointId, len(updates))
	for i, u := range updates {
		ids[i] = PointID(u.CentroidID)
	}
	current, err := s.get(ctx, s.centroids, ids)
	if err != nil {
		return res, err
	}

	var structs []*pb.PointStruct
	for i, u := range updates {
		rec, ok := current[ids[i].GetUuid()]
		if !ok {
			continue
		}
		res.Matched++
		old, ok, err := vectorField(rec.GetPayload(), fieldCoords, "centroid", u.CentroidID)
		if err != nil {
			return cluster.BulkResult{}, err
		}
		if ok && old.Equal(u.Coords) {
			continue
		}
		res.Modified++
		structs = append(structs, centroidStruct(u.CentroidID, rec.GetPayload()[fieldSeq].GetIntegerValue(), u.Coords))
	}
	if len(structs) > 0 {
		if err := s.upsert(ctx, s.centroids, structs); err != nil {
			return cluster.BulkResult{}, err
		}
	}
	return res, nil
}

func (s *Store) upsert(ctx context.Context, collection string, points []*pb.PointStruct) error {
	wait := true
	_, err := s.client.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

func (s *Store) scroll(ctx context.Context, collection string, filter *pb.Filter) ([]*pb.RetrievedPoint, error) {
	var (
		out    []*pb.RetrievedPoint
		offset *pb.PointId
		limit  = uint32(scrollPageSize)
	)
	for {
		resp, err := s.client.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: collection,
			Filter:         filter,
			Offset:         offset,
			Limit:          &limit,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll %s: %w", collection, err)
		}
		out = append(out, resp.GetResult()...)
		offset = resp.GetNextPageOffset()
		if offset == nil {
			return out, nil
		}
	}
}

func (s *Store) get(ctx context.Context, collection string, ids []*pb.PointId) (map[string]*pb.RetrievedPoint, error) {
	resp, err := s.client.Get(ctx, &pb.GetPoints{
		CollectionName: collection,
		Ids:            ids,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get points from %s: %w", collection, err)
	}
	out := make(map[string]*pb.RetrievedPoint, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		out[r.GetId().GetUuid()] = r
	}
	return out, nil
}

// PointID maps a record id to a Qdrant UUID point id.
func PointID(id string) *pb.PointId {
	u, err := uuid.Parse(id)
	if err != nil {
		u = uuid.NewSHA1(uuid.NameSpaceOID, []byte(id))
	}
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: u.String()}}
}

func labelFilter(label string) *pb.Filter {
	return &pb.Filter{
		Must: []*pb.Condition{{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key:   fieldLabels,
					Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: label}},
				},
			},
		}},
	}
}

func pointStruct(id string, vector cluster.Vector, payload map[string]*pb.Value) *pb.PointStruct {
	data := make([]float32, len(vector))
	for i, x := range vector {
		data[i] = float32(x)
	}
	return &pb.PointStruct{
		Id: PointID(id),
		Vectors: &pb.Vectors{
			VectorsOptions: &pb.Vectors_Vector{
				Vector: &pb.Vector{Data: data},
			},
		},
		Payload: payload,
	}
}

func centroidStruct(id string, seq int64, coords cluster.Vector) *pb.PointStruct {
	return pointStruct(id, coords, map[string]*pb.Value{
		fieldCentroidID: stringValue(id),
		fieldSeq:        {Kind: &pb.Value_IntegerValue{IntegerValue: seq}},
		fieldCoords:     vectorValue(coords),
	})
}

func decodePoint(r *pb.RetrievedPoint) (cluster.Point, error) {
	payload := r.GetPayload()
	p := cluster.Point{ID: payload[fieldPointID].GetStringValue()}
	if p.ID == "" {
		p.ID = r.GetId().GetUuid()
	}
	features, _, err := vectorField(payload, fieldFeatures, "point", p.ID)
	if err != nil {
		return cluster.Point{}, err
	}
	p.Features = features
	assigned, ok, err := vectorField(payload, fieldCluster, "assignment of point", p.ID)
	if err != nil {
		return cluster.Point{}, err
	}
	if ok {
		p.Cluster = assigned
	}
	for _, v := range payload[fieldLabels].GetListValue().GetValues() {
		p.Labels = append(p.Labels, v.GetStringValue())
	}
	if len(p.Labels) == 0 {
		if single := payload[fieldLabels].GetStringValue(); single != "" {
			p.Labels = []string{single}
		}
	}
	return p, nil
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func stringListValue(items []string) *pb.Value {
	values := make([]*pb.Value, len(items))
	for i, s := range items {
		values[i] = stringValue(s)
	}
	return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}}
}

func vectorValue(v cluster.Vector) *pb.Value {
	values := make([]*pb.Value, len(v))
	for i, x := range v {
		values[i] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: x}}
	}
	return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}}
}

// vectorField decodes a numeric list payload field. ok is false when the field is absent
// or not a list. Items that are not numbers are a DATA_SHAPE_ERROR for record id.
func vectorField(payload map[string]*pb.Value, key, kind, id string) (cluster.Vector, bool, error) {
	value, ok := payload[key]
	if !ok || value.GetListValue() == nil {
		return nil, false, nil
	}
	items := value.GetListValue().GetValues()
	out := make(cluster.Vector, len(items))
	for i, item := range items {
		switch v := item.GetKind().(type) {
		case *pb.Value_DoubleValue:
			out[i] = v.DoubleValue
		case *pb.Value_IntegerValue:
			out[i] = float64(v.IntegerValue)
		default:
			return nil, false, kerrors.New(kerrors.CodeDataShape, kind+" has a non-numeric coordinate", nil).
				WithContext("id", id).
				WithContext("field", key).
				WithContext("index", i)
		}
	}
	return out, true, nil
}
