package qdrant

import (
	"context"
	"sort"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"

	"github.com/jllopis/kluster/pkg/cluster"
	kerrors "github.com/jllopis/kluster/pkg/errors"
)

// fakePoints keeps collections in memory and implements the PointsClient calls the store uses.
type fakePoints struct {
	pb.PointsClient
	collections map[string]map[string]*pb.RetrievedPoint
	setPayloads int
	upserts     int
}

func newFakePoints() *fakePoints {
	return &fakePoints{collections: make(map[string]map[string]*pb.RetrievedPoint)}
}

func (f *fakePoints) collection(name string) map[string]*pb.RetrievedPoint {
	c, ok := f.collections[name]
	if !ok {
		c = make(map[string]*pb.RetrievedPoint)
		f.collections[name] = c
	}
	return c
}

func (f *fakePoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	f.upserts++
	c := f.collection(in.GetCollectionName())
	for _, ps := range in.GetPoints() {
		payload := make(map[string]*pb.Value, len(ps.GetPayload()))
		for k, v := range ps.GetPayload() {
			payload[k] = v
		}
		c[ps.GetId().GetUuid()] = &pb.RetrievedPoint{Id: ps.GetId(), Payload: payload}
	}
	return &pb.PointsOperationResponse{}, nil
}

func (f *fakePoints) Get(_ context.Context, in *pb.GetPoints, _ ...grpc.CallOption) (*pb.GetResponse, error) {
	c := f.collection(in.GetCollectionName())
	resp := &pb.GetResponse{}
	for _, id := range in.GetIds() {
		if r, ok := c[id.GetUuid()]; ok {
			resp.Result = append(resp.Result, r)
		}
	}
	return resp, nil
}

func (f *fakePoints) SetPayload(_ context.Context, in *pb.SetPayloadPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	f.setPayloads++
	c := f.collection(in.GetCollectionName())
	for _, id := range in.GetPointsSelector().GetPoints().GetIds() {
		r, ok := c[id.GetUuid()]
		if !ok {
			continue
		}
		for k, v := range in.GetPayload() {
			r.Payload[k] = v
		}
	}
	return &pb.PointsOperationResponse{}, nil
}

func (f *fakePoints) Scroll(_ context.Context, in *pb.ScrollPoints, _ ...grpc.CallOption) (*pb.ScrollResponse, error) {
	c := f.collection(in.GetCollectionName())
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	resp := &pb.ScrollResponse{}
	for _, k := range keys {
		if matches(c[k], in.GetFilter()) {
			resp.Result = append(resp.Result, c[k])
		}
	}
	return resp, nil
}

func matches(r *pb.RetrievedPoint, filter *pb.Filter) bool {
	for _, cond := range filter.GetMust() {
		field := cond.GetField()
		want := field.GetMatch().GetKeyword()
		found := false
		for _, v := range r.GetPayload()[field.GetKey()].GetListValue().GetValues() {
			if v.GetStringValue() == want {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func newTestStore(f *fakePoints) *Store {
	return &Store{
		client:    f,
		points:    "movies",
		centroids: "centroids",
		dim:       cluster.DefaultDimension,
		tracer:    otel.Tracer("kluster/store/qdrant"),
	}
}

func seedScenario(t *testing.T, s *Store) {
	t.Helper()
	err := s.Seed(context.Background(),
		[]cluster.Point{
			{ID: "m1", Features: cluster.Vector{0, 0}, Labels: []string{"Drama"}, Cluster: cluster.Vector{0, 0}},
			{ID: "m2", Features: cluster.Vector{0, 1}, Labels: []string{"Drama"}},
			{ID: "m3", Features: cluster.Vector{10, 0}, Labels: []string{"Drama"}},
			{ID: "m4", Features: cluster.Vector{10, 1}, Labels: []string{"Drama", "Comedy"}},
		},
		[]cluster.Centroid{
			{ID: "c1", Coords: cluster.Vector{0, 0}},
			{ID: "c2", Coords: cluster.Vector{10, 0}},
		},
	)
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func TestWriteAssignmentsMatchedAndModified(t *testing.T) {
	f := newFakePoints()
	s := newTestStore(f)
	seedScenario(t, s)
	f.setPayloads = 0

	res, err := s.WriteAssignments(context.Background(), []cluster.Assignment{
		{PointID: "m1", Coords: cluster.Vector{0, 0}},
		{PointID: "m2", Coords: cluster.Vector{0, 0}},
		{PointID: "m3", Coords: cluster.Vector{10, 0}},
		{PointID: "m4", Coords: cluster.Vector{10, 0}},
		{PointID: "ghost", Coords: cluster.Vector{10, 0}},
	})
	if err != nil {
		t.Fatalf("WriteAssignments failed: %v", err)
	}
	if res != (cluster.BulkResult{Matched: 4, Modified: 3}) {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.setPayloads != 2 {
		t.Fatalf("expected one SetPayload per distinct centroid, got %d", f.setPayloads)
	}

	points, err := s.FetchPoints(context.Background(), "Drama")
	if err != nil {
		t.Fatalf("FetchPoints failed: %v", err)
	}
	for _, p := range points {
		want := cluster.Vector{0, 0}
		if p.Features[0] == 10 {
			want = cluster.Vector{10, 0}
		}
		if !p.Cluster.Equal(want) {
			t.Errorf("point %s assigned to %v, want %v", p.ID, p.Cluster, want)
		}
	}

	res, err = s.WriteAssignments(context.Background(), []cluster.Assignment{{PointID: "m2", Coords: cluster.Vector{0, 0}}})
	if err != nil {
		t.Fatalf("WriteAssignments failed: %v", err)
	}
	if res != (cluster.BulkResult{Matched: 1, Modified: 0}) || f.setPayloads != 2 {
		t.Fatalf("expected unchanged rewrite to skip SetPayload, got %+v (%d calls)", res, f.setPayloads)
	}
}

func TestWriteCentroidUpdatesUnchangedIsNotModified(t *testing.T) {
	f := newFakePoints()
	s := newTestStore(f)
	seedScenario(t, s)
	f.upserts = 0

	res, err := s.WriteCentroidUpdates(context.Background(), []cluster.CentroidUpdate{
		{CentroidID: "c1", Coords: cluster.Vector{0, 0}},
		{CentroidID: "c2", Coords: cluster.Vector{10, 0.5}},
		{CentroidID: "c9", Coords: cluster.Vector{1, 1}},
	})
	if err != nil {
		t.Fatalf("WriteCentroidUpdates failed: %v", err)
	}
	if res != (cluster.BulkResult{Matched: 2, Modified: 1}) {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.upserts != 1 {
		t.Fatalf("expected a single upsert, got %d", f.upserts)
	}

	centroids, err := s.FetchCentroids(context.Background())
	if err != nil {
		t.Fatalf("FetchCentroids failed: %v", err)
	}
	if len(centroids) != 2 || centroids[0].ID != "c1" || centroids[1].ID != "c2" {
		t.Fatalf("expected seed order to survive the update, got %+v", centroids)
	}
	if !centroids[1].Coords.Equal(cluster.Vector{10, 0.5}) {
		t.Fatalf("unexpected c2 coords %v", centroids[1].Coords)
	}

	res, err = s.WriteCentroidUpdates(context.Background(), []cluster.CentroidUpdate{{CentroidID: "c2", Coords: cluster.Vector{10, 0.5}}})
	if err != nil {
		t.Fatalf("WriteCentroidUpdates failed: %v", err)
	}
	if res.Modified != 0 || f.upserts != 1 {
		t.Fatalf("expected unchanged centroid to count as not modified, got %+v", res)
	}
}

func TestLoopConvergesOnQdrant(t *testing.T) {
	s := newTestStore(newFakePoints())
	seedScenario(t, s)

	loop, err := cluster.NewLoop(s, s)
	if err != nil {
		t.Fatalf("NewLoop failed: %v", err)
	}
	res, err := loop.Run(context.Background(), "Drama", 10)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.State != cluster.StateConverged || res.Iterations != 2 {
		t.Fatalf("expected CONVERGED after 2 rounds, got %s after %d", res.State, res.Iterations)
	}
	if res.Rounds[0].Centroids != (cluster.BulkResult{Matched: 2, Modified: 2}) {
		t.Fatalf("unexpected round 1 centroids %+v", res.Rounds[0].Centroids)
	}
	if res.Rounds[1].Centroids.Modified != 0 {
		t.Fatalf("unexpected round 2 centroids %+v", res.Rounds[1].Centroids)
	}

	again, err := loop.Run(context.Background(), "Drama", 10)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if again.State != cluster.StateConverged || again.Iterations != 1 {
		t.Fatalf("expected CONVERGED after 1 round, got %s after %d", again.State, again.Iterations)
	}
}

func TestCorruptedCentroidPayloadIsDataShape(t *testing.T) {
	f := newFakePoints()
	s := newTestStore(f)
	seedScenario(t, s)
	c1 := f.collection("centroids")[PointID("c1").GetUuid()]
	c1.Payload[fieldCoords] = stringListValue([]string{"0", "0"})

	if _, err := s.FetchCentroids(context.Background()); !kerrors.HasCode(err, kerrors.CodeDataShape) {
		t.Fatalf("expected DATA_SHAPE_ERROR, got %v", err)
	}

	loop, _ := cluster.NewLoop(s, s)
	if _, err := loop.Run(context.Background(), "Drama", 5); !kerrors.HasCode(err, kerrors.CodeDataShape) {
		t.Fatalf("expected run to abort with DATA_SHAPE_ERROR, got %v", err)
	}
}
