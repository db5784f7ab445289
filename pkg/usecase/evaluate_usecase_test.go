package usecase

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/poselab/interhand3d/pkg/camera"
	"github.com/poselab/interhand3d/pkg/model"
)

// evalSample builds a fully populated ground-truth record with a spread of
// camera-space joints and consistent wrist depths.
func evalSample(bboxID int, handType [2]int) *model.Sample {
	jointsCam := make([]mgl64.Vec3, model.NumKeypoints)
	for j := range jointsCam {
		jointsCam[j] = mgl64.Vec3{
			float64(j)*3 - 60,
			float64(j)*2 - 40,
			400 + float64(j) + float64(bboxID)*10,
		}
	}

	return &model.Sample{
		ImageFile:     fmt.Sprintf("data/img%d.jpg", bboxID),
		Center:        mgl64.Vec2{50, 50},
		Scale:         mgl64.Vec2{0.5, 0.5},
		Joints3D:      nil, // not consumed by evaluation
		JointsVisible: ones(model.NumKeypoints),
		HandType:      handType,
		HandTypeValid: true,
		RelRootDepth:  jointsCam[model.LeftWrist].Z() - jointsCam[model.RightWrist].Z(),
		AbsDepth:      [2]float64{jointsCam[model.RightWrist].Z(), jointsCam[model.LeftWrist].Z()},
		JointsCam:     jointsCam,
		Focal:         mgl64.Vec2{1000, 1000},
		Princpt:       mgl64.Vec2{500, 500},
		Dataset:       model.DatasetName,
		Bbox:          [4]float64{0, 0, 100, 100},
		BboxScore:     1,
		BboxID:        bboxID,
	}
}

// exactPreds projects a record's camera-space joints back into the (pixel x,
// pixel y, wrist-relative depth) prediction format, yielding zero error.
func exactPreds(s *model.Sample) [][3]float64 {
	pix := camera.CamToPixel(s.JointsCam, s.Focal, s.Princpt)
	preds := make([][3]float64, model.NumKeypoints)
	for j := range preds {
		wrist := model.RightWrist
		if j >= model.JointsPerHand {
			wrist = model.LeftWrist
		}
		preds[j] = [3]float64{
			pix[j].X(),
			pix[j].Y(),
			s.JointsCam[j].Z() - s.JointsCam[wrist].Z(),
		}
	}
	return preds
}

// evalFixture registers the samples in a fake index and returns an evaluator
// plus an output batch skeleton (boxes, paths, bbox ids filled in).
func evalFixture(t *testing.T, db []*model.Sample) (*Evaluator, *model.Output) {
	t.Helper()

	idx := newFakeIndex()
	out := &model.Output{}
	for _, s := range db {
		name := strings.TrimPrefix(s.ImageFile, "data/")
		idx.add(model.ImageInfo{ID: 100 + s.BboxID, FileName: name}, model.Annotation{})
		out.Boxes = append(out.Boxes, [6]float64{s.Center.X(), s.Center.Y(), s.Scale.X(), s.Scale.Y(), 1, 1})
		out.ImagePaths = append(out.ImagePaths, s.ImageFile)
		out.BboxIDs = append(out.BboxIDs, s.BboxID)
	}

	cfg := testConfig()
	return NewEvaluator(cfg, db, idx, nil), out
}

func TestEvaluateRejectsUnknownMetric(t *testing.T) {
	e, _ := evalFixture(t, nil)
	if _, err := e.Evaluate(nil, t.TempDir(), "AUC"); err == nil {
		t.Fatal("unknown metric must fail before any computation")
	}
}

func TestEvaluateRejectsMissingPredictionField(t *testing.T) {
	db := []*model.Sample{evalSample(0, [2]int{1, 0})}
	e, out := evalFixture(t, db)
	// No preds in the batch.
	if _, err := e.Evaluate([]*model.Output{out}, t.TempDir(), MetricMPJPE); err == nil {
		t.Fatal("MPJPE without preds must fail")
	} else if !strings.Contains(err.Error(), "MPJPE") {
		t.Errorf("error must name the metric, got: %v", err)
	}

	out.Preds = [][][3]float64{exactPreds(db[0])}
	if _, err := e.Evaluate([]*model.Output{out}, t.TempDir(), MetricMRRPE); err == nil {
		t.Fatal("MRRPE without rel_root_depth must fail")
	} else if !strings.Contains(err.Error(), "MRRPE") {
		t.Errorf("error must name the metric, got: %v", err)
	}

	if _, err := e.Evaluate([]*model.Output{out}, t.TempDir(), MetricHandednessAcc); err == nil {
		t.Fatal("Handedness_acc without hand_type must fail")
	}
}

func TestEvaluateCountMismatch(t *testing.T) {
	db := []*model.Sample{evalSample(0, [2]int{1, 0}), evalSample(1, [2]int{1, 1})}
	e, out := evalFixture(t, db)

	// Drop the second prediction.
	out.Boxes = out.Boxes[:1]
	out.ImagePaths = out.ImagePaths[:1]
	out.BboxIDs = out.BboxIDs[:1]
	out.Preds = [][][3]float64{exactPreds(db[0])}

	if _, err := e.Evaluate([]*model.Output{out}, t.TempDir(), MetricMPJPE); err == nil {
		t.Fatal("prediction count must match the database size")
	}
}

func TestEvaluateMPJPEZeroForExactPredictions(t *testing.T) {
	db := []*model.Sample{evalSample(0, [2]int{1, 0}), evalSample(1, [2]int{1, 1})}
	e, out := evalFixture(t, db)
	out.Preds = [][][3]float64{exactPreds(db[0]), exactPreds(db[1])}

	results, err := e.Evaluate([]*model.Output{out}, t.TempDir(), MetricMPJPE)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	wantNames := []string{"MPJPE_all", "MPJPE_single", "MPJPE_interacting"}
	if len(results) != len(wantNames) {
		t.Fatalf("got %d results, want %d", len(results), len(wantNames))
	}
	for i, r := range results {
		if r.Name != wantNames[i] {
			t.Errorf("result %d = %s, want %s", i, r.Name, wantNames[i])
		}
		if r.Value > 1e-6 {
			t.Errorf("%s = %v, want 0", r.Name, r.Value)
		}
	}
}

func TestEvaluateHandednessAccuracy(t *testing.T) {
	gts := [][2]int{{1, 0}, {0, 1}, {1, 1}, {1, 0}}
	preds := [][2]int{{1, 0}, {0, 1}, {1, 1}, {0, 1}}

	db := make([]*model.Sample, len(gts))
	for i, ht := range gts {
		db[i] = evalSample(i, ht)
	}
	e, out := evalFixture(t, db)
	for _, p := range preds {
		out.HandType = append(out.HandType, [4]float64{float64(p[0]), float64(p[1]), 0.9, 0.9})
	}

	results, err := e.Evaluate([]*model.Output{out}, t.TempDir(), MetricHandednessAcc)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(results) != 1 || results[0].Name != MetricHandednessAcc {
		t.Fatalf("unexpected results: %v", results)
	}
	if results[0].Value != 0.75 {
		t.Errorf("accuracy = %v, want 0.75", results[0].Value)
	}
}

func TestEvaluateMRRPEMasksInvalidSamples(t *testing.T) {
	interacting := evalSample(0, [2]int{1, 1})
	excluded := evalSample(1, [2]int{1, 1})
	// An invisible wrist removes the sample from the average entirely.
	excluded.JointsVisible[model.LeftWrist] = 0

	db := []*model.Sample{interacting, excluded}
	e, out := evalFixture(t, db)

	out.Preds = [][][3]float64{exactPreds(interacting), exactPreds(excluded)}
	// Garbage prediction on the excluded sample must not distort the result.
	out.Preds[1][model.LeftWrist] = [3]float64{9999, 9999, 9999}
	out.RelRootDepth = []float64{interacting.RelRootDepth, 12345}

	results, err := e.Evaluate([]*model.Output{out}, t.TempDir(), MetricMRRPE)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(results) != 1 || results[0].Name != MetricMRRPE {
		t.Fatalf("unexpected results: %v", results)
	}
	if results[0].Value > 1e-6 {
		t.Errorf("MRRPE = %v, want 0 from the single valid sample", results[0].Value)
	}
}

func TestEvaluateMRRPEEmptyMaskFails(t *testing.T) {
	// No interacting samples at all: averaging would divide by zero.
	db := []*model.Sample{evalSample(0, [2]int{1, 0})}
	e, out := evalFixture(t, db)
	out.Preds = [][][3]float64{exactPreds(db[0])}
	out.RelRootDepth = []float64{0}

	_, err := e.Evaluate([]*model.Output{out}, t.TempDir(), MetricMRRPE)
	if !errors.Is(err, ErrNoValidSamples) {
		t.Fatalf("want ErrNoValidSamples, got %v", err)
	}
}

func TestSortAndUniqueKeepsLastSeen(t *testing.T) {
	kpts := []model.ResultKeypoint{
		{ImageID: 2, BboxID: 1, Score: 0.1},
		{ImageID: 1, BboxID: 0, Score: 0.2},
		{ImageID: 1, BboxID: 0, Score: 0.9}, // duplicate, later batch
		{ImageID: 1, BboxID: 3, Score: 0.3},
	}

	got := sortAndUniqueKpts(kpts)

	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	if got[0].ImageID != 1 || got[0].BboxID != 0 || got[0].Score != 0.9 {
		t.Errorf("duplicate resolution kept %+v, want the last-seen entry", got[0])
	}
	if got[1].BboxID != 3 || got[2].ImageID != 2 {
		t.Errorf("entries out of order: %+v", got)
	}
}

func TestEvaluateWritesReproducibleResults(t *testing.T) {
	db := []*model.Sample{evalSample(0, [2]int{1, 0}), evalSample(1, [2]int{1, 1})}
	e, out := evalFixture(t, db)
	out.Preds = [][][3]float64{exactPreds(db[0]), exactPreds(db[1])}

	dirA, dirB := t.TempDir(), t.TempDir()
	if _, err := e.Evaluate([]*model.Output{out}, dirA, MetricMPJPE); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := e.Evaluate([]*model.Output{out}, dirB, MetricMPJPE); err != nil {
		t.Fatalf("second run: %v", err)
	}

	a, err := os.ReadFile(filepath.Join(dirA, ResultFileName))
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(filepath.Join(dirB, ResultFileName))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("results file must be byte-for-byte reproducible")
	}
}

func TestEvaluateDefaultsToMPJPE(t *testing.T) {
	db := []*model.Sample{evalSample(0, [2]int{1, 0}), evalSample(1, [2]int{1, 1})}
	e, out := evalFixture(t, db)
	out.Preds = [][][3]float64{exactPreds(db[0]), exactPreds(db[1])}

	results, err := e.Evaluate([]*model.Output{out}, t.TempDir())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(results) != 3 || results[0].Name != "MPJPE_all" {
		t.Fatalf("unexpected default results: %v", results)
	}
}
