package usecase

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/jinzhu/copier"

	"github.com/poselab/interhand3d/pkg/camera"
	"github.com/poselab/interhand3d/pkg/model"
)

// Supported evaluation metrics.
const (
	MetricMRRPE         = "MRRPE"
	MetricMPJPE         = "MPJPE"
	MetricHandednessAcc = "Handedness_acc"
)

// ResultFileName is the results file written into the output folder before
// metric computation. It is the contract surface for follow-on tooling.
const ResultFileName = "result_keypoints.json"

var allowedMetrics = []string{MetricMRRPE, MetricMPJPE, MetricHandednessAcc}

// MetricValue is one named metric result. Evaluate returns them in a fixed
// report order.
type MetricValue struct {
	Name  string
	Value float64
}

// Evaluator matches model output batches against the built database and
// computes the requested metrics.
type Evaluator struct {
	cfg   Config
	db    []*model.Sample
	index AnnotationIndex
	log   *slog.Logger
}

// NewEvaluator wires an Evaluator over a built database.
func NewEvaluator(cfg Config, db []*model.Sample, index AnnotationIndex, log *slog.Logger) *Evaluator {
	if log == nil {
		log = slog.Default()
	}
	return &Evaluator{cfg: cfg, db: db, index: index, log: log}
}

// Evaluate writes the deduplicated predictions to ResultFileName under
// resFolder and computes the requested metrics. With no metrics given it
// defaults to MPJPE. The whole run is all-or-nothing: the first error aborts.
func (e *Evaluator) Evaluate(outputs []*model.Output, resFolder string, metrics ...string) ([]MetricValue, error) {
	if len(metrics) == 0 {
		metrics = []string{MetricMPJPE}
	}
	for _, m := range metrics {
		if !isAllowedMetric(m) {
			return nil, fmt.Errorf("evaluate: metric %s is not supported", m)
		}
	}
	if err := validateOutputs(outputs, metrics); err != nil {
		return nil, err
	}

	kpts, err := e.collectKeypoints(outputs)
	if err != nil {
		return nil, err
	}
	kpts = sortAndUniqueKpts(kpts)

	if len(kpts) != len(e.db) {
		return nil, fmt.Errorf("evaluate: got %d predictions for %d database samples", len(kpts), len(e.db))
	}

	resFile := filepath.Join(resFolder, ResultFileName)
	if err := writeKeypointResults(kpts, resFile); err != nil {
		return nil, err
	}
	e.log.Info("keypoint results written", "file", resFile, "samples", len(kpts))

	return e.reportMetric(resFile, metrics)
}

func isAllowedMetric(name string) bool {
	for _, m := range allowedMetrics {
		if m == name {
			return true
		}
	}
	return false
}

// validateOutputs runs one validation pass per requested metric before any
// computation: a metric whose prediction field is missing from any batch is a
// fatal, metric-named error.
func validateOutputs(outputs []*model.Output, metrics []string) error {
	for _, m := range metrics {
		for i, out := range outputs {
			switch m {
			case MetricMPJPE:
				if out.Preds == nil {
					return fmt.Errorf("evaluate: metric MPJPE requires preds, missing in batch %d", i)
				}
			case MetricHandednessAcc:
				if out.HandType == nil {
					return fmt.Errorf("evaluate: metric Handedness_acc requires hand_type, missing in batch %d", i)
				}
			case MetricMRRPE:
				// MRRPE reconstructs wrist positions from predicted
				// keypoints, so it needs both fields.
				if out.RelRootDepth == nil {
					return fmt.Errorf("evaluate: metric MRRPE requires rel_root_depth, missing in batch %d", i)
				}
				if out.Preds == nil {
					return fmt.Errorf("evaluate: metric MRRPE requires preds, missing in batch %d", i)
				}
			}
		}
	}
	return nil
}

// collectKeypoints flattens the output batches into one result entry per
// prediction, matched to the database via the path-to-id lookup.
func (e *Evaluator) collectKeypoints(outputs []*model.Output) ([]model.ResultKeypoint, error) {
	var kpts []model.ResultKeypoint

	for _, out := range outputs {
		batchSize := len(out.ImagePaths)
		if len(out.Boxes) != batchSize || len(out.BboxIDs) != batchSize {
			return nil, fmt.Errorf("evaluate: batch fields disagree on size: %d paths, %d boxes, %d bbox ids",
				batchSize, len(out.Boxes), len(out.BboxIDs))
		}
		if out.Preds != nil && len(out.Preds) != batchSize {
			return nil, fmt.Errorf("evaluate: batch holds %d preds for %d samples", len(out.Preds), batchSize)
		}
		if out.HandType != nil && len(out.HandType) != batchSize {
			return nil, fmt.Errorf("evaluate: batch holds %d hand types for %d samples", len(out.HandType), batchSize)
		}
		if out.RelRootDepth != nil && len(out.RelRootDepth) != batchSize {
			return nil, fmt.Errorf("evaluate: batch holds %d root depths for %d samples", len(out.RelRootDepth), batchSize)
		}

		for i := 0; i < batchSize; i++ {
			name := out.ImagePaths[i]
			if len(name) >= len(e.cfg.ImgPrefix) {
				name = name[len(e.cfg.ImgPrefix):]
			}
			imageID, ok := e.index.NameToID(name)
			if !ok {
				return nil, fmt.Errorf("evaluate: image path %q not found in annotation index", out.ImagePaths[i])
			}

			kpt := model.ResultKeypoint{
				Center:  [2]float64{out.Boxes[i][0], out.Boxes[i][1]},
				Scale:   [2]float64{out.Boxes[i][2], out.Boxes[i][3]},
				Area:    out.Boxes[i][4],
				Score:   out.Boxes[i][5],
				ImageID: imageID,
				BboxID:  out.BboxIDs[i],
			}
			if out.Preds != nil {
				kpt.Keypoints = out.Preds[i]
			}
			if out.HandType != nil {
				ht := [2]int{int(out.HandType[i][0]), int(out.HandType[i][1])}
				hs := [2]float64{out.HandType[i][2], out.HandType[i][3]}
				kpt.HandType = &ht
				kpt.HandTypeScore = &hs
			}
			if out.RelRootDepth != nil {
				d := out.RelRootDepth[i]
				kpt.RelRootDepth = &d
			}
			kpts = append(kpts, kpt)
		}
	}

	return kpts, nil
}

// sortAndUniqueKpts orders the entries by (image id, bbox id) and drops
// duplicate pairs, keeping the last-seen entry of each. Stable sorting makes
// "last in the run" equal "last seen" regardless of batch order.
func sortAndUniqueKpts(kpts []model.ResultKeypoint) []model.ResultKeypoint {
	sort.SliceStable(kpts, func(i, j int) bool {
		if kpts[i].ImageID != kpts[j].ImageID {
			return kpts[i].ImageID < kpts[j].ImageID
		}
		return kpts[i].BboxID < kpts[j].BboxID
	})

	uniq := make([]model.ResultKeypoint, 0, len(kpts))
	for i, k := range kpts {
		if i+1 < len(kpts) && kpts[i+1].ImageID == k.ImageID && kpts[i+1].BboxID == k.BboxID {
			continue
		}
		uniq = append(uniq, k)
	}
	return uniq
}

// writeKeypointResults persists the result entries as one JSON array. The
// encoding is fully deterministic for identical inputs.
func writeKeypointResults(kpts []model.ResultKeypoint, resFile string) error {
	data, err := json.MarshalIndent(kpts, "", "    ")
	if err != nil {
		return fmt.Errorf("evaluate: encode results: %w", err)
	}
	if err := os.WriteFile(resFile, data, 0o644); err != nil {
		return fmt.Errorf("evaluate: write %s: %w", resFile, err)
	}
	return nil
}

// reportMetric reads the persisted results back and computes the requested
// metrics against the database, in the fixed report order.
func (e *Evaluator) reportMetric(resFile string, metrics []string) ([]MetricValue, error) {
	raw, err := os.ReadFile(resFile)
	if err != nil {
		return nil, fmt.Errorf("evaluate: read %s: %w", resFile, err)
	}
	var preds []model.ResultKeypoint
	if err := json.Unmarshal(raw, &preds); err != nil {
		return nil, fmt.Errorf("evaluate: decode %s: %w", resFile, err)
	}
	if len(preds) != len(e.db) {
		return nil, fmt.Errorf("evaluate: results file holds %d entries for %d database samples", len(preds), len(e.db))
	}

	wantMRRPE := containsMetric(metrics, MetricMRRPE)
	wantMPJPE := containsMetric(metrics, MetricMPJPE)
	wantHandedness := containsMetric(metrics, MetricHandednessAcc)

	n := len(preds)
	var (
		gtsRelRoot    [][]mgl64.Vec3
		predsRelRoot  [][]mgl64.Vec3
		relRootMasks  [][]bool
		gtsJointCam   [][]mgl64.Vec3
		predsJointCam [][]mgl64.Vec3
		singleMasks   [][]bool
		interMasks    [][]bool
		allMasks      [][]bool
		gtsHandType   [][2]int
		predsHandType [][2]int
		handTypeMasks []bool
	)

	for i := 0; i < n; i++ {
		pred := preds[i]
		item := e.db[i]

		if wantMRRPE {
			l, g, ok, err := e.relRootError(pred, item)
			if err != nil {
				return nil, err
			}
			predsRelRoot = append(predsRelRoot, l)
			gtsRelRoot = append(gtsRelRoot, g)
			relRootMasks = append(relRootMasks, []bool{ok})
		}

		if wantMPJPE {
			predCam, gtCam, mask, err := e.rootCenteredJoints(pred, item)
			if err != nil {
				return nil, err
			}
			predsJointCam = append(predsJointCam, predCam)
			gtsJointCam = append(gtsJointCam, gtCam)

			empty := make([]bool, model.NumKeypoints)
			if isInteracting(item.HandType) {
				singleMasks = append(singleMasks, empty)
				interMasks = append(interMasks, mask)
			} else {
				singleMasks = append(singleMasks, mask)
				interMasks = append(interMasks, empty)
			}
			allMasks = append(allMasks, mask)
		}

		if wantHandedness {
			if pred.HandType == nil {
				return nil, fmt.Errorf("evaluate: metric Handedness_acc requires hand_type, missing for bbox %d", pred.BboxID)
			}
			predsHandType = append(predsHandType, *pred.HandType)
			gtsHandType = append(gtsHandType, item.HandType)
			handTypeMasks = append(handTypeMasks, item.HandTypeValid)
		}
	}

	var results []MetricValue
	if wantMRRPE {
		v, err := meanEuclidean(predsRelRoot, gtsRelRoot, relRootMasks)
		if err != nil {
			return nil, fmt.Errorf("evaluate: MRRPE: %w", err)
		}
		results = append(results, MetricValue{Name: MetricMRRPE, Value: v})
	}
	if wantMPJPE {
		for _, part := range []struct {
			name string
			mask [][]bool
		}{
			{"MPJPE_all", allMasks},
			{"MPJPE_single", singleMasks},
			{"MPJPE_interacting", interMasks},
		} {
			v, err := meanEuclidean(predsJointCam, gtsJointCam, part.mask)
			if err != nil {
				return nil, fmt.Errorf("evaluate: %s: %w", part.name, err)
			}
			results = append(results, MetricValue{Name: part.name, Value: v})
		}
	}
	if wantHandedness {
		v, err := multiLabelAccuracy(predsHandType, gtsHandType, handTypeMasks)
		if err != nil {
			return nil, fmt.Errorf("evaluate: Handedness_acc: %w", err)
		}
		results = append(results, MetricValue{Name: MetricHandednessAcc, Value: v})
	}

	for _, r := range results {
		e.log.Info("metric", "name", r.Name, "value", r.Value)
	}

	return results, nil
}

// relRootError reconstructs the predicted left-minus-right wrist offset in
// camera space. Samples that are not interacting, or whose wrists are not
// both visible, are masked out with zero placeholders.
func (e *Evaluator) relRootError(pred model.ResultKeypoint, item *model.Sample) (predRel, gtRel []mgl64.Vec3, valid bool, err error) {
	if !isInteracting(item.HandType) ||
		item.JointsVisible[model.RightWrist] <= 0 ||
		item.JointsVisible[model.LeftWrist] <= 0 {
		return []mgl64.Vec3{{}}, []mgl64.Vec3{{}}, false, nil
	}
	if pred.Keypoints == nil || pred.RelRootDepth == nil {
		return nil, nil, false, fmt.Errorf("evaluate: metric MRRPE requires keypoints and rel_root_depth, missing for bbox %d", pred.BboxID)
	}

	// Both wrists are anchored at the right wrist's ground-truth absolute
	// depth; the left wrist adds the predicted relative root depth.
	left := mgl64.Vec3{
		pred.Keypoints[model.LeftWrist][0],
		pred.Keypoints[model.LeftWrist][1],
		pred.Keypoints[model.LeftWrist][2] + item.AbsDepth[0] + *pred.RelRootDepth,
	}
	right := mgl64.Vec3{
		pred.Keypoints[model.RightWrist][0],
		pred.Keypoints[model.RightWrist][1],
		pred.Keypoints[model.RightWrist][2] + item.AbsDepth[0],
	}
	leftCam := camera.PixelToCamPoint(left, item.Focal, item.Princpt)
	rightCam := camera.PixelToCamPoint(right, item.Focal, item.Princpt)

	predRel = []mgl64.Vec3{leftCam.Sub(rightCam)}
	gtRel = []mgl64.Vec3{item.JointsCam[model.LeftWrist].Sub(item.JointsCam[model.RightWrist])}
	return predRel, gtRel, true, nil
}

// rootCenteredJoints reconstructs predicted camera-space joints from pixel
// coordinates plus per-hand absolute depth, then recenters both prediction
// and ground truth on each hand's wrist. The database record is cloned first
// and never mutated.
func (e *Evaluator) rootCenteredJoints(pred model.ResultKeypoint, item *model.Sample) (predCam, gtCam []mgl64.Vec3, mask []bool, err error) {
	if len(pred.Keypoints) != model.NumKeypoints {
		return nil, nil, nil, fmt.Errorf("evaluate: metric MPJPE requires %d keypoints, got %d for bbox %d",
			model.NumKeypoints, len(pred.Keypoints), pred.BboxID)
	}

	var gt model.Sample
	if err := copier.CopyWithOption(&gt, item, copier.Option{DeepCopy: true}); err != nil {
		return nil, nil, nil, fmt.Errorf("evaluate: clone sample %d: %w", item.BboxID, err)
	}

	predImg := make([]mgl64.Vec3, model.NumKeypoints)
	for j := 0; j < model.NumKeypoints; j++ {
		depth := item.AbsDepth[0]
		if j >= model.JointsPerHand {
			depth = item.AbsDepth[1]
		}
		predImg[j] = mgl64.Vec3{
			pred.Keypoints[j][0],
			pred.Keypoints[j][1],
			pred.Keypoints[j][2] + depth,
		}
	}
	predCam = camera.PixelToCam(predImg, item.Focal, item.Princpt)

	recenterOnWrists(predCam)
	recenterOnWrists(gt.JointsCam)

	mask = make([]bool, model.NumKeypoints)
	for j := range mask {
		mask[j] = item.JointsVisible[j] > 0
	}
	return predCam, gt.JointsCam, mask, nil
}

// recenterOnWrists subtracts each hand's wrist position from its 21 joints,
// in place.
func recenterOnWrists(joints []mgl64.Vec3) {
	rightRoot := joints[model.RightWrist]
	leftRoot := joints[model.LeftWrist]
	for j := 0; j < model.JointsPerHand; j++ {
		joints[j] = joints[j].Sub(rightRoot)
	}
	for j := model.JointsPerHand; j < model.NumKeypoints; j++ {
		joints[j] = joints[j].Sub(leftRoot)
	}
}

func isInteracting(handType [2]int) bool {
	return handType[0] == 1 && handType[1] == 1
}

func containsMetric(metrics []string, name string) bool {
	for _, m := range metrics {
		if m == name {
			return true
		}
	}
	return false
}
