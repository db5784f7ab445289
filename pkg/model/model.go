package model

import (
	"github.com/go-gl/mathgl/mgl64"
)

// Keypoint layout of the two-hand 42-joint skeleton. The right hand occupies
// indexes 0..20 and the left hand mirrors it at 21..41, with the wrist as the
// last joint of each hand.
const (
	NumKeypoints  = 42
	JointsPerHand = 21
	RightWrist    = 20
	LeftWrist     = 41
)

// DatasetName tags every sample record for the downstream pipeline.
const DatasetName = "interhand3d"

// FlipPairs returns the left/right mirror pairs of the keypoint layout.
func FlipPairs() [][2]int {
	pairs := make([][2]int, JointsPerHand)
	for i := range pairs {
		pairs[i] = [2]int{i, JointsPerHand + i}
	}
	return pairs
}

// Sample is one ground-truth record per annotated image. Records are immutable
// once built; the sorted collection is held for the lifetime of an evaluation
// run.
type Sample struct {
	ImageFile string
	Center    mgl64.Vec2
	Scale     mgl64.Vec2
	Rotation  float64

	// Joints3D carries pixel x, pixel y and wrist-relative depth per joint.
	Joints3D      []mgl64.Vec3
	JointsVisible []float64

	HandType      [2]int
	HandTypeValid bool

	// RelRootDepth is the camera-space depth of the left wrist minus the
	// right wrist.
	RelRootDepth float64
	// AbsDepth holds the absolute camera-space depth of the right and left
	// wrist, in that order.
	AbsDepth [2]float64

	// JointsCam is only consumed by evaluation, never by training.
	JointsCam []mgl64.Vec3

	Focal   mgl64.Vec2
	Princpt mgl64.Vec2

	Dataset   string
	Bbox      [4]float64
	BboxScore float64
	BboxID    int
}

// CameraParams holds one capture's calibration, keyed by camera name.
type CameraParams struct {
	Campos  map[string][3]float64    `json:"campos"`
	Camrot  map[string][3][3]float64 `json:"camrot"`
	Focal   map[string][2]float64    `json:"focal"`
	Princpt map[string][2]float64    `json:"princpt"`
}

// CameraTable maps capture id to that capture's calibration.
type CameraTable map[string]CameraParams

// FrameJoints is one frame's world-space joint coordinates.
type FrameJoints struct {
	WorldCoord [][3]float64 `json:"world_coord"`
}

// JointTable maps capture id, then frame index, to world joints.
type JointTable map[string]map[string]FrameJoints

// RootnetEntry is one record of the external root-depth estimator, keyed by
// annotation id.
type RootnetEntry struct {
	AnnotID  int        `json:"annot_id"`
	Bbox     [4]float64 `json:"bbox"`
	AbsDepth [2]float64 `json:"abs_depth"`
}

// ImageInfo is the per-image metadata served by the annotation index.
type ImageInfo struct {
	ID       int    `json:"id"`
	FileName string `json:"file_name"`
	Capture  int    `json:"capture"`
	Camera   string `json:"camera"`
	FrameIdx int    `json:"frame_idx"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// Annotation is the single hand annotation of one image.
type Annotation struct {
	ID            int        `json:"id"`
	ImageID       int        `json:"image_id"`
	Bbox          [4]float64 `json:"bbox"`
	JointValid    []float64  `json:"joint_valid"`
	HandType      string     `json:"hand_type"`
	HandTypeValid float64    `json:"hand_type_valid"`
	IsCrowd       int        `json:"iscrowd"`
}

// Output is one model output batch. Preds are (x, y, root-relative depth)
// per joint. Boxes are [center_x, center_y, scale_x, scale_y, area, score].
// HandType rows are [right, left, right_score, left_score]. Optional fields
// stay nil when the model head does not produce them.
type Output struct {
	Preds        [][][3]float64 `json:"preds"`
	Boxes        [][6]float64   `json:"boxes"`
	ImagePaths   []string       `json:"image_paths"`
	BboxIDs      []int          `json:"bbox_ids"`
	HandType     [][4]float64   `json:"hand_type,omitempty"`
	RelRootDepth []float64      `json:"rel_root_depth,omitempty"`
}

// ResultKeypoint is one entry of the persisted results file. Field order is
// fixed so the file is byte-for-byte reproducible for identical inputs.
type ResultKeypoint struct {
	Center        [2]float64   `json:"center"`
	Scale         [2]float64   `json:"scale"`
	Area          float64      `json:"area"`
	Score         float64      `json:"score"`
	ImageID       int          `json:"image_id"`
	BboxID        int          `json:"bbox_id"`
	Keypoints     [][3]float64 `json:"keypoints,omitempty"`
	HandType      *[2]int      `json:"hand_type,omitempty"`
	HandTypeScore *[2]float64  `json:"hand_type_score,omitempty"`
	RelRootDepth  *float64     `json:"rel_root_depth,omitempty"`
}
