package usecase

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/poselab/interhand3d/pkg/camera"
	"github.com/poselab/interhand3d/pkg/model"
	"github.com/poselab/interhand3d/pkg/utils"
)

// AnnotationIndex serves id-keyed lookups over the dataset's images and hand
// annotations. The concrete implementation lives in pkg/annot; evaluation
// frameworks may inject their own.
type AnnotationIndex interface {
	ImageIDs() []int
	Image(id int) (model.ImageInfo, error)
	Annotation(imageID int) (model.Annotation, error)
	NameToID(name string) (int, bool)
}

// Config controls database construction and evaluation matching.
type Config struct {
	// ImgPrefix is the shared directory prefix of all image paths.
	ImgPrefix string
	// ImageWidth and ImageHeight set the aspect ratio boxes are expanded to.
	ImageWidth  float64
	ImageHeight float64
	// UseGTRootDepth selects ground-truth wrist depth over the external
	// root-depth estimator table.
	UseGTRootDepth bool
}

// pixelStd normalizes box extents into the scale units the downstream
// pipeline expects.
const pixelStd = 200.0

// Padding factors applied to the bounding box, depending on where the root
// depth comes from.
const (
	gtBoxPadding      = 1.25
	rootnetBoxPadding = 1.0
)

// Builder assembles one ground-truth sample record per annotated image.
type Builder struct {
	cfg     Config
	index   AnnotationIndex
	cameras model.CameraTable
	joints  model.JointTable
	rootnet map[int]model.RootnetEntry
	log     *slog.Logger
}

// NewBuilder wires a Builder. rootnet may be nil when cfg.UseGTRootDepth is
// set; otherwise every annotation must have an entry in it.
func NewBuilder(cfg Config, index AnnotationIndex, cameras model.CameraTable,
	joints model.JointTable, rootnet map[int]model.RootnetEntry, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{
		cfg:     cfg,
		index:   index,
		cameras: cameras,
		joints:  joints,
		rootnet: rootnet,
		log:     log,
	}
}

// ProcessHandType maps a handedness label onto its indicator vector:
// right=(1,0), left=(0,1), interacting=(1,1). Any other label is a fatal
// configuration error.
func ProcessHandType(label string) ([2]int, error) {
	switch label {
	case "right":
		return [2]int{1, 0}, nil
	case "left":
		return [2]int{0, 1}, nil
	case "interacting":
		return [2]int{1, 1}, nil
	default:
		return [2]int{}, fmt.Errorf("build: not support hand type: %s", label)
	}
}

// xywhToCenterScale converts a top-left (x, y, w, h) box into the center and
// scale representation. The box is first expanded to the given aspect ratio,
// then padded.
func xywhToCenterScale(box [4]float64, aspectRatio, padding float64) (mgl64.Vec2, mgl64.Vec2) {
	x, y, w, h := box[0], box[1], box[2], box[3]
	center := mgl64.Vec2{x + w*0.5, y + h*0.5}

	if w > aspectRatio*h {
		h = w / aspectRatio
	} else if w < aspectRatio*h {
		w = h * aspectRatio
	}
	scale := mgl64.Vec2{w / pixelStd * padding, h / pixelStd * padding}

	return center, scale
}

// Build runs one pass over the annotation index and assembles the full record
// collection, sorted by bbox id.
func (b *Builder) Build() ([]*model.Sample, error) {
	ids := b.index.ImageIDs()
	bar := utils.NewProgressBar(len(ids))
	defer bar.Finish()

	db := make([]*model.Sample, 0, len(ids))
	bboxID := 0

	for _, imgID := range ids {
		bar.Increment()

		sample, err := b.buildSample(imgID, bboxID)
		if err != nil {
			return nil, err
		}
		db = append(db, sample)
		bboxID++
	}

	// bbox ids are assigned in image-processing order, so this is a no-op,
	// but downstream determinism depends on the sorted invariant.
	sort.SliceStable(db, func(i, j int) bool { return db[i].BboxID < db[j].BboxID })

	b.log.Info("database built", "images", len(ids), "samples", len(db))

	return db, nil
}

func (b *Builder) buildSample(imgID, bboxID int) (*model.Sample, error) {
	img, err := b.index.Image(imgID)
	if err != nil {
		return nil, err
	}
	ann, err := b.index.Annotation(imgID)
	if err != nil {
		return nil, err
	}

	captureID := strconv.Itoa(img.Capture)
	frameIdx := strconv.Itoa(img.FrameIdx)

	calib, ok := b.cameras[captureID]
	if !ok {
		return nil, fmt.Errorf("build: image %d: no calibration for capture %s", imgID, captureID)
	}
	campos, ok := calib.Campos[img.Camera]
	if !ok {
		return nil, fmt.Errorf("build: image %d: capture %s has no camera %s", imgID, captureID, img.Camera)
	}
	camrot := calib.Camrot[img.Camera]
	focal := mgl64.Vec2(calib.Focal[img.Camera])
	princpt := mgl64.Vec2(calib.Princpt[img.Camera])

	frames, ok := b.joints[captureID]
	if !ok {
		return nil, fmt.Errorf("build: image %d: no world joints for capture %s", imgID, captureID)
	}
	frame, ok := frames[frameIdx]
	if !ok {
		return nil, fmt.Errorf("build: image %d: capture %s has no frame %s", imgID, captureID, frameIdx)
	}
	if len(frame.WorldCoord) != model.NumKeypoints {
		return nil, fmt.Errorf("build: image %d: expected %d world joints, got %d",
			imgID, model.NumKeypoints, len(frame.WorldCoord))
	}
	if len(ann.JointValid) != model.NumKeypoints {
		return nil, fmt.Errorf("build: image %d: expected %d visibility flags, got %d",
			imgID, model.NumKeypoints, len(ann.JointValid))
	}

	world := make([]mgl64.Vec3, model.NumKeypoints)
	for j, w := range frame.WorldCoord {
		world[j] = mgl64.Vec3(w)
	}
	jointCam := camera.WorldToCam(world, camera.NewRotation(camrot), mgl64.Vec3(campos))
	jointImg := camera.CamToPixel(jointCam, focal, princpt)

	handType, err := ProcessHandType(ann.HandType)
	if err != nil {
		return nil, err
	}

	aspect := b.cfg.ImageWidth / b.cfg.ImageHeight
	var bbox [4]float64
	var center, scale mgl64.Vec2
	var absDepth [2]float64
	if b.cfg.UseGTRootDepth {
		bbox = ann.Bbox
		center, scale = xywhToCenterScale(bbox, aspect, gtBoxPadding)
		absDepth = [2]float64{jointCam[model.RightWrist].Z(), jointCam[model.LeftWrist].Z()}
	} else {
		entry, ok := b.rootnet[ann.ID]
		if !ok {
			return nil, fmt.Errorf("build: no rootnet result for annotation %d", ann.ID)
		}
		bbox = entry.Bbox
		center, scale = xywhToCenterScale(bbox, aspect, rootnetBoxPadding)
		absDepth = entry.AbsDepth
	}

	relRootDepth := jointCam[model.LeftWrist].Z() - jointCam[model.RightWrist].Z()

	// If a wrist is not valid the root-relative pose of that hand is not
	// valid either, so the whole hand is marked invisible.
	jointValid := make([]float64, model.NumKeypoints)
	copy(jointValid, ann.JointValid)
	for j := 0; j < model.RightWrist; j++ {
		jointValid[j] *= jointValid[model.RightWrist]
	}
	for j := model.JointsPerHand; j < model.LeftWrist; j++ {
		jointValid[j] *= jointValid[model.LeftWrist]
	}

	joints3D := make([]mgl64.Vec3, model.NumKeypoints)
	visible := make([]float64, model.NumKeypoints)
	for j := 0; j < model.NumKeypoints; j++ {
		wrist := model.RightWrist
		if j >= model.JointsPerHand {
			wrist = model.LeftWrist
		}
		joints3D[j] = mgl64.Vec3{
			jointImg[j].X(),
			jointImg[j].Y(),
			jointCam[j].Z() - jointCam[wrist].Z(),
		}
		visible[j] = math.Min(1, jointValid[j])
	}

	return &model.Sample{
		ImageFile:     b.cfg.ImgPrefix + img.FileName,
		Center:        center,
		Scale:         scale,
		Rotation:      0,
		Joints3D:      joints3D,
		JointsVisible: visible,
		HandType:      handType,
		HandTypeValid: ann.HandTypeValid > 0,
		RelRootDepth:  relRootDepth,
		AbsDepth:      absDepth,
		JointsCam:     jointCam,
		Focal:         focal,
		Princpt:       princpt,
		Dataset:       model.DatasetName,
		Bbox:          bbox,
		BboxScore:     1,
		BboxID:        bboxID,
	}, nil
}
