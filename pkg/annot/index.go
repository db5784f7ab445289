// Package annot loads a COCO-style hand annotation file and serves id-keyed
// lookups over its images and annotations.
package annot

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/poselab/interhand3d/pkg/model"
)

type annFile struct {
	Images      []model.ImageInfo  `json:"images"`
	Annotations []model.Annotation `json:"annotations"`
}

// Index is an in-memory annotation index. Every image carries exactly one
// non-crowd hand annotation.
type Index struct {
	ids      []int
	images   map[int]model.ImageInfo
	anns     map[int]model.Annotation
	nameToID map[string]int
}

// Load reads the annotation file fully into memory. Crowd annotations are
// skipped, matching the upstream dataset convention.
func Load(path string) (*Index, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("annot: read %s: %w", path, err)
	}

	var f annFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("annot: decode %s: %w", path, err)
	}

	idx := &Index{
		images:   make(map[int]model.ImageInfo, len(f.Images)),
		anns:     make(map[int]model.Annotation, len(f.Annotations)),
		nameToID: make(map[string]int, len(f.Images)),
	}
	for _, img := range f.Images {
		idx.images[img.ID] = img
		idx.nameToID[img.FileName] = img.ID
		idx.ids = append(idx.ids, img.ID)
	}
	sort.Ints(idx.ids)

	for _, ann := range f.Annotations {
		if ann.IsCrowd != 0 {
			continue
		}
		if _, ok := idx.images[ann.ImageID]; !ok {
			return nil, fmt.Errorf("annot: annotation %d references unknown image %d", ann.ID, ann.ImageID)
		}
		idx.anns[ann.ImageID] = ann
	}

	return idx, nil
}

// ImageIDs returns all image ids in ascending order.
func (x *Index) ImageIDs() []int {
	out := make([]int, len(x.ids))
	copy(out, x.ids)
	return out
}

// Image returns the metadata of one image.
func (x *Index) Image(id int) (model.ImageInfo, error) {
	img, ok := x.images[id]
	if !ok {
		return model.ImageInfo{}, fmt.Errorf("annot: unknown image id %d", id)
	}
	return img, nil
}

// Annotation returns the hand annotation attached to one image.
func (x *Index) Annotation(imageID int) (model.Annotation, error) {
	ann, ok := x.anns[imageID]
	if !ok {
		return model.Annotation{}, fmt.Errorf("annot: image %d has no annotation", imageID)
	}
	return ann, nil
}

// NameToID resolves an image file name to its id.
func (x *Index) NameToID(name string) (int, bool) {
	id, ok := x.nameToID[name]
	return id, ok
}
