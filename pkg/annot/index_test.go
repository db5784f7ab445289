package annot

import (
	"os"
	"path/filepath"
	"testing"
)

const testAnnFile = `{
  "images": [
    {"id": 2, "file_name": "Capture0/cam0/image2.jpg", "capture": 0, "camera": "cam0", "frame_idx": 2, "width": 512, "height": 334},
    {"id": 1, "file_name": "Capture0/cam0/image1.jpg", "capture": 0, "camera": "cam0", "frame_idx": 1, "width": 512, "height": 334}
  ],
  "annotations": [
    {"id": 10, "image_id": 1, "bbox": [0, 0, 100, 100], "joint_valid": [1, 0], "hand_type": "right", "hand_type_valid": 1, "iscrowd": 0},
    {"id": 11, "image_id": 2, "bbox": [5, 5, 50, 50], "joint_valid": [1, 1], "hand_type": "left", "hand_type_valid": 0, "iscrowd": 0},
    {"id": 12, "image_id": 2, "bbox": [9, 9, 9, 9], "joint_valid": [0, 0], "hand_type": "right", "hand_type_valid": 1, "iscrowd": 1}
  ]
}`

func writeAnnFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ann.json")
	if err := os.WriteFile(path, []byte(testAnnFile), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadServesSortedIDs(t *testing.T) {
	idx, err := Load(writeAnnFile(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ids := idx.ImageIDs()
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("image ids = %v, want [1 2]", ids)
	}
}

func TestLoadLookups(t *testing.T) {
	idx, err := Load(writeAnnFile(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	img, err := idx.Image(1)
	if err != nil {
		t.Fatalf("Image: %v", err)
	}
	if img.FileName != "Capture0/cam0/image1.jpg" || img.FrameIdx != 1 {
		t.Errorf("unexpected image: %+v", img)
	}

	ann, err := idx.Annotation(1)
	if err != nil {
		t.Fatalf("Annotation: %v", err)
	}
	if ann.ID != 10 || ann.HandType != "right" {
		t.Errorf("unexpected annotation: %+v", ann)
	}

	id, ok := idx.NameToID("Capture0/cam0/image2.jpg")
	if !ok || id != 2 {
		t.Errorf("NameToID = %d, %v", id, ok)
	}

	if _, err := idx.Image(99); err == nil {
		t.Error("unknown image id must fail")
	}
	if _, ok := idx.NameToID("nope.jpg"); ok {
		t.Error("unknown name must miss")
	}
}

func TestLoadSkipsCrowdAnnotations(t *testing.T) {
	idx, err := Load(writeAnnFile(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Image 2 carries both a crowd and a non-crowd annotation; only the
	// latter is served.
	ann, err := idx.Annotation(2)
	if err != nil {
		t.Fatalf("Annotation: %v", err)
	}
	if ann.ID != 11 {
		t.Errorf("annotation id = %d, want the non-crowd annotation 11", ann.ID)
	}
}
