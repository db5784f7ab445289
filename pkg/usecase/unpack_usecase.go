package usecase

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/poselab/interhand3d/pkg/model"
	"github.com/poselab/interhand3d/pkg/utils"
)

// UnpackCameras reads the capture-indexed camera calibration table.
func UnpackCameras(path string) (model.CameraTable, error) {
	var cameras model.CameraTable
	if err := unpackJSON(path, &cameras); err != nil {
		return nil, err
	}
	return cameras, nil
}

// UnpackJoints reads the capture+frame-indexed world-joint table.
func UnpackJoints(path string) (model.JointTable, error) {
	var joints model.JointTable
	if err := unpackJSON(path, &joints); err != nil {
		return nil, err
	}
	return joints, nil
}

// UnpackRootnet reads the external root-depth estimator results and keys them
// by annotation id.
func UnpackRootnet(path string) (map[int]model.RootnetEntry, error) {
	var entries []model.RootnetEntry
	if err := unpackJSON(path, &entries); err != nil {
		return nil, err
	}

	result := make(map[int]model.RootnetEntry, len(entries))
	for _, e := range entries {
		result[e.AnnotID] = e
	}
	return result, nil
}

// UnpackOutputs reads every "*_output.json" batch file directly under dirPath.
// All batches are loaded fully up front; any read failure aborts the run.
func UnpackOutputs(dirPath string) ([]*model.Output, error) {
	jsonPaths, err := utils.ListJSONFiles(dirPath, "_output")
	if err != nil {
		return nil, fmt.Errorf("unpack: list outputs in %s: %w", dirPath, err)
	}

	outputs := make([]*model.Output, len(jsonPaths))

	bar := utils.NewProgressBar(len(jsonPaths))
	for i, path := range jsonPaths {
		bar.Increment()

		output := new(model.Output)
		if err := unpackJSON(path, output); err != nil {
			bar.Finish()
			return nil, err
		}
		outputs[i] = output
	}
	bar.Finish()

	return outputs, nil
}

func unpackJSON(path string, v any) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("unpack: open %s: %w", path, err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(v); err != nil {
		return fmt.Errorf("unpack: decode %s: %w", path, err)
	}
	return nil
}
