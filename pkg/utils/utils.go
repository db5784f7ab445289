package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cheggaaa/pb/v3"
)

// ListJSONFiles returns the files directly under dirPath whose name ends with
// the given suffix plus ".json". Subdirectories are not descended into.
func ListJSONFiles(dirPath string, suffix string) ([]string, error) {
	var paths []string
	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path != dirPath && info.IsDir() {
			return filepath.SkipDir
		}
		if !info.IsDir() && strings.HasSuffix(info.Name(), fmt.Sprintf("%s.json", suffix)) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// NewProgressBar creates a progress bar with elapsed and remaining time.
func NewProgressBar(total int) *pb.ProgressBar {
	template := `{{ string . "prefix" }} {{counters . "%s/%s" "%s/?"}} {{bar . }} {{percent . "%.03f%%" "?"}} {{etime . "%s elapsed"}} {{rtime . "%s remain" "%s total" "???"}}`

	bar := pb.ProgressBarTemplate(template).Start(total)

	return bar
}
