package fsutil

import (
	"os"
	"path/filepath"
	"strings"
)

var imageExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".tif":  {},
	".tiff": {},
}

// ListImages returns all decodable source frames under root, or root
// itself when it is a single image file. Already-rectified outputs are
// skipped so a rescan of an output directory does not reprocess them.
func ListImages(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if IsImageFile(root) {
			return []string{root}, nil
		}
		return nil, nil
	}
	var files []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if IsImageFile(path) && !IsRectified(path) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// FirstExisting returns the first path that exists.
func FirstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// IsImageFile checks if a file is a supported source image format.
func IsImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, isImage := imageExts[ext]
	return isImage
}

// IsRectified reports whether a path looks like a rectification output.
func IsRectified(path string) bool {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.HasSuffix(stem, "_ORTHO")
}

// OrthoPath derives the output raster path for a source image: the
// source stem with an _ORTHO suffix and a .tif extension, placed in
// outputDir (or next to the source when outputDir is empty).
func OrthoPath(sourcePath, outputDir string) string {
	stem := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	dir := outputDir
	if dir == "" {
		dir = filepath.Dir(sourcePath)
	}
	return filepath.Join(dir, stem+"_ORTHO.tif")
}
