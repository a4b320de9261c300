package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"orthorect/internal/exif"
	"orthorect/internal/fsutil"
	"orthorect/internal/storage"
)

// handleScan inventories a survey directory: how many source images it
// holds, how many already have rectified outputs, and how many carry
// enough metadata to be rectified without a position/orientation table.
func (r *router) handleScan(ctx context.Context, job Job) Result {
	images, err := fsutil.ListImages(job.InputPath)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	var table exif.PosOriTable
	if p := getStringOption(job.Options, "posOri"); p != "" {
		table, err = exif.LoadPosOriFile(p)
		if err != nil {
			return Result{Job: job, Error: err}
		}
	}

	byExt := make(map[string]int)
	rectified := 0
	withPose := 0
	for _, img := range images {
		if ctx.Err() != nil {
			return Result{Job: job, Error: ctx.Err()}
		}
		byExt[filepath.Ext(img)]++
		if _, statErr := os.Stat(fsutil.OrthoPath(img, job.Output)); statErr == nil {
			rectified++
		}
		if table != nil {
			if _, ok := table.Lookup(img); ok {
				withPose++
			}
			continue
		}
		if m, exErr := exif.Extract(ctx, img); exErr == nil && m.HasLLA && m.HasRPY {
			withPose++
		}
	}

	meta := map[string]any{
		"images":     len(images),
		"rectified":  rectified,
		"with_pose":  withPose,
		"extensions": byExt,
	}
	return Result{Job: job, Error: nil, Meta: meta}
}

// handleExif extracts camera metadata for each image and persists it,
// deriving a projected camera station where geolocation and attitude
// tags are present.
func (r *router) handleExif(ctx context.Context, job Job) Result {
	images, err := fsutil.ListImages(job.InputPath)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	if len(images) == 0 {
		return Result{Job: job, Error: fmt.Errorf("no source images under %s", job.InputPath)}
	}

	extracted := 0
	stations := 0
	failed := 0
	for _, img := range images {
		if ctx.Err() != nil {
			return Result{Job: job, Error: ctx.Err()}
		}
		m, exErr := exif.Extract(ctx, img)
		if exErr != nil {
			failed++
			r.log.Warn("exif extraction failed", "image", img, "error", exErr)
			continue
		}
		extracted++

		rec := storage.ImageMetadata{
			FilePath:     m.Path,
			CameraMake:   m.CameraMake,
			CameraModel:  m.CameraModel,
			FocalLength:  m.Focal,
			SensorWidth:  m.SensorW,
			SensorHeight: m.SensorH,
			Timestamp:    m.Timestamp,
			Width:        m.ImageWidth,
			Height:       m.ImageHeight,
		}
		if station, _, stErr := exif.StationFromMetadata(m); stErr == nil {
			stations++
			rec.Easting = station.Easting
			rec.Northing = station.Northing
			rec.Altitude = station.Altitude
			rec.Omega = station.Omega
			rec.Phi = station.Phi
			rec.Kappa = station.Kappa
		}
		if r.store != nil {
			_ = r.store.RecordImageMetadata(rec)
		}
	}

	meta := map[string]any{
		"images":    len(images),
		"extracted": extracted,
		"stations":  stations,
		"failed":    failed,
	}
	var jobErr error
	if extracted == 0 {
		jobErr = fmt.Errorf("no metadata extracted from %d images", len(images))
	}
	return Result{Job: job, Error: jobErr, Meta: meta}
}
