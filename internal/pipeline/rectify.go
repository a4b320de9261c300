package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"log/slog"

	"orthorect/internal/camera"
	"orthorect/internal/config"
	"orthorect/internal/exif"
	"orthorect/internal/fsutil"
	"orthorect/internal/geo"
	"orthorect/internal/logging"
	"orthorect/internal/ortho"
	"orthorect/internal/raster"
	"orthorect/internal/storage"
)

// rectifyRequest carries everything needed to rectify one source image.
// The elevation model is opened once per batch and shared.
type rectifyRequest struct {
	JobID      string
	SourcePath string
	OutputPath string
	DEM        *raster.DEM
	Table      exif.PosOriTable
	Camera     config.Camera
	Ortho      config.Ortho
	Solver     config.Solver
	Log        *slog.Logger
}

type rectifyOutcome struct {
	OutputPath string
	Footprint  ortho.Footprint
	Width      int
	Height     int
	Bands      int
}

func (r *router) handleRectify(ctx context.Context, job Job) Result {
	demPath := getStringOption(job.Options, "dem")
	if demPath == "" {
		return Result{Job: job, Error: fmt.Errorf("rectify requires a dem option")}
	}
	dem, err := raster.OpenDEM(demPath)
	if err != nil {
		return Result{Job: job, Error: fmt.Errorf("open elevation model: %w", err)}
	}

	images, err := fsutil.ListImages(job.InputPath)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	if len(images) == 0 {
		return Result{Job: job, Error: fmt.Errorf("no source images under %s", job.InputPath)}
	}

	var table exif.PosOriTable
	if p := getStringOption(job.Options, "posOri"); p != "" {
		table, err = exif.LoadPosOriFile(p)
		if err != nil {
			return Result{Job: job, Error: err}
		}
	}

	orthoCfg := r.cfg.Ortho
	if v := getFloat64Option(job.Options, "resolution"); v > 0 {
		orthoCfg.Resolution = [2]float64{v, v}
	}
	if s := getStringOption(job.Options, "interp"); s != "" {
		orthoCfg.Interp = s
	}
	if s := getStringOption(job.Options, "dtype"); s != "" {
		orthoCfg.DType = s
	}
	if s := getStringOption(job.Options, "crs"); s != "" {
		orthoCfg.CRS = s
	}
	if getBoolOption(job.Options, "perBand") {
		orthoCfg.PerBand = true
	}
	if getBoolOption(job.Options, "noMask") {
		orthoCfg.WriteMask = false
	}
	overwrite := getBoolOption(job.Options, "overwrite")

	outputs := make([]string, 0, len(images))
	failed := 0
	skipped := 0
	for _, img := range images {
		if ctx.Err() != nil {
			return Result{Job: job, Error: ctx.Err()}
		}
		outPath := fsutil.OrthoPath(img, job.Output)
		if !overwrite {
			if _, statErr := os.Stat(outPath); statErr == nil {
				r.log.Info("output exists, skipping", "image", img, "output", outPath)
				skipped++
				continue
			}
		}

		outcome, imgErr := r.rectifyFn(ctx, rectifyRequest{
			JobID:      job.ID,
			SourcePath: img,
			OutputPath: outPath,
			DEM:        dem,
			Table:      table,
			Camera:     r.cfg.Camera,
			Ortho:      orthoCfg,
			Solver:     r.cfg.Solver,
			Log:        r.log,
		})

		rec := storage.RectifyResult{
			JobID:      job.ID,
			SourcePath: img,
			OutputPath: outPath,
		}
		if imgErr != nil {
			failed++
			rec.Status = "failed"
			rec.Error = imgErr.Error()
			logging.LogImageStep(r.log, job.ID, img, "rectify", "failed", map[string]any{
				"error": imgErr.Error(),
			})
		} else {
			outputs = append(outputs, outcome.OutputPath)
			rec.Status = "completed"
			rec.MinX = outcome.Footprint.Bounds.MinX
			rec.MinY = outcome.Footprint.Bounds.MinY
			rec.MaxX = outcome.Footprint.Bounds.MaxX
			rec.MaxY = outcome.Footprint.Bounds.MaxY
			rec.MinElevation = outcome.Footprint.MinElevation
			rec.Iterations = outcome.Footprint.Iterations
			rec.Converged = outcome.Footprint.Converged
			rec.FullCoverage = outcome.Footprint.FullCoverage
			logging.LogImageStep(r.log, job.ID, img, "rectify", "completed", map[string]any{
				"output": outcome.OutputPath,
				"size":   fmt.Sprintf("%dx%d", outcome.Width, outcome.Height),
				"bands":  outcome.Bands,
			})
		}
		if r.store != nil {
			_ = r.store.RecordRectifyResult(rec)
		}
	}

	meta := map[string]any{
		"images":    len(images),
		"rectified": len(outputs),
		"failed":    failed,
		"skipped":   skipped,
		"outputs":   outputs,
	}
	var jobErr error
	if len(outputs) == 0 && failed > 0 {
		jobErr = fmt.Errorf("all %d images failed", failed)
	}
	return Result{Job: job, Error: jobErr, Meta: meta}
}

// rectifyImage runs the full geometry path for one image: resolve the
// camera station, solve the footprint, align the elevation grid and
// remap into a georeferenced output.
func rectifyImage(ctx context.Context, req rectifyRequest) (rectifyOutcome, error) {
	src, err := raster.OpenSource(req.SourcePath)
	if err != nil {
		return rectifyOutcome{}, err
	}

	station, meta, err := resolveStation(ctx, req)
	if err != nil {
		return rectifyOutcome{}, err
	}

	focal := req.Camera.FocalLength
	sensor := req.Camera.SensorSize
	if focal <= 0 || len(sensor) != 2 {
		if meta == nil {
			m, exErr := exif.Extract(ctx, req.SourcePath)
			if exErr != nil {
				return rectifyOutcome{}, fmt.Errorf("no camera geometry configured and %w", exErr)
			}
			meta = &m
		}
		f, sw, sh, geomErr := meta.CameraGeometry()
		if geomErr != nil {
			return rectifyOutcome{}, geomErr
		}
		focal, sensor = f, []float64{sw, sh}
	}

	dist, err := distortionFromConfig(req.Camera)
	if err != nil {
		return rectifyOutcome{}, err
	}

	w, h := src.Dims()
	cam, err := camera.New(
		[]float64{station.Easting, station.Northing, station.Altitude},
		[]float64{radians(station.Omega), radians(station.Phi), radians(station.Kappa)},
		[]float64{float64(w), float64(h)},
		focal, sensor, dist,
	)
	if err != nil {
		return rectifyOutcome{}, err
	}

	obs := ortho.Observer(func(phase ortho.Phase, elapsed time.Duration) {
		req.Log.Debug("rectify phase", "image", req.SourcePath, "phase", string(phase), "elapsed", elapsed)
	})

	solveStart := time.Now()
	fp, err := ortho.SolveFootprint(cam, req.DEM, geo.Identity{}, ortho.FootprintConfig{
		MaxIterations: req.Solver.MaxIterations,
		Threshold:     req.Solver.Threshold,
	}, req.Log)
	if err != nil {
		return rectifyOutcome{}, err
	}
	obs(ortho.PhaseFootprint, time.Since(solveStart))

	resX, resY := req.Ortho.Resolution[0], req.Ortho.Resolution[1]
	if resX <= 0 || resY <= 0 {
		return rectifyOutcome{}, fmt.Errorf("output resolution not set")
	}
	dtype := req.Ortho.DType
	if dtype == "" {
		dtype = src.DType()
	}
	crs := req.Ortho.CRS
	if crs == "" {
		crs = req.DEM.CRS
	}
	desc := ortho.OutputDescriptor(fp.Bounds, resX, resY,
		crs, dtype, src.BandCount(), req.Ortho.Nodata)

	gridStart := time.Now()
	grid, err := req.DEM.ReadAligned(desc, geo.Identity{})
	if err != nil {
		return rectifyOutcome{}, err
	}
	obs(ortho.PhaseElevationGrid, time.Since(gridStart))

	kernel, err := ortho.ParseKernel(req.Ortho.Interp)
	if err != nil {
		return rectifyOutcome{}, err
	}

	out, err := raster.CreateOutput(req.OutputPath, desc, req.Ortho.WriteMask)
	if err != nil {
		return rectifyOutcome{}, err
	}

	remapper, err := ortho.NewRemapper(cam, src, desc, grid, ortho.RemapConfig{
		Kernel:    kernel,
		PerBand:   req.Ortho.PerBand,
		Nodata:    req.Ortho.Nodata,
		WriteMask: req.Ortho.WriteMask,
		TileSize:  req.Ortho.TileSize,
	}, req.Log, obs)
	if err != nil {
		return rectifyOutcome{}, err
	}
	if err := remapper.Run(out); err != nil {
		out.Close()
		os.Remove(req.OutputPath)
		return rectifyOutcome{}, err
	}
	if err := out.Close(); err != nil {
		return rectifyOutcome{}, err
	}

	return rectifyOutcome{
		OutputPath: req.OutputPath,
		Footprint:  fp,
		Width:      desc.Width,
		Height:     desc.Height,
		Bands:      desc.Bands,
	}, nil
}

// resolveStation finds the exterior orientation for an image, preferring
// an explicit position/orientation table entry over EXIF-derived values.
// The returned metadata is non-nil only when EXIF was consulted.
func resolveStation(ctx context.Context, req rectifyRequest) (exif.PosOri, *exif.Metadata, error) {
	if station, ok := req.Table.Lookup(req.SourcePath); ok {
		return station, nil, nil
	}
	if req.Table != nil {
		return exif.PosOri{}, nil, fmt.Errorf("%s: no entry in position/orientation table", req.SourcePath)
	}
	m, err := exif.Extract(ctx, req.SourcePath)
	if err != nil {
		return exif.PosOri{}, nil, err
	}
	station, _, err := exif.StationFromMetadata(m)
	if err != nil {
		return exif.PosOri{}, &m, err
	}
	return station, &m, nil
}

func distortionFromConfig(c config.Camera) (camera.Distortion, error) {
	t := c.Type
	if t == "" {
		t = string(camera.DistortionPinhole)
	}
	return camera.NewDistortion(camera.DistortionType(t), c.DistCoeffs)
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
