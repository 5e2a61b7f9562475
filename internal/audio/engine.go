package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"samplecart/internal/config"
	"samplecart/internal/faults"
	"samplecart/internal/fileutil"
	"samplecart/internal/logging"
)

const encodeChunkFrames = 16384

// Options configures the conversion engine.
type Options struct {
	NormalizeCeilingDB float64
	SilenceThresholdDB float64
	ResampleTaps       int
	FloatTargetDepth   int
	BufferSize         int
	Overwrite          bool
	VerifyCopies       bool
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		NormalizeCeilingDB: -0.1,
		SilenceThresholdDB: -60,
		ResampleTaps:       32,
		FloatTargetDepth:   24,
	}
}

// OptionsFromConfig maps the [conversion] and [transfer] sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		NormalizeCeilingDB: cfg.Conversion.NormalizeCeilingDB,
		SilenceThresholdDB: cfg.Conversion.SilenceThresholdDB,
		ResampleTaps:       cfg.Conversion.ResampleTaps,
		FloatTargetDepth:   cfg.Conversion.FloatTargetDepth,
		BufferSize:         cfg.Transfer.BufferKiB * 1024,
		Overwrite:          cfg.Transfer.Overwrite,
		VerifyCopies:       cfg.Transfer.VerifyCopies,
	}
}

// Hooks connect the engine to the device watcher and handle registry.
type Hooks struct {
	// Guard fails when path lives on a removed volume.
	Guard func(path string) error
	// Track registers an open file and returns its release func.
	Track func(path string) func()
	// FreeSpace reports free bytes for a directory.
	FreeSpace func(dir string) (uint64, error)
}

// WriteLock serializes the write phase of a conversion with other writes to
// the same volume. It returns the release func.
type WriteLock func(ctx context.Context) (func(), error)

// Engine converts single files. It is safe for concurrent use.
type Engine struct {
	opts   Options
	hooks  Hooks
	logger *slog.Logger
}

// Result describes a finished conversion.
type Result struct {
	Source        Format  `json:"source"`
	Output        Format  `json:"output"`
	ByteCopy      bool    `json:"byteCopy"`
	Bytes         int64   `json:"bytes"`
	TrimmedFrames int     `json:"trimmedFrames,omitempty"`
	Gain          float64 `json:"gain,omitempty"`
}

// NewEngine constructs an engine. Zero option values fall back to defaults.
func NewEngine(opts Options, hooks Hooks, logger *slog.Logger) *Engine {
	if opts.ResampleTaps <= 0 {
		opts.ResampleTaps = 32
	}
	if !ValidBitDepth(opts.FloatTargetDepth) {
		opts.FloatTargetDepth = 24
	}
	if opts.NormalizeCeilingDB > 0 {
		opts.NormalizeCeilingDB = 0
	}
	if opts.SilenceThresholdDB >= 0 {
		opts.SilenceThresholdDB = -60
	}
	if hooks.FreeSpace == nil {
		hooks.FreeSpace = FreeBytes
	}
	return &Engine{opts: opts, hooks: hooks, logger: logging.NewComponentLogger(logger, "audio")}
}

func (e *Engine) guard(paths ...string) error {
	if e.hooks.Guard == nil {
		return nil
	}
	for _, p := range paths {
		if err := e.hooks.Guard(p); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) track(path string) func() {
	if e.hooks.Track == nil {
		return func() {}
	}
	return e.hooks.Track(path)
}

// Convert applies spec to src and writes dst. Errors are classified with
// the faults taxonomy and never leave a partial dst behind.
func (e *Engine) Convert(ctx context.Context, src, dst string, spec Spec) (Result, error) {
	return e.ConvertLocked(ctx, src, dst, spec, nil)
}

// ConvertLocked is Convert with lock held only while dst is written. Decode
// and processing run unlocked. A nil lock is a no-op.
func (e *Engine) ConvertLocked(ctx context.Context, src, dst string, spec Spec, lock WriteLock) (Result, error) {
	if err := spec.Validate(); err != nil {
		return Result{}, err
	}
	if err := e.guard(src, dst); err != nil {
		return Result{}, err
	}
	started := time.Now()
	logger := logging.WithContext(ctx, e.logger).With(logging.String("source", src), logging.String("destination", dst))

	if spec.IsZero() {
		return e.byteCopy(ctx, logger, src, dst, Format{}, lock)
	}

	file, err := os.Open(src)
	if err != nil {
		return Result{}, faults.FromOS("audio", "open", src, err)
	}
	release := e.track(src)
	info, err := file.Stat()
	if err != nil {
		file.Close()
		release()
		return Result{}, faults.FromOS("audio", "stat", src, err)
	}
	layout, err := parseLayout(file, info.Size())
	if err != nil {
		file.Close()
		release()
		return Result{}, fmt.Errorf("%s: %w", src, faults.FromOS("audio", "decode", src, err))
	}
	if spec.noopFor(layout.format) {
		file.Close()
		release()
		logger.Debug("conversion spec matches source; copying bytes", logging.String("format", layout.format.String()))
		return e.byteCopy(ctx, logger, src, dst, layout.format, lock)
	}

	buf, err := e.decode(ctx, file, layout)
	file.Close()
	release()
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", src, faults.FromOS("audio", "decode", src, err))
	}

	out, result, err := e.process(ctx, buf, layout.format, spec)
	if err != nil {
		return Result{}, err
	}

	written, err := e.encode(ctx, dst, out, result.Output, isTrue(spec.Normalize), lock)
	if err != nil {
		logging.WarnWithContext(logger, "conversion failed", "conversion_failed",
			logging.Error(err), logging.ErrorCode(err),
			logging.String(logging.FieldImpact, "destination not written"),
		)
		return Result{}, err
	}
	result.Bytes = written
	logger.Info("conversion complete",
		logging.String(logging.FieldEventType, "conversion_complete"),
		logging.String("from", layout.format.String()),
		logging.String("to", result.Output.String()),
		logging.Int64("size_bytes", written),
		logging.Duration("duration", time.Since(started)),
	)
	return result, nil
}

func (e *Engine) decode(ctx context.Context, file *os.File, layout pcmLayout) (*Buffer, error) {
	f := layout.format
	buf := newBuffer(f.SampleRate, f.Channels, int(f.Frames))
	if _, err := file.Seek(layout.dataOffset, io.SeekStart); err != nil {
		return nil, err
	}
	block := f.Channels * f.bytesPerSample()
	chunk := make([]byte, encodeChunkFrames*block)
	reader := io.LimitReader(file, f.Frames*int64(block))
	frame := 0
	for frame < int(f.Frames) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		want := min(encodeChunkFrames, int(f.Frames)-frame) * block
		if _, err := io.ReadFull(reader, chunk[:want]); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return nil, corrupt("sample data truncated", err)
			}
			return nil, err
		}
		decodeFrames(buf, frame, chunk[:want], f)
		frame += want / block
	}
	return buf, nil
}

// process runs the five stages in fixed order.
func (e *Engine) process(ctx context.Context, buf *Buffer, src Format, spec Spec) (*Buffer, Result, error) {
	result := Result{Source: src, Gain: 1}
	outFmt := src
	outFmt.Float = false
	outFmt.BigEndian = src.Container == ContainerAIFF
	if spec.Container != nil {
		outFmt.Container = *spec.Container
		outFmt.BigEndian = outFmt.Container == ContainerAIFF
	}

	if spec.SampleRate != nil && *spec.SampleRate != buf.SampleRate {
		buf = Resample(buf, *spec.SampleRate, e.opts.ResampleTaps)
	}
	outFmt.SampleRate = buf.SampleRate
	if err := ctx.Err(); err != nil {
		return nil, result, faults.FromOS("audio", "resample", "", err)
	}

	if isTrue(spec.MonoDownmix) {
		buf = Downmix(buf)
	}
	outFmt.Channels = len(buf.Channels)

	switch {
	case spec.BitDepth != nil:
		outFmt.BitDepth = *spec.BitDepth
		Requantize(buf, outFmt.BitDepth)
	case src.Float:
		outFmt.BitDepth = e.opts.FloatTargetDepth
		Requantize(buf, outFmt.BitDepth)
	}

	if isTrue(spec.TrimLeadingSilence) {
		buf, result.TrimmedFrames = TrimLeadingSilence(buf, DBToLinear(e.opts.SilenceThresholdDB))
	}
	if err := ctx.Err(); err != nil {
		return nil, result, faults.FromOS("audio", "trim", "", err)
	}

	if isTrue(spec.Normalize) {
		result.Gain = Normalize(buf, DBToLinear(e.opts.NormalizeCeilingDB))
	}

	outFmt.Frames = int64(buf.Frames())
	result.Output = outFmt
	return buf, result, nil
}

func (e *Engine) encode(ctx context.Context, dst string, buf *Buffer, f Format, normalized bool, lock WriteLock) (int64, error) {
	unlock, err := acquireWrite(ctx, lock, dst)
	if err != nil {
		return 0, err
	}
	defer unlock()
	if err := ensureSpace(e.hooks.FreeSpace, dst, EstimateSize(f)); err != nil {
		return 0, err
	}
	out, err := fileutil.CreatePartial(dst, 0o644, e.opts.Overwrite)
	if err != nil {
		return 0, faults.FromOS("audio", "create", dst, err)
	}
	defer out.Abort()
	release := e.track(out.Name())
	defer release()

	var ceiling float64
	if normalized {
		ceiling = DBToLinear(e.opts.NormalizeCeilingDB)
	}
	q := newQuantizer(f.BitDepth, ceiling)

	switch f.Container {
	case ContainerAIFF:
		err = writeAIFFHeader(out, f)
	default:
		err = writeWAVHeader(out, f)
	}
	if err != nil {
		return 0, faults.FromOS("audio", "write", dst, err)
	}

	frames := buf.Frames()
	scratch := make([]byte, 0, encodeChunkFrames*f.Channels*f.bytesPerSample())
	var written int64
	for from := 0; from < frames; from += encodeChunkFrames {
		if err := ctx.Err(); err != nil {
			return written, faults.FromOS("audio", "write", dst, err)
		}
		if err := e.guard(dst); err != nil {
			return written, err
		}
		to := min(from+encodeChunkFrames, frames)
		scratch = encodeFrames(scratch[:0], buf, from, to, f.BitDepth, f.Container, f.BigEndian, q)
		n, err := out.Write(scratch)
		written += int64(n)
		if err != nil {
			return written, faults.FromOS("audio", "write", dst, err)
		}
	}
	if written&1 == 1 {
		if _, err := out.Write([]byte{0}); err != nil {
			return written, faults.FromOS("audio", "write", dst, err)
		}
	}
	if err := out.Commit(); err != nil {
		return written, faults.FromOS("audio", "commit", dst, err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		return written, nil
	}
	return info.Size(), nil
}

func (e *Engine) byteCopy(ctx context.Context, logger *slog.Logger, src, dst string, f Format, lock WriteLock) (Result, error) {
	info, err := os.Stat(src)
	if err != nil {
		return Result{}, faults.FromOS("audio", "stat", src, err)
	}
	unlock, err := acquireWrite(ctx, lock, dst)
	if err != nil {
		return Result{}, err
	}
	defer unlock()
	if err := ensureSpace(e.hooks.FreeSpace, dst, info.Size()); err != nil {
		return Result{}, err
	}
	releaseSrc := e.track(src)
	defer releaseSrc()
	releaseDst := e.track(fileutil.PartialName(dst))
	defer releaseDst()

	written, err := fileutil.CopyFile(ctx, src, dst, fileutil.CopyOptions{
		BufferSize: e.opts.BufferSize,
		Overwrite:  e.opts.Overwrite,
		Verify:     e.opts.VerifyCopies,
		Check:      func() error { return e.guard(src, dst) },
	})
	if err != nil {
		return Result{}, faults.FromOS("audio", "copy", dst, err)
	}
	logger.Info("byte copy complete",
		logging.String(logging.FieldEventType, "byte_copy_complete"),
		logging.Int64("size_bytes", written),
	)
	return Result{Source: f, Output: f, ByteCopy: true, Bytes: written, Gain: 1}, nil
}

func acquireWrite(ctx context.Context, lock WriteLock, dst string) (func(), error) {
	if lock == nil {
		return func() {}, nil
	}
	release, err := lock(ctx)
	if err != nil {
		return nil, faults.FromOS("audio", "lock", dst, err)
	}
	return release, nil
}
