package vfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// UploadResult is the outcome of one file of an Upload call
type UploadResult struct {
	File File
	Err  error
}

// Upload stores files inside the directory dest. Files are uploaded
// concurrently and independently: one failure does not cancel the others.
// The returned error joins every per-file failure.
//
// Transports without a native upload receive the content through Write.
func (v *VFS) Upload(ctx context.Context, dest any, files []UploadFile, options ...OpOption) (results []UploadResult, err error) {
	var t target
	defer v.track("upload", &t, time.Now(), &err)

	if t, err = v.prepareDir(dest); err != nil {
		return nil, err
	}
	if err = v.writable("upload", &t); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: nothing to upload", ErrInvalidArgument)
	}

	opts := processOptions(options...)
	results = make([]UploadResult, len(files))

	var g errgroup.Group
	if v.uploadConcurrency > 0 {
		g.SetLimit(v.uploadConcurrency)
	}
	for i, uf := range files {
		g.Go(func() error {
			results[i] = v.uploadOne(ctx, &t, uf, opts)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return results, errors.Join(errs...)
}

func (v *VFS) uploadOne(ctx context.Context, dir *target, uf UploadFile, opts *OpOptions) UploadResult {
	name := Basename("/" + uf.Name)
	if name == "" || name == "/" || uf.Body == nil {
		return UploadResult{Err: wrapOp("upload", Join(dir.Orig.Path, name), fmt.Errorf("%w: upload needs a name and a body", ErrInvalidArgument))}
	}
	uf.Name = name
	if uf.MIME == "" {
		uf.MIME = GuessMIME(name)
	}

	t := target{
		Orig:  NewFile(Join(dir.Orig.Path, name), uf.MIME),
		Mount: dir.Mount,
		Alias: dir.Alias,
	}
	t.File = t.Orig.WithPath(Join(dir.File.Path, name))
	res := UploadResult{File: t.Orig}

	if v.maxUploadSize > 0 {
		if uf.Size > v.maxUploadSize {
			res.Err = wrapOp("upload", t.Orig.Path, &PathError{Op: "upload", Path: t.Orig.Path, Err: ErrTooLarge})
			return res
		}
		uf.Body = &SizeLimitReader{Reader: uf.Body, MaxSize: v.maxUploadSize}
	}
	if !opts.Overwrite {
		if err := v.ensureAbsent(ctx, &t); err != nil {
			res.Err = wrapOp("upload", t.Orig.Path, err)
			return res
		}
	}

	counter := &progressReader{reader: uf.Body, progress: opts.Progress, size: uf.Size}
	uf.Body = counter

	err := dir.Mount.Transport.Upload(ctx, dir.File, uf)
	if IsNotSupported(err) && counter.bytesRead == 0 {
		var data []byte
		if data, err = io.ReadAll(uf.Body); err == nil {
			err = dir.Mount.Transport.Write(ctx, t.File, data)
		}
	}
	if err != nil {
		res.Err = wrapOp("upload", t.Orig.Path, err)
		v.logger.Warn("upload failed", zap.String("path", t.Orig.Path), zap.Error(err))
		return res
	}

	v.metrics.transferred("write", dir.Mount.Name, int(counter.bytesRead))
	res.File.Size = counter.bytesRead
	v.notifyFile(EventUpload, &t)
	return res
}

// SizeLimitReader fails with ErrTooLarge once more than MaxSize bytes
// were read.
type SizeLimitReader struct {
	Reader  io.Reader
	MaxSize int64
	read    int64
}

func (r *SizeLimitReader) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	r.read += int64(n)
	if r.read > r.MaxSize {
		return n, ErrTooLarge
	}
	return n, err
}

// progressReader counts bytes and reports them to progress
type progressReader struct {
	reader    io.Reader
	progress  ProgressFunc
	size      int64
	bytesRead int64
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.bytesRead += int64(n)
		if r.progress != nil {
			r.progress(r.bytesRead, r.size)
		}
	}
	return n, err
}
