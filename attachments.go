package applogger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
)

// AttachmentKind decides which settings flag gates an attachment provider.
type AttachmentKind int

const (
	AttachmentCustom     AttachmentKind = iota // always included
	AttachmentScreenshot                       // Settings.TakeScreenshotOnError
	AttachmentAppState                         // Settings.IncludeAppState
	AttachmentLogFile                          // Settings.IncludeLogFile
)

// AttachmentProvider produces an attachment on demand when an error record is
// built. Capture is called synchronously from TrackError and should be quick.
// Close is called once when the client is closed.
type AttachmentProvider interface {
	Kind() AttachmentKind
	Capture(ctx context.Context) (Attachment, error)
	Close() error
}

func (k AttachmentKind) enabled(s Settings) bool {
	switch k {
	case AttachmentScreenshot:
		return s.TakeScreenshotOnError
	case AttachmentAppState:
		return s.IncludeAppState
	case AttachmentLogFile:
		return s.IncludeLogFile
	}
	return true
}

// FuncAttachment wraps a capture function.
type FuncAttachment struct {
	AttachmentKind AttachmentKind
	CaptureFunc    func(ctx context.Context) (Attachment, error)
	CloseFunc      func() error
}

func (f FuncAttachment) Kind() AttachmentKind { return f.AttachmentKind }

func (f FuncAttachment) Capture(ctx context.Context) (Attachment, error) {
	if f.CaptureFunc == nil {
		return Attachment{}, fmt.Errorf("no capture function")
	}
	return f.CaptureFunc(ctx)
}

func (f FuncAttachment) Close() error {
	if f.CloseFunc == nil {
		return nil
	}
	return f.CloseFunc()
}

// FileAttachment attaches the tail of a file, typically the application log.
type FileAttachment struct {
	Path     string
	MaxBytes int64 // 0 means 256 KiB
	kind     AttachmentKind
}

func NewLogFileAttachment(path string) *FileAttachment {
	return &FileAttachment{Path: path, kind: AttachmentLogFile}
}

func (f *FileAttachment) Kind() AttachmentKind { return f.kind }

func (f *FileAttachment) Capture(ctx context.Context) (Attachment, error) {
	limit := f.MaxBytes
	if limit <= 0 {
		limit = 256 << 10
	}

	file, err := os.Open(f.Path)
	if err != nil {
		return Attachment{}, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Attachment{}, err
	}

	offset := info.Size() - limit
	if offset < 0 {
		offset = 0
	}
	buf := make([]byte, info.Size()-offset)
	if _, err := file.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
		return Attachment{}, fmt.Errorf("failed to read %s: %w", f.Path, err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(f.Path))
	if contentType == "" {
		contentType = "text/plain"
	}
	return Attachment{
		Name:        filepath.Base(f.Path),
		ContentType: contentType,
		Content:     buf,
	}, nil
}

func (f *FileAttachment) Close() error { return nil }

// captureAttachment runs one provider and turns a panic into an error.
func captureAttachment(ctx context.Context, p AttachmentProvider) (a Attachment, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("attachment provider panicked: %v", r)
		}
	}()
	return p.Capture(ctx)
}
