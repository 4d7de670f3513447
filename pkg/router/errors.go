package router

import (
	"errors"
	"fmt"

	"printcast/pkg/model"
	"printcast/pkg/printer"
)

// ItemTypeError reports a job that is not one of the known variants.
type ItemTypeError struct {
	Type string
}

func (e *ItemTypeError) Error() string {
	return fmt.Sprintf("unsupported job type %s", e.Type)
}

// ImageContentError reports an image job without a usable bitmap.
type ImageContentError struct {
	Reason string
}

func (e *ImageContentError) Error() string {
	return "invalid image content: " + e.Reason
}

// MissingFileError reports a sound job whose file does not exist.
type MissingFileError struct {
	Path string
	Err  error
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("sound file %s not found: %v", e.Path, e.Err)
}

func (e *MissingFileError) Unwrap() error { return e.Err }

// BackendDispatchError wraps a failure raised by the output backend.
type BackendDispatchError struct {
	Op   string
	Kind model.Kind
	Err  error
}

func (e *BackendDispatchError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *BackendDispatchError) Unwrap() error { return e.Err }

// Error kind names used in logs, history and metrics.
const (
	KindItemType        = "ItemTypeError"
	KindImageContent    = "ImageContentError"
	KindMissingFile     = "MissingFileError"
	KindBackendDispatch = "BackendDispatchError"
	KindBackendInit     = "BackendInitializationError"
	KindOther           = "Error"
)

// ErrorKind names the category of err, or "" for nil.
func ErrorKind(err error) string {
	var (
		itemErr  *ItemTypeError
		imageErr *ImageContentError
		fileErr  *MissingFileError
		backErr  *BackendDispatchError
		initErr  *printer.BackendInitializationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &itemErr):
		return KindItemType
	case errors.As(err, &imageErr):
		return KindImageContent
	case errors.As(err, &fileErr):
		return KindMissingFile
	case errors.As(err, &backErr):
		return KindBackendDispatch
	case errors.As(err, &initErr):
		return KindBackendInit
	default:
		return KindOther
	}
}
