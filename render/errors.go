package render

import "errors"

var (
	// ErrEngineNotRunning is returned for work submitted before Start or after the loop stopped
	ErrEngineNotRunning = errors.New("render engine not running")
	// ErrEngineStarted is returned by a second call to Start
	ErrEngineStarted = errors.New("render engine already started")
	// ErrEngineDisposed completes a still capture that was outstanding at dispose
	ErrEngineDisposed = errors.New("render engine disposed")
	// ErrCaptureInProgress rejects a still capture while another is outstanding
	ErrCaptureInProgress = errors.New("still capture already in progress")
	// ErrEmptyImage is returned for nil or zero-sized still images
	ErrEmptyImage = errors.New("empty image")
)
