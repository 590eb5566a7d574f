package detections

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"time"

	"github.com/Tutortoise/posture-service/models"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"
)

type ModelSession struct {
	Session      *ort.AdvancedSession
	Input        *ort.Tensor[float32]
	Landmarks    *ort.Tensor[float32]
	PoseFlag     *ort.Tensor[float32]
	preprocessor *Preprocessor
}

func (m *ModelSession) Destroy() {
	if m.Session != nil {
		m.Session.Destroy()
	}
	if m.Input != nil {
		m.Input.Destroy()
	}
	if m.Landmarks != nil {
		m.Landmarks.Destroy()
	}
	if m.PoseFlag != nil {
		m.PoseFlag.Destroy()
	}
}

type ProcessingError struct {
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// InitRuntime loads the ONNX Runtime shared library.
func InitRuntime(libPath string) error {
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initializing onnxruntime: %w", err)
	}
	return nil
}

func DestroyRuntime() error {
	return ort.DestroyEnvironment()
}

// NewModelSession loads the pose landmark model with preallocated tensors.
func NewModelSession(modelPath string) (*ModelSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	options.SetIntraOpNumThreads(runtime.NumCPU())
	options.SetInterOpNumThreads(runtime.NumCPU())

	m := &ModelSession{preprocessor: NewPreprocessor()}

	m.Input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, InputHeight, InputWidth))
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}
	m.Landmarks, err = ort.NewEmptyTensor[float32](ort.NewShape(1, NumLandmarks*LandmarkValues))
	if err != nil {
		m.Destroy()
		return nil, fmt.Errorf("error creating landmarks tensor: %w", err)
	}
	m.PoseFlag, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		m.Destroy()
		return nil, fmt.Errorf("error creating pose flag tensor: %w", err)
	}

	m.Session, err = ort.NewAdvancedSession(
		modelPath,
		[]string{InputName},
		[]string{LandmarksName, PoseFlagName},
		[]ort.Value{m.Input},
		[]ort.Value{m.Landmarks, m.PoseFlag},
		options,
	)
	if err != nil {
		m.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}
	return m, nil
}

// ProcessImage estimates the pose landmarks in img, retrying transient failures.
func ProcessImage(ctx context.Context, img image.Image, model *ModelSession, presence float32, timings *models.ProcessingTimings) ([]models.Frame, error) {
	var lastErr error
	for attempt := 1; attempt <= RetryAttempts; attempt++ {
		if attempt > 1 {
			backoff := time.NewTimer(time.Duration(attempt-1) * RetryDelayMs * time.Millisecond)
			select {
			case <-ctx.Done():
				backoff.Stop()
				return nil, ctx.Err()
			case <-backoff.C:
			}
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}

		frames, err := processImageInternal(img, model, presence, timings)
		if err == nil {
			return frames, nil
		}
		lastErr = err
	}
	return nil, &ProcessingError{Message: "pose estimation failed", Cause: lastErr}
}

func processImageInternal(img image.Image, model *ModelSession, presence float32, timings *models.ProcessingTimings) ([]models.Frame, error) {
	// Normalized coordinates survive a non-uniform resize, so no letterboxing.
	resizeStart := time.Now()
	resized := imaging.Resize(img, InputWidth, InputHeight, imaging.Linear)
	timings.Resize = time.Since(resizeStart)

	prepStart := time.Now()
	if err := model.preprocessor.Process(resized, model.Input.GetData()); err != nil {
		return nil, fmt.Errorf("prepare input buffer: %w", err)
	}
	timings.Preprocess = time.Since(prepStart)

	inferStart := time.Now()
	if err := model.Session.Run(); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}
	timings.Inference = time.Since(inferStart)

	postStart := time.Now()
	frames, err := decodeLandmarks(model.Landmarks.GetData(), model.PoseFlag.GetData()[0], presence)
	if err != nil {
		return nil, fmt.Errorf("process predictions: %w", err)
	}
	timings.Postprocess = time.Since(postStart)

	return frames, nil
}
