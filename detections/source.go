package detections

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Tutortoise/posture-service/models"
	"github.com/disintegration/imaging"
)

// FrameGrabber yields video frames. io.EOF ends the stream.
type FrameGrabber interface {
	Grab(ctx context.Context) (image.Image, error)
}

// ImageSource adapts a FrameGrabber and an Estimator into a landmark source.
type ImageSource struct {
	grabber   FrameGrabber
	estimator *Estimator
}

func NewImageSource(grabber FrameGrabber, estimator *Estimator) *ImageSource {
	return &ImageSource{grabber: grabber, estimator: estimator}
}

func (s *ImageSource) Next(ctx context.Context) ([]models.Frame, error) {
	img, err := s.grabber.Grab(ctx)
	if err != nil {
		return nil, err
	}
	return s.estimator.Estimate(ctx, img, &models.ProcessingTimings{})
}

func (s *ImageSource) Close() error {
	if c, ok := s.grabber.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// DirGrabber plays back the JPEG and PNG files of a directory in name order.
type DirGrabber struct {
	files []string
	next  int
}

func NewDirGrabber(dir string) (*DirGrabber, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading frame directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}
	return &DirGrabber{files: files}, nil
}

func (g *DirGrabber) Len() int {
	return len(g.files)
}

func (g *DirGrabber) Grab(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.next >= len(g.files) {
		return nil, io.EOF
	}
	path := g.files[g.next]
	g.next++

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return img, nil
}
