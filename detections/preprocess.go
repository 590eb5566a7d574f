package detections

import (
	"fmt"
	"image"
	"runtime"
	"sync"

	"golang.org/x/sys/cpu"
)

// Rows are split across workers only on CPUs with wide vector units, where
// the per-row conversion is cheap enough for the fan-out to pay off.
var vectorCapable = cpu.X86.HasAVX2 || cpu.X86.HasSSE41 || cpu.ARM64.HasASIMD

// Preprocessor converts a resized image into the model's planar float layout.
type Preprocessor struct {
	width, height int
	numWorkers    int
}

func NewPreprocessor() *Preprocessor {
	workers := 1
	if vectorCapable {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Preprocessor{
		width:      InputWidth,
		height:     InputHeight,
		numWorkers: workers,
	}
}

func (p *Preprocessor) Strategy() string {
	if p.numWorkers > 1 {
		return fmt.Sprintf("parallel(%d)", p.numWorkers)
	}
	return "generic"
}

// Process writes img into dst as three planes (R, G, B). img must already be
// InputWidth x InputHeight.
func (p *Preprocessor) Process(img image.Image, dst []float32) error {
	b := img.Bounds()
	if b.Dx() != p.width || b.Dy() != p.height {
		return fmt.Errorf("image is %dx%d, want %dx%d", b.Dx(), b.Dy(), p.width, p.height)
	}
	if len(dst) < p.width*p.height*3 {
		return fmt.Errorf("input buffer holds %d values, want %d", len(dst), p.width*p.height*3)
	}

	row := func(y int, dst []float32) { p.genericRow(img, y, dst) }
	if nrgba, ok := img.(*image.NRGBA); ok {
		row = func(y int, dst []float32) { p.nrgbaRow(nrgba, y, dst) }
	}

	if p.numWorkers <= 1 {
		for y := 0; y < p.height; y++ {
			row(y, dst)
		}
		return nil
	}

	rowsPerWorker := (p.height + p.numWorkers - 1) / p.numWorkers
	var wg sync.WaitGroup
	for start := 0; start < p.height; start += rowsPerWorker {
		end := start + rowsPerWorker
		if end > p.height {
			end = p.height
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				row(y, dst)
			}
		}(start, end)
	}
	wg.Wait()
	return nil
}

func (p *Preprocessor) nrgbaRow(img *image.NRGBA, y int, dst []float32) {
	channelSize := p.width * p.height
	start := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
	src := img.Pix[start : start+p.width*4]
	offset := y * p.width
	for x := 0; x < p.width; x++ {
		i := offset + x
		dst[i] = float32(src[x*4]) / 255.0
		dst[channelSize+i] = float32(src[x*4+1]) / 255.0
		dst[channelSize*2+i] = float32(src[x*4+2]) / 255.0
	}
}

func (p *Preprocessor) genericRow(img image.Image, y int, dst []float32) {
	channelSize := p.width * p.height
	origin := img.Bounds().Min
	offset := y * p.width
	for x := 0; x < p.width; x++ {
		i := offset + x
		r, g, b, _ := img.At(origin.X+x, origin.Y+y).RGBA()
		dst[i] = float32(r>>8) / 255.0
		dst[channelSize+i] = float32(g>>8) / 255.0
		dst[channelSize*2+i] = float32(b>>8) / 255.0
	}
}
