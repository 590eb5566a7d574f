package detections

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/Tutortoise/posture-service/models"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirGrabber(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, imaging.Save(gradient(32, 16), filepath.Join(dir, "002.png")))
	require.NoError(t, imaging.Save(gradient(16, 32), filepath.Join(dir, "001.jpg")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o600))

	g, err := NewDirGrabber(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Len())

	ctx := context.Background()
	first, err := g.Grab(ctx)
	require.NoError(t, err)
	assert.Equal(t, 16, first.Bounds().Dx())

	second, err := g.Grab(ctx)
	require.NoError(t, err)
	assert.Equal(t, 32, second.Bounds().Dx())

	_, err = g.Grab(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestDirGrabberEmpty(t *testing.T) {
	_, err := NewDirGrabber(t.TempDir())
	assert.Error(t, err)
}

func TestDecodeImage(t *testing.T) {
	var timings models.ProcessingTimings
	_, err := DecodeImage([]byte("not an image"), &timings)

	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "failed to decode image", perr.Message)
}
