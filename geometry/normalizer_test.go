package geometry

import (
	"testing"
	"time"

	iface "EdgeScan/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pixel encodes (x, y) into the red and green channels.
func gridFrame(w, h int) iface.Frame {
	f := iface.NewFrame(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 3
			f.Pix[i] = byte(x)
			f.Pix[i+1] = byte(y)
			f.Pix[i+2] = 7
		}
	}
	f.Seq = 42
	f.Timestamp = time.Unix(1700000000, 0)
	return f
}

func at(f iface.Frame, x, y int) (byte, byte) {
	i := (y*f.Width + x) * 3
	return f.Pix[i], f.Pix[i+1]
}

func TestParseRotation(t *testing.T) {
	for deg, want := range map[int]Rotation{0: None, 90: Rot90, 180: Rot180, 270: Rot270} {
		got, err := ParseRotation(deg)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, deg, got.Degrees())
	}
	for _, deg := range []int{45, -90, 360, 1} {
		_, err := ParseRotation(deg)
		var cfgErr *iface.ConfigurationError
		assert.ErrorAs(t, err, &cfgErr)
	}
}

func TestNormalize_Identity(t *testing.T) {
	f := gridFrame(32, 24)
	out, err := Normalize(f, None, 32, 24)
	require.NoError(t, err)
	assert.Equal(t, f.Pix, out.Pix)
	assert.Equal(t, f.Seq, out.Seq)
	assert.Equal(t, f.Timestamp, out.Timestamp)

	out.Pix[0] = 0xff
	assert.Equal(t, byte(0), f.Pix[0], "input must not be aliased")
}

func TestNormalize_CenterCrop(t *testing.T) {
	f := gridFrame(640, 480)
	out, err := Normalize(f, None, 320, 320)
	require.NoError(t, err)
	assert.Equal(t, 320, out.Width)
	assert.Equal(t, 320, out.Height)
	x, y := at(out, 0, 0)
	assert.Equal(t, byte(160%256), x)
	assert.Equal(t, byte(80), y)

	// odd remainder floors
	f = gridFrame(101, 51)
	out, err = Normalize(f, None, 96, 48)
	require.NoError(t, err)
	x, y = at(out, 0, 0)
	assert.Equal(t, byte(2), x)
	assert.Equal(t, byte(1), y)
}

func TestNormalize_Rotations(t *testing.T) {
	f := gridFrame(4, 2)

	t.Run("90 clockwise", func(t *testing.T) {
		out, err := Normalize(f, Rot90, 2, 4)
		require.NoError(t, err)
		// source bottom-left lands top-left
		x, y := at(out, 0, 0)
		assert.Equal(t, [2]byte{0, 1}, [2]byte{x, y})
		x, y = at(out, 1, 0)
		assert.Equal(t, [2]byte{0, 0}, [2]byte{x, y})
	})

	t.Run("180", func(t *testing.T) {
		out, err := Normalize(f, Rot180, 4, 2)
		require.NoError(t, err)
		x, y := at(out, 0, 0)
		assert.Equal(t, [2]byte{3, 1}, [2]byte{x, y})
	})

	t.Run("270 clockwise", func(t *testing.T) {
		out, err := Normalize(f, Rot270, 2, 4)
		require.NoError(t, err)
		// source top-right lands top-left
		x, y := at(out, 0, 0)
		assert.Equal(t, [2]byte{3, 0}, [2]byte{x, y})
	})
}

func TestNormalize_TooSmall(t *testing.T) {
	_, err := Normalize(gridFrame(90, 90), None, 96, 96)
	assert.ErrorIs(t, err, ErrFrameTooSmall)

	_, err = Normalize(iface.Frame{}, None, 96, 96)
	assert.ErrorIs(t, err, iface.ErrNoFrame)
}

func TestNormalize_Malformed(t *testing.T) {
	t.Run("truncated buffer", func(t *testing.T) {
		f := iface.Frame{Width: 4, Height: 4, Channels: 3, Pix: make([]byte, 10)}
		for _, rot := range []Rotation{None, Rot90} {
			_, err := Normalize(f, rot, 2, 2)
			assert.ErrorIs(t, err, iface.ErrNoFrame)
		}
	})

	t.Run("zero channels", func(t *testing.T) {
		f := iface.Frame{Width: 4, Height: 4, Pix: make([]byte, 48)}
		for _, rot := range []Rotation{None, Rot180} {
			_, err := Normalize(f, rot, 2, 2)
			assert.ErrorIs(t, err, iface.ErrNoFrame)
		}
	})

	t.Run("single channel", func(t *testing.T) {
		f := iface.Frame{Width: 4, Height: 4, Channels: 1, Pix: make([]byte, 16)}
		_, err := Normalize(f, Rot270, 2, 2)
		assert.ErrorIs(t, err, iface.ErrNoFrame)
	})
}

func TestValidateCapture(t *testing.T) {
	assert.NoError(t, ValidateCapture(640, 480, None, 320, 320))
	assert.NoError(t, ValidateCapture(640, 480, Rot90, 480, 640))
	assert.Error(t, ValidateCapture(640, 480, Rot90, 640, 480))
	assert.Error(t, ValidateCapture(320, 240, None, 320, 320))
	assert.Error(t, ValidateCapture(320, 240, None, 0, 10))

	n := NewNormalizer(Rot180, 2, 2)
	out, err := n.Normalize(gridFrame(4, 4))
	require.NoError(t, err)
	x, y := at(out, 0, 0)
	assert.Equal(t, [2]byte{2, 2}, [2]byte{x, y})
}
