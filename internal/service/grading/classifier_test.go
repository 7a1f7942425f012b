package grading

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/livsafe-api/internal/model"
)

// encodePNG draws a w x h image whose pixel at (x, y) is shade(x, y).
func encodePNG(t *testing.T, w, h int, shade func(x, y int) uint8) []byte {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: shade(x, y)})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestExtractFeatures(t *testing.T) {
	flat := encodePNG(t, 8, 8, func(int, int) uint8 { return 200 })
	f := ExtractFeatures(flat, 0)
	assert.True(t, f.Valid)
	assert.Equal(t, "png", f.Format)
	assert.InDelta(t, 200, f.Mean, 0.001)
	assert.InDelta(t, 0, f.Std, 0.001)

	// half black, half white
	split := encodePNG(t, 4, 4, func(x, _ int) uint8 {
		if x < 2 {
			return 0
		}
		return 255
	})
	f = ExtractFeatures(split, 0)
	assert.InDelta(t, 127.5, f.Mean, 0.001)
	assert.InDelta(t, 127.5, f.Std, 0.001)
}

func TestExtractFeaturesUndecodable(t *testing.T) {
	f := ExtractFeatures([]byte("definitely not an image"), 0)
	assert.False(t, f.Valid)
	assert.Equal(t, float64(placeholderMean), f.Mean)
	assert.Equal(t, float64(placeholderStd), f.Std)
}

// pngHeader returns the signature and IHDR chunk of an 8-bit grayscale PNG
// declaring w x h pixels, with no image data after it.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], w)
	binary.BigEndian.PutUint32(ihdr[4:8], h)
	ihdr[8] = 8 // bit depth; color type, compression, filter and interlace stay 0

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestExtractFeaturesPixelLimit(t *testing.T) {
	img := encodePNG(t, 100, 100, func(int, int) uint8 { return 10 })

	f := ExtractFeatures(img, 10_000)
	assert.True(t, f.Valid)
	assert.InDelta(t, 10, f.Mean, 0.001)

	f = ExtractFeatures(img, 9_999)
	assert.False(t, f.Valid)
	assert.True(t, f.Oversized)
	assert.Equal(t, float64(placeholderMean), f.Mean)
	assert.Equal(t, float64(placeholderStd), f.Std)
}

func TestExtractFeaturesHugeDeclaredSize(t *testing.T) {
	// 50000 x 50000 would need 2.5 GB once decoded
	f := ExtractFeatures(pngHeader(50_000, 50_000), 0)
	assert.False(t, f.Valid)
	assert.True(t, f.Oversized)

	// a small header without pixel data is merely undecodable
	f = ExtractFeatures(pngHeader(10, 10), 0)
	assert.False(t, f.Valid)
	assert.False(t, f.Oversized)
}

func TestTrueGrade(t *testing.T) {
	tests := []struct {
		mean, std float64
		want      model.Grade
	}{
		{0, 128, model.GradeF0},
		{0, 300, model.GradeF0},
		{60, 100, model.GradeF1},
		{128, 64, model.GradeF2},
		{180, 40, model.GradeF3},
		{200, 0, model.GradeF4},
		{400, -5, model.GradeF4},
	}

	for _, tt := range tests {
		got := TrueGrade(Features{Mean: tt.mean, Std: tt.std, Valid: true})
		assert.Equal(t, tt.want, got, "mean=%v std=%v", tt.mean, tt.std)
	}
}

func TestSimulatedClassifierRanges(t *testing.T) {
	c := NewSimulatedClassifier(7)
	inputs := []Features{
		{Mean: 10, Std: 120, Valid: true},
		{Mean: 200, Std: 5, Valid: true},
		{Mean: placeholderMean, Std: placeholderStd},
	}

	seen := map[model.Grade]bool{}
	for i := 0; i < 1000; i++ {
		p, err := c.Classify(context.Background(), inputs[i%len(inputs)])
		require.NoError(t, err)
		require.True(t, p.Grade.Valid(), p.Grade)

		lo, hi := ConfidenceRange(p.Grade)
		require.GreaterOrEqual(t, p.Confidence, lo)
		require.LessOrEqual(t, p.Confidence, hi)
		seen[p.Grade] = true
	}
	assert.Len(t, seen, len(model.Grades))
}

func TestSimulatedClassifierIsSeeded(t *testing.T) {
	a := NewSimulatedClassifier(42)
	b := NewSimulatedClassifier(42)
	f := Features{Mean: 128, Std: 64, Valid: true}

	for i := 0; i < 20; i++ {
		pa, _ := a.Classify(context.Background(), f)
		pb, _ := b.Classify(context.Background(), f)
		assert.Equal(t, pa, pb)
	}
}

func TestSimulatedClassifierFollowsBucket(t *testing.T) {
	c := NewSimulatedClassifier(1)
	bright := Features{Mean: 250, Std: 2, Valid: true}

	counts := map[model.Grade]int{}
	for i := 0; i < 2000; i++ {
		p, _ := c.Classify(context.Background(), bright)
		counts[p.Grade]++
	}
	// F4 is drawn with probability 0.7 from the F4 bucket
	assert.Greater(t, counts[model.GradeF4], 1200)
	assert.Less(t, counts[model.GradeF0], 100)
}

func TestNarrative(t *testing.T) {
	f0 := Narrative(model.GradeF0)
	require.Len(t, f0, 7)
	assert.Equal(t, "The ultrasound shows no significant hepatic fibrosis consistent with F0 grade (Metavir scale). Key findings include:", f0[0])
	assert.Equal(t, "Normal heterogeneity of liver parenchyma", f0[1])
	assert.Equal(t, "Portal vein diameter within normal range (10.0mm)", f0[2])
	assert.Equal(t, "No nodularity of liver surface", f0[3])
	assert.Equal(t, "No periportal fibrosis visible", f0[4])
	assert.Equal(t, "Spleen size normal (11.0cm)", f0[5])
	assert.Equal(t, "Recommended follow-up: Repeat ultrasound in 12 months to monitor progression.", f0[6])

	f4 := Narrative(model.GradeF4)
	assert.Equal(t, "Portal vein diameter enlarged (12.0mm)", f4[2])
	assert.Equal(t, "Significant nodularity of liver surface", f4[3])
	assert.Equal(t, "Spleen size enlarged (14.2cm)", f4[5])
	assert.Equal(t, "Recommended follow-up: Repeat ultrasound in 2 months to monitor progression.", f4[6])

	assert.Nil(t, Narrative(model.Grade("F9")))
	assert.Equal(t, f4, SplitAnalysis(JoinAnalysis(f4)))
}

func TestRemoteClassifier(t *testing.T) {
	var status int
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c := NewRemoteClassifier(srv.URL, time.Second)
	assert.Equal(t, "remote", c.Name())
	f := Features{Mean: 100, Std: 30, Valid: true}

	status, body = http.StatusOK, `{"grade":"F2","confidence":88}`
	p, err := c.Classify(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, Prediction{Grade: model.GradeF2, Confidence: 88}, p)

	status, body = http.StatusOK, `{"grade":"F7","confidence":88}`
	_, err = c.Classify(context.Background(), f)
	assert.Error(t, err)

	status, body = http.StatusOK, `{"grade":"F1","confidence":180}`
	_, err = c.Classify(context.Background(), f)
	assert.Error(t, err)

	status, body = http.StatusBadRequest, `{"error":"bad features"}`
	_, err = c.Classify(context.Background(), f)
	assert.Error(t, err)
}
