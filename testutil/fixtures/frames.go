// Package fixtures 提供测试用的帧图片与推理结果样例。
package fixtures

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/BaSui01/svdflow/payload"
)

// JPEGFrame 生成一张 w×h 的纯色 JPEG，shade 不同则字节不同
func JPEGFrame(t testing.TB, w, h int, shade uint8) []byte {
	t.Helper()
	return MakeJPEG(w, h, shade)
}

// MakeJPEG 同 JPEGFrame，供没有 testing.TB 的 mock 使用
func MakeJPEG(w, h int, shade uint8) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	c := color.RGBA{R: shade, G: 255 - shade, B: shade / 2, A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// EncodedFrames 生成 n 张 base64 编码的 JPEG
func EncodedFrames(n, w, h int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = base64.StdEncoding.EncodeToString(MakeJPEG(w, h, uint8(i*40)))
	}
	return out
}

// Frames 生成 n 张互不相同的 JPEG
func Frames(t testing.TB, n, w, h int) [][]byte {
	t.Helper()
	out := make([][]byte, n)
	for i := range out {
		out[i] = JPEGFrame(t, w, h, uint8(i*40))
	}
	return out
}

// Result 构造包含 n 帧的推理结果
func Result(t testing.TB, title string, fps, n int) *payload.Result {
	t.Helper()
	return &payload.Result{
		Frames: EncodedFrames(n, 16, 16),
		Config: payload.ResultConfig{MovieTitle: title, FPS: fps, NumFrames: n},
	}
}

// ResultJSON 同 Result 但直接返回 JSON
func ResultJSON(t testing.TB, title string, fps, n int) []byte {
	t.Helper()
	data, err := Result(t, title, fps, n).Marshal()
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	return data
}

// Request 有效的 URL 图片请求
func Request(title string, frames, fps int) *payload.Request {
	p := payload.DefaultParams()
	p.NumFrames = frames
	p.FPS = fps
	req := &payload.Request{
		MovieTitle:        title,
		Image:             "https://example.com/rocket.png",
		Width:             p.Width,
		Height:            p.Height,
		NumFrames:         p.NumFrames,
		NumInferenceSteps: p.NumInferenceSteps,
		MinGuidanceScale:  p.MinGuidanceScale,
		MaxGuidanceScale:  p.MaxGuidanceScale,
		FPS:               p.FPS,
		MotionBucketID:    p.MotionBucketID,
		NoiseAugStrength:  p.NoiseAugStrength,
		DecodeChunkSize:   p.DecodeChunkSize,
		Seed:              p.Seed,
	}
	return req
}
