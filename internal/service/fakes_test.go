package service

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/pipewrench-ai/pipewrench/internal/chunker"
)

const fakeDims = 32

// fakeEmbedder maps text to a deterministic bag-of-words vector so tests
// get stable, meaningful cosine similarities without a provider.
type fakeEmbedder struct {
	fail error
}

func (f *fakeEmbedder) Model() string { return "fake-embedding" }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = hashEmbed(text)
	}
	return vectors, nil
}

func hashEmbed(text string) []float32 {
	v := make([]float32, fakeDims)
	for _, token := range chunker.Tokens(text) {
		h := fnv.New32a()
		h.Write([]byte(token))
		v[h.Sum32()%fakeDims]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}
