package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/bainblan/Whos-There/internal/metrics"
	"github.com/bainblan/Whos-There/internal/rhythm"
)

const (
	minKnocks = 3
	maxKnocks = 8
)

var (
	tempos = []int{90, 100, 110, 120, 132, 144}
	// note lengths in sixteenths
	subdivisions = []int{1, 2, 2, 4, 4, 4, 6, 8}
)

// RandomProvider generates rhythms locally from musical subdivisions of a
// random tempo. Custom prompts seed the generator so the same prompt
// always yields the same rhythm.
type RandomProvider struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomProvider creates a generator. seed 0 picks a random seed.
func NewRandomProvider(seed uint64) *RandomProvider {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &RandomProvider{rng: rand.New(rand.NewPCG(seed, seed>>1|1))}
}

// Name identifies the provider in logs and metrics.
func (p *RandomProvider) Name() string { return "random" }

// Generate builds a rhythm of 3 to 8 knocks.
func (p *RandomProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		metrics.ProviderRequests.WithLabelValues(p.Name(), string(req.Mode), "invalid").Inc()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rng *rand.Rand
	if req.Mode == ModeCustom {
		h := fnv.New64a()
		_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(req.UserPrompt))))
		sum := h.Sum64()
		rng = rand.New(rand.NewPCG(sum, sum>>1|1))
	} else {
		p.mu.Lock()
		rng = rand.New(rand.NewPCG(p.rng.Uint64(), p.rng.Uint64()))
		p.mu.Unlock()
	}

	bpm := tempos[rng.IntN(len(tempos))]
	sixteenth := 60000 / bpm / 4
	knocks := minKnocks + rng.IntN(maxKnocks-minKnocks+1)

	seq := make(rhythm.Sequence, knocks-1)
	for i := range seq {
		seq[i] = subdivisions[rng.IntN(len(subdivisions))] * sixteenth
	}

	desc := fmt.Sprintf("%d knocks at %d bpm", knocks, bpm)
	if req.Mode == ModeCustom {
		desc = strings.TrimSpace(req.UserPrompt)
	}

	metrics.ProviderRequests.WithLabelValues(p.Name(), string(req.Mode), "ok").Inc()
	return &Response{Description: desc, Intervals: seq}, nil
}
