package search

import (
	"math"
	"sort"

	"github.com/caseweave/caseweave/internal/store"
)

// fusedHit is the intermediate ranking state between retrieval and
// enrichment. evidenceID is populated when the lexical ranker saw the
// chunk; dense-only hits learn theirs during enrichment.
type fusedHit struct {
	chunkID      string
	evidenceID   string
	score        float64
	lexScore     float64
	vecScore     float64
	lexRank      int
	vecRank      int
	inBoth       bool
	matchedTerms []string
	highlights   []store.HighlightSpan
}

// Fusion combines per-ranker hit lists into a single ranking.
//
// RRF:    score(d) = Σ 1/(k + rank_i) over lists containing d
// LINEAR: score(d) = α·z(dense) + (1−α)·z(sparse)
type Fusion struct {
	Kind  FusionKind
	K     int     // RRF smoothing constant
	Alpha float64 // dense weight for LINEAR
}

// NewFusion builds a fusion from request options, filling defaults.
func NewFusion(opts Options) *Fusion {
	kind := opts.Fusion
	if kind != FusionLinear {
		kind = FusionRRF
	}
	k := opts.RRFK
	if k <= 0 {
		k = DefaultRRFK
	}
	alpha := opts.LinearAlpha
	if alpha <= 0 || alpha >= 1 {
		alpha = DefaultLinearAlpha
	}
	return &Fusion{Kind: kind, K: k, Alpha: alpha}
}

// Fuse merges the two ranked lists. Either list may be empty; single-list
// fusion preserves that ranker's order. Scores come back normalized to
// [0, 1] so thresholds behave the same under both fusion kinds.
func (f *Fusion) Fuse(lex []*store.LexicalHit, vec []*store.VectorHit) []*fusedHit {
	if len(lex) == 0 && len(vec) == 0 {
		return []*fusedHit{}
	}

	hits := collectHits(lex, vec)
	if f.Kind == FusionLinear {
		f.scoreLinear(hits)
	} else {
		f.scoreRRF(hits)
	}

	sortFused(hits)
	normalizeFused(hits)
	return hits
}

func collectHits(lex []*store.LexicalHit, vec []*store.VectorHit) []*fusedHit {
	byID := make(map[string]*fusedHit, len(lex)+len(vec))
	hits := make([]*fusedHit, 0, len(lex)+len(vec))

	get := func(id string) *fusedHit {
		if h, ok := byID[id]; ok {
			return h
		}
		h := &fusedHit{chunkID: id}
		byID[id] = h
		hits = append(hits, h)
		return h
	}

	for rank, l := range lex {
		h := get(l.ChunkID)
		h.evidenceID = l.EvidenceID
		h.lexScore = l.Score
		h.lexRank = rank + 1
		h.matchedTerms = l.MatchedTerms
		h.highlights = l.Highlights
	}
	for rank, v := range vec {
		h := get(v.ChunkID)
		h.vecScore = float64(v.Score)
		h.vecRank = rank + 1
		h.inBoth = h.lexRank > 0
	}
	return hits
}

func (f *Fusion) scoreRRF(hits []*fusedHit) {
	for _, h := range hits {
		var s float64
		if h.lexRank > 0 {
			s += 1.0 / float64(f.K+h.lexRank)
		}
		if h.vecRank > 0 {
			s += 1.0 / float64(f.K+h.vecRank)
		}
		h.score = s
	}
}

// scoreLinear z-normalizes each ranker's scores within its own list, then
// combines. A hit absent from one list takes that list's worst z-score, so
// single-ranker results still order by their native ranker.
func (f *Fusion) scoreLinear(hits []*fusedHit) {
	lexZ := rankerZScores(hits, lexScoreOf)
	vecZ := rankerZScores(hits, vecScoreOf)

	for i, h := range hits {
		h.score = f.Alpha*vecZ[i] + (1-f.Alpha)*lexZ[i]
	}
}

func lexScoreOf(h *fusedHit) (float64, bool) { return h.lexScore, h.lexRank > 0 }
func vecScoreOf(h *fusedHit) (float64, bool) { return h.vecScore, h.vecRank > 0 }

// rankerZScores returns one z-score per hit for a single ranker. Hits the
// ranker never saw receive the minimum observed z-score. A degenerate list
// (absent or zero variance) z-scores to 0.
func rankerZScores(hits []*fusedHit, scoreOf func(*fusedHit) (float64, bool)) []float64 {
	var sum, count float64
	for _, h := range hits {
		if s, ok := scoreOf(h); ok {
			sum += s
			count++
		}
	}
	z := make([]float64, len(hits))
	if count == 0 {
		return z
	}

	mean := sum / count
	var variance float64
	for _, h := range hits {
		if s, ok := scoreOf(h); ok {
			d := s - mean
			variance += d * d
		}
	}
	std := math.Sqrt(variance / count)

	worst := math.Inf(1)
	for i, h := range hits {
		s, ok := scoreOf(h)
		if !ok {
			continue
		}
		if std > 0 {
			z[i] = (s - mean) / std
		}
		if z[i] < worst {
			worst = z[i]
		}
	}
	for i, h := range hits {
		if _, ok := scoreOf(h); !ok {
			z[i] = worst
		}
	}
	return z
}

// sortFused orders by score descending with deterministic tie-breaks:
// both-list hits first, then evidence_id, then chunk_id. The engine
// re-sorts enriched results once chunk positions are known.
func sortFused(hits []*fusedHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.inBoth != b.inBoth {
			return a.inBoth
		}
		if a.evidenceID != b.evidenceID {
			return a.evidenceID < b.evidenceID
		}
		return a.chunkID < b.chunkID
	})
}

// normalizeFused rescales to [0, 1]. Non-negative scores keep their ratios
// against the max; z-combinations with negatives are min-max scaled.
func normalizeFused(hits []*fusedHit) {
	if len(hits) == 0 {
		return
	}
	max := hits[0].score
	min := hits[len(hits)-1].score

	switch {
	case max == min:
		for _, h := range hits {
			h.score = 1.0
		}
	case min >= 0:
		for _, h := range hits {
			h.score /= max
		}
	default:
		span := max - min
		for _, h := range hits {
			h.score = (h.score - min) / span
		}
	}
}
