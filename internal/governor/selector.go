package governor

import (
	"fmt"
	"math"
)

// ModelClass identifies a model size on the quality ladder.
type ModelClass string

// Model ladder, largest first. Selection steps down this ladder when VRAM is
// short, after concurrency has already been reduced.
const (
	ModelLarge  ModelClass = "large"
	ModelMedium ModelClass = "medium"
	ModelSmall  ModelClass = "small"
	ModelBase   ModelClass = "base"
	ModelTiny   ModelClass = "tiny"
)

// modelLadder orders classes from most to least capable.
var modelLadder = []ModelClass{ModelLarge, ModelMedium, ModelSmall, ModelBase, ModelTiny}

// vramFloorGB is the minimum VRAM each model class needs to load.
var vramFloorGB = map[ModelClass]float64{
	ModelLarge:  10,
	ModelMedium: 5,
	ModelSmall:  2,
	ModelBase:   1,
	ModelTiny:   0.5,
}

const (
	// diarizationVRAMGB is the extra VRAM the diarization pipeline needs.
	diarizationVRAMGB = 2.0

	// DefaultPerTaskVRAMGB sizes per-task concurrency.
	DefaultPerTaskVRAMGB = 3.5

	// maxConcurrency caps parallel heavy tasks regardless of VRAM.
	maxConcurrency = 4
)

// Selection is the resource plan for a requested workload.
type Selection struct {
	Model             ModelClass
	BatchSize         int
	EnableDiarization bool
	MaxConcurrency    int
	Reason            string
}

// Selector picks a model class, batch size and concurrency that fit the
// advertised VRAM. Degradation priority: reduce concurrency first, then step
// down the model ladder, and disable diarization only as a last resort.
type Selector struct {
	vramGB        float64
	perTaskVRAMGB float64
}

// NewSelector creates a selector for the given VRAM budget. Non-positive
// per-task VRAM falls back to the default.
func NewSelector(vramGB, perTaskVRAMGB float64) *Selector {
	if perTaskVRAMGB <= 0 {
		perTaskVRAMGB = DefaultPerTaskVRAMGB
	}
	return &Selector{vramGB: vramGB, perTaskVRAMGB: perTaskVRAMGB}
}

// Select plans resources for the target model class and diarization request.
func (s *Selector) Select(target ModelClass, wantDiarization bool) Selection {
	if _, ok := vramFloorGB[target]; !ok {
		target = ModelMedium
	}

	concurrency := s.concurrencyFor(s.vramGB)

	// Walk the ladder from the requested class downward until one fits,
	// first with diarization (when requested), then without.
	diarization := wantDiarization
	for {
		for _, class := range ladderFrom(target) {
			need := vramFloorGB[class]
			if diarization {
				need += diarizationVRAMGB
			}
			if s.vramGB >= need {
				return Selection{
					Model:             class,
					BatchSize:         batchSizeFor(s.vramGB),
					EnableDiarization: diarization,
					MaxConcurrency:    concurrency,
					Reason:            selectionReason(target, class, wantDiarization, diarization, s.vramGB),
				}
			}
		}

		if !diarization {
			break
		}
		// Nothing fits with diarization, drop it and retry the ladder.
		diarization = false
	}

	// Below even the tiny floor: run tiny at minimum settings.
	return Selection{
		Model:             ModelTiny,
		BatchSize:         batchSizeFor(s.vramGB),
		EnableDiarization: false,
		MaxConcurrency:    1,
		Reason:            fmt.Sprintf("vram %.1fGB below tiny floor, forcing minimum settings", s.vramGB),
	}
}

// concurrencyFor returns max(1, min(4, floor(vram / perTask))).
func (s *Selector) concurrencyFor(vramGB float64) int {
	n := int(math.Floor(vramGB / s.perTaskVRAMGB))
	if n < 1 {
		return 1
	}
	if n > maxConcurrency {
		return maxConcurrency
	}
	return n
}

// batchSizeFor scales batch size stepwise with VRAM bands.
func batchSizeFor(vramGB float64) int {
	switch {
	case vramGB >= 16:
		return 32
	case vramGB >= 8:
		return 16
	case vramGB >= 4:
		return 8
	default:
		return 4
	}
}

// ladderFrom returns the ladder starting at the given class.
func ladderFrom(start ModelClass) []ModelClass {
	for i, class := range modelLadder {
		if class == start {
			return modelLadder[i:]
		}
	}
	return modelLadder
}

func selectionReason(target, got ModelClass, wantedDiar, gotDiar bool, vramGB float64) string {
	switch {
	case target == got && wantedDiar == gotDiar:
		return fmt.Sprintf("requested %s fits in %.1fGB", target, vramGB)
	case target != got && wantedDiar == gotDiar:
		return fmt.Sprintf("stepped down %s to %s for %.1fGB", target, got, vramGB)
	default:
		return fmt.Sprintf("disabled diarization to fit %s in %.1fGB", got, vramGB)
	}
}
