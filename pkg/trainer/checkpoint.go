package trainer

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/aquarend/go-water-splatting/pkg/splat"
)

// checkpoint is the serialized model state. Optimizer moments are not
// stored: resuming restarts Adam cold, matching the resize-on-load
// semantics where the stored population shape wins over whatever the
// freshly constructed model allocated.
type checkpoint struct {
	Step     int `json:"step"`
	SHDegree int `json:"sh_degree"`

	Means        []float32 `json:"means"`
	LogScales    []float32 `json:"log_scales"`
	Quats        []float32 `json:"quats"`
	FeaturesDC   []float32 `json:"features_dc"`
	FeaturesRest []float32 `json:"features_rest"`
	Opacities    []float32 `json:"opacities"`

	MediumDims    []int     `json:"medium_dims"`
	MediumWeights []float32 `json:"medium_weights"`
	DensityBias   float32   `json:"density_bias"`
}

// SaveCheckpoint writes the model state to path
func (m *Model) SaveCheckpoint(path string, step int) error {
	ck := checkpoint{
		Step:          step,
		SHDegree:      m.Store.SHDegree,
		Means:         m.Store.Means,
		LogScales:     m.Store.LogScales,
		Quats:         m.Store.Quats,
		FeaturesDC:    m.Store.FeaturesDC,
		FeaturesRest:  m.Store.FeaturesRest,
		Opacities:     m.Store.Opacities,
		MediumDims:    m.Medium.MLP.Dims,
		MediumWeights: m.Medium.MLP.Weights,
		DensityBias:   m.Medium.DensityBias,
	}
	data, err := json.Marshal(&ck)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	m.logger.Printf("checkpoint saved: %s (%d gaussians, step %d)\n", path, m.Store.Len(), step)
	return nil
}

// LoadCheckpoint restores model state from path and returns the stored
// step. The stored primitive count wins: the model's store and optimizer
// shadow states are re-allocated to the stored shape before restore.
func (m *Model) LoadCheckpoint(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	var ck checkpoint
	if err := json.Unmarshal(data, &ck); err != nil {
		return 0, fmt.Errorf("failed to parse checkpoint: %w", err)
	}
	if ck.SHDegree != m.Store.SHDegree {
		return 0, fmt.Errorf("checkpoint SH degree %d does not match model degree %d", ck.SHDegree, m.Store.SHDegree)
	}
	if len(ck.MediumDims) != len(m.Medium.MLP.Dims) || len(ck.MediumWeights) != len(m.Medium.MLP.Weights) {
		return 0, fmt.Errorf("checkpoint medium topology %v does not match model %v", ck.MediumDims, m.Medium.MLP.Dims)
	}

	store := &splat.Store{
		SHDegree:     ck.SHDegree,
		Means:        ck.Means,
		LogScales:    ck.LogScales,
		Quats:        ck.Quats,
		FeaturesDC:   ck.FeaturesDC,
		FeaturesRest: ck.FeaturesRest,
		Opacities:    ck.Opacities,
	}
	if err := store.CheckConsistent(); err != nil {
		return 0, fmt.Errorf("checkpoint %s: %w", path, err)
	}

	m.Store = store
	copy(m.Medium.MLP.Weights, ck.MediumWeights)
	m.Medium.DensityBias = ck.DensityBias
	m.Opts = newOptimizers(m.cfg.Rates, store, m.Medium)
	m.logger.Printf("checkpoint loaded: %s (%d gaussians, step %d)\n", path, store.Len(), ck.Step)
	return ck.Step, nil
}
