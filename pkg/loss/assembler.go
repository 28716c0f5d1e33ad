// Package loss assembles the training objective: a reconstruction term,
// a structural similarity term and an optional flow-based photometric
// term, together with the analytic gradient of the objective with
// respect to the rendered frame.
package loss

import (
	"fmt"

	"github.com/aquarend/go-water-splatting/pkg/core"
	"github.com/chewxy/math32"
)

const regEpsilon = 1e-3

// Reconstruction term variants
const (
	ReconL1    = "l1"
	ReconRegL1 = "reg_l1"
	ReconRegL2 = "reg_l2"
)

// Structural term variants
const (
	SSIMPlain = "ssim"
	SSIMReg   = "reg_ssim"
)

// Config selects the objective terms and their weights
type Config struct {
	ReconType  string  `yaml:"recon_type"`
	SSIMType   string  `yaml:"ssim_type"`
	SSIMLambda float32 `yaml:"ssim_lambda"`
	UseFlow    bool    `yaml:"use_flow"`
	FlowWeight float32 `yaml:"flow_weight"`
}

// DefaultConfig returns the standard objective for underwater scenes
func DefaultConfig() Config {
	return Config{
		ReconType:  ReconRegL1,
		SSIMType:   SSIMReg,
		SSIMLambda: 0.2,
		UseFlow:    false,
		FlowWeight: 0.1,
	}
}

// Validate rejects unknown term variants up front
func (c Config) Validate() error {
	switch c.ReconType {
	case ReconL1, ReconRegL1, ReconRegL2:
	default:
		return fmt.Errorf("unknown reconstruction loss %q", c.ReconType)
	}
	switch c.SSIMType {
	case SSIMPlain, SSIMReg:
	default:
		return fmt.Errorf("unknown ssim loss %q", c.SSIMType)
	}
	return nil
}

// Result carries the term values and the gradient of the total with
// respect to the rendered frame. The photometric term is evaluated on
// ground-truth frames only and contributes no gradient.
type Result struct {
	Total float32
	Recon float32
	SSIM  float32
	Photo float32
	DPred *core.Image
}

// Compute evaluates the objective for one rendered frame against its
// ground truth. gtNext and flow feed the photometric term and may be nil
// when flow supervision is off; a missing flow with UseFlow set is a
// configuration fault, not a skippable condition. mask, when non-nil,
// restricts both frames before the gradient-bearing terms.
func Compute(cfg Config, pred, gt *core.Image, gtNext *core.Image, flow *core.FlowField, mask *core.ScalarField) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	res := &Result{}

	if cfg.UseFlow {
		if flow == nil || gtNext == nil {
			return nil, fmt.Errorf("flow supervision enabled but no predicted flow for this frame")
		}
		resized := ResizeFlow(flow, gt.Width, gt.Height)
		res.Photo = MeanAbsDiff(WarpImage(gtNext, resized), gt)
	}

	workPred, workGt := pred, gt
	if mask != nil {
		workPred = applyMask(pred, mask)
		workGt = applyMask(gt, mask)
	}

	recon, dRecon := reconTerm(cfg.ReconType, workPred, workGt)
	res.Recon = recon

	ssimVal, dSSIM := ssimTerm(cfg.SSIMType, workPred, workGt)
	res.SSIM = 1 - ssimVal

	res.Total = (1-cfg.SSIMLambda)*recon + cfg.SSIMLambda*res.SSIM + cfg.FlowWeight*res.Photo

	dPred := core.NewImage(pred.Width, pred.Height)
	wr := 1 - cfg.SSIMLambda
	for i := range dPred.Pix {
		// d(1-ssim)/dpred = -dssim/dpred
		dPred.Pix[i] = wr*dRecon[i] - cfg.SSIMLambda*dSSIM[i]
	}
	if mask != nil {
		chainMask(dPred, mask)
	}
	res.DPred = dPred
	return res, nil
}

// reconTerm returns the reconstruction loss and its per-element gradient
// with respect to pred. The regularized variants divide by a detached
// copy of the prediction, so the denominator carries no gradient.
func reconTerm(kind string, pred, gt *core.Image) (float32, []float32) {
	n := float32(len(pred.Pix))
	grad := make([]float32, len(pred.Pix))
	var sum float32
	switch kind {
	case ReconL1:
		for i := range pred.Pix {
			d := gt.Pix[i] - pred.Pix[i]
			sum += math32.Abs(d)
			grad[i] = -sign(d) / n
		}
	case ReconRegL1:
		for i := range pred.Pix {
			denom := pred.Pix[i] + regEpsilon
			d := (gt.Pix[i] - pred.Pix[i]) / denom
			sum += math32.Abs(d)
			grad[i] = -sign(d) / denom / n
		}
	case ReconRegL2:
		for i := range pred.Pix {
			denom := pred.Pix[i] + regEpsilon
			d := (gt.Pix[i] - pred.Pix[i]) / denom
			sum += d * d
			grad[i] = -2 * d / denom / n
		}
	}
	return sum / n, grad
}

// ssimTerm returns the structural similarity value and d(ssim)/dpred
func ssimTerm(kind string, pred, gt *core.Image) (float32, []float32) {
	x, y := pred, gt
	var denom []float32
	if kind == SSIMReg {
		denom = make([]float32, len(pred.Pix))
		x = core.NewImage(pred.Width, pred.Height)
		y = core.NewImage(pred.Width, pred.Height)
		for i := range pred.Pix {
			denom[i] = pred.Pix[i] + regEpsilon
			x.Pix[i] = pred.Pix[i] / denom[i]
			y.Pix[i] = gt.Pix[i] / denom[i]
		}
	}
	s := NewSSIM(pred.Width, pred.Height)
	fwd := s.Forward(x, y)
	grad := s.Backward(fwd, 1)
	if denom != nil {
		// only the numerator of pred/denom carries gradient
		for i := range grad.Pix {
			grad.Pix[i] /= denom[i]
		}
	}
	return fwd.Mean, grad.Pix
}

func applyMask(img *core.Image, mask *core.ScalarField) *core.Image {
	out := core.NewImage(img.Width, img.Height)
	for p := 0; p < img.Width*img.Height; p++ {
		m := mask.Data[p]
		out.Pix[p*3+0] = img.Pix[p*3+0] * m
		out.Pix[p*3+1] = img.Pix[p*3+1] * m
		out.Pix[p*3+2] = img.Pix[p*3+2] * m
	}
	return out
}

func chainMask(grad *core.Image, mask *core.ScalarField) {
	for p := 0; p < grad.Width*grad.Height; p++ {
		m := mask.Data[p]
		grad.Pix[p*3+0] *= m
		grad.Pix[p*3+1] *= m
		grad.Pix[p*3+2] *= m
	}
}

func sign(v float32) float32 {
	if v > 0 {
		return 1
	}
	if v < 0 {
		return -1
	}
	return 0
}
