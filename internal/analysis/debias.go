package analysis

import (
	"errors"
	"fmt"

	"sramprint/internal/bitvec"
	"sramprint/internal/debias"
	"sramprint/internal/quality"
	"sramprint/internal/report"
)

// debiasPass transforms every device's samples with method and re-measures
// HW, Intra-HD and Inter-HD on the result. An odd bit length aborts the
// pairs pass as a whole; other failures only drop the affected metric.
func (a *Analyzer) debiasPass(method string, states []*deviceState) (*report.DebiasResult, []report.MetricError) {
	metric := "debias_" + method
	var errs []report.MetricError

	var transformed []quality.DeviceSamples
	res := &report.DebiasResult{Method: method, Devices: []report.DebiasDevice{}}

	for _, st := range states {
		if len(st.samples) == 0 {
			continue
		}
		id := st.info.ID
		dev := report.DebiasDevice{ID: id}

		var out []bitvec.Vector
		var err error
		switch method {
		case debias.MethodPairs:
			out, err = debias.XORPairsAll(st.samples)
			if errors.Is(err, debias.ErrOddLength) {
				return nil, []report.MetricError{metricError(metric, "", err)}
			}
		case debias.MethodBiasMask:
			var mask bitvec.Vector
			mask, err = debias.BuildBiasMask(st.samples, a.opts.BiasMask)
			if err == nil {
				dev.MaskFlips = mask.Ones()
				out, err = debias.ApplyMask(st.samples, mask)
			}
		default:
			err = fmt.Errorf("unknown debias method %q", method)
		}
		if err != nil {
			errs = append(errs, metricError(metric, id, err))
			continue
		}

		if res.BitLength == 0 && len(out) > 0 {
			res.BitLength = out[0].Len()
		}
		if hw, err := a.engine.DeviceHammingWeight(id, out); err != nil {
			errs = append(errs, metricError(metric, id, err))
		} else {
			dev.HammingWeight = &hw
		}
		if len(out) >= 2 {
			if intra, err := a.engine.IntraHD(id, out); err == nil {
				dev.IntraHD = &intra
			}
		}
		res.Devices = append(res.Devices, dev)
		transformed = append(transformed, quality.DeviceSamples{ID: id, Samples: out})
	}

	if inter, err := a.engine.InterHD(transformed, a.opts.RepresentativeIndex); err != nil {
		errs = append(errs, metricError(metric, "", err))
	} else {
		res.InterHD = &inter
	}

	a.log.Debug("debias pass complete", "method", method, "bit_length", res.BitLength, "devices", len(res.Devices))
	return res, errs
}
