package differ

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/visiona/retina/internal/event"
)

// lum mirrors the differencer's float32 luminance so the oracle and the
// implementation round identically.
func lum(b, g, r byte) float32 {
	return float32(r)*lumR + float32(g)*lumG + float32(b)*lumB
}

// TestPixelLawProperty checks, over random pixel pairs and thresholds, that
// an event is emitted exactly when |diff| > threshold and that its polarity
// matches the sign of the luminance change.
func TestPixelLawProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("event iff |diff| > threshold, polarity = sign(diff)", prop.ForAll(
		func(pb, pg, pr, cb, cg, cr, th uint8) bool {
			prev := []byte{pb, pg, pr, 255}
			cur := []byte{cb, cg, cr, 255}

			d, err := New(Config{Width: 1, Height: 1, Threshold: float32(th), Stride: 1, MaxEvents: 4, Workers: 1})
			if err != nil {
				return false
			}
			events := d.Diff(cur, prev, func() uint64 { return 0 })

			diff := lum(cb, cg, cr) - lum(pb, pg, pr)
			abs := diff
			if abs < 0 {
				abs = -abs
			}
			if abs <= float32(th) {
				return len(events) == 0
			}
			if len(events) != 1 {
				return false
			}
			want := event.PolarityDown
			if diff > 0 {
				want = event.PolarityUp
			}
			return events[0].Polarity == want
		},
		gen.UInt8(), gen.UInt8(), gen.UInt8(),
		gen.UInt8(), gen.UInt8(), gen.UInt8(),
		gen.UInt8(),
	))

	properties.TestingRun(t)
}
