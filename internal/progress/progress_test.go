package progress

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestReportRecoversPanics(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	var fn Func = func(done, total int) { panic("ui gone") }
	assert.NotPanics(t, func() { fn.Report(log, "page", 1, 3) })
	assert.Contains(t, buf.String(), "progress callback failed")
	assert.Contains(t, buf.String(), "ui gone")
}

func TestReportNilIsNoop(t *testing.T) {
	var fn Func
	var pct PercentFunc
	assert.NotPanics(t, func() {
		fn.Report(zerolog.Nop(), "page", 1, 1)
		pct.Report(zerolog.Nop(), "cover", 100)
	})
}

func TestReportPassesValues(t *testing.T) {
	var got []int
	var pct PercentFunc = func(p int) { got = append(got, p) }

	pct.Report(zerolog.Nop(), "cover", 0)
	pct.Report(zerolog.Nop(), "cover", 50)
	pct.Report(zerolog.Nop(), "cover", 100)

	assert.Equal(t, []int{0, 50, 100}, got)
}
