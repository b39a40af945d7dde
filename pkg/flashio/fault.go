package flashio

import (
	"math/rand/v2"

	"github.com/flagchip/feerom/pkg/fee"
)

// FaultConfig controls fault injection probabilities. Each rate is a
// float64 from 0.0 (never) to 1.0 (always). The zero value disables all
// injection.
type FaultConfig struct {
	// EraseFailRate controls how often Erase reports JobResultFailed.
	EraseFailRate float64

	// WriteFailRate controls how often Write reports JobResultFailed.
	WriteFailRate float64

	// ReadFailRate controls how often Read reports JobResultFailed.
	ReadFailRate float64

	// TornWriteRate controls how often an otherwise-successful Write only
	// partially lands: a random prefix (at least one [fee.VirtualPageSize]
	// page) is committed to the backing driver and the rest is silently
	// dropped, while JobResult still reports OK — simulating a torn write
	// the hardware itself can't detect, the case the engine's checksums
	// exist to catch.
	TornWriteRate float64
}

// FaultDriver wraps a [fee.Driver], injecting failures and torn writes
// ahead of the real operation so tests can exercise the engine's error and
// corruption-recovery paths without hand-crafting a corrupt image.
type FaultDriver struct {
	inner fee.Driver
	cfg   FaultConfig
	rng   *rand.Rand

	result fee.JobResult
}

// NewFaultDriver wraps inner with the given fault rates, seeded from seed
// for reproducible test runs.
func NewFaultDriver(inner fee.Driver, cfg FaultConfig, seed uint64) *FaultDriver {
	return &FaultDriver{
		inner:  inner,
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(seed, seed)),
		result: fee.JobResultOK,
	}
}

func (d *FaultDriver) Erase(addr, length uint32) error {
	if d.rng.Float64() < d.cfg.EraseFailRate {
		d.result = fee.JobResultFailed
		return nil
	}
	if err := d.inner.Erase(addr, length); err != nil {
		return err
	}
	d.result = d.inner.JobResult()
	return nil
}

func (d *FaultDriver) Write(addr uint32, buf []byte) error {
	if d.rng.Float64() < d.cfg.WriteFailRate {
		d.result = fee.JobResultFailed
		return nil
	}

	if len(buf) > fee.VirtualPageSize && d.rng.Float64() < d.cfg.TornWriteRate {
		pages := len(buf) / fee.VirtualPageSize
		torn := 1 + d.rng.IntN(pages-1)
		buf = buf[:torn*fee.VirtualPageSize]
	}

	if err := d.inner.Write(addr, buf); err != nil {
		return err
	}
	d.result = d.inner.JobResult()
	return nil
}

func (d *FaultDriver) Read(addr uint32, buf []byte) error {
	if d.rng.Float64() < d.cfg.ReadFailRate {
		d.result = fee.JobResultFailed
		return nil
	}

	if err := d.inner.Read(addr, buf); err != nil {
		return err
	}
	d.result = d.inner.JobResult()
	return nil
}

func (d *FaultDriver) JobResult() fee.JobResult {
	return d.result
}

// SetConfig replaces the active fault rates. Tests use this to turn
// injection on for a specific window of calls (say, the handful of reads a
// swap issues) and back off again, rather than rolling the dice for every
// operation over an entire scenario.
func (d *FaultDriver) SetConfig(cfg FaultConfig) {
	d.cfg = cfg
}

var _ fee.Driver = (*FaultDriver)(nil)
