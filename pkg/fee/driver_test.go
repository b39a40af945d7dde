package fee

// memDriver is a synchronous in-memory Driver: every Erase/Write/Read
// completes before the call returns, which makes crash-point tests
// deterministic (the caller controls exactly how many MainFunction calls to
// pump before abandoning the engine and "restarting" on the same backing
// array).
type memDriver struct {
	mem    []byte
	result JobResult
}

func newMemDriver(size uint32) *memDriver {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = ErasedValue
	}
	return &memDriver{mem: mem, result: JobResultOK}
}

func (d *memDriver) Erase(addr, length uint32) error {
	for i := addr; i < addr+length; i++ {
		d.mem[i] = ErasedValue
	}
	d.result = JobResultOK
	return nil
}

func (d *memDriver) Write(addr uint32, buf []byte) error {
	copy(d.mem[addr:], buf)
	d.result = JobResultOK
	return nil
}

func (d *memDriver) Read(addr uint32, buf []byte) error {
	copy(buf, d.mem[addr:])
	d.result = JobResultOK
	return nil
}

func (d *memDriver) JobResult() JobResult {
	return d.result
}

// pumpUntilIdle drives MainFunction until the engine reports idle, bailing
// out (and failing the test) if it takes implausibly long, so a scheduler
// bug shows up as a test failure instead of a hang.
func pumpUntilIdle(t interface{ Fatalf(string, ...any) }, e *Engine) {
	for i := 0; i < 10_000; i++ {
		if e.GetStatus() == StatusIdle || e.GetStatus() == StatusUninit {
			return
		}
		e.MainFunction()
	}
	t.Fatalf("engine did not reach idle after 10000 MainFunction calls")
}
