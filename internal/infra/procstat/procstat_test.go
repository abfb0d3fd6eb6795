package procstat

import (
	"os"
	"os/exec"
	"runtime"
	"testing"
	"time"
)

func TestSamplerComputesCPUPercent(t *testing.T) {
	t.Parallel()

	cpu := []time.Duration{0, 2 * time.Second}
	s := &Sampler{
		cpus: 2,
		cpuTime: func() (time.Duration, error) {
			d := cpu[0]
			cpu = cpu[1:]
			return d, nil
		},
		rss: func() (uint64, error) { return 4096, nil },
	}
	start := time.Unix(0, 0)
	first := s.Sample(start)
	if first.CPUPercent != 0 || first.RSS != 4096 {
		t.Fatalf("first sample = %+v", first)
	}
	second := s.Sample(start.Add(2 * time.Second))
	if second.CPUPercent != 50 {
		t.Fatalf("cpu = %v, want 50", second.CPUPercent)
	}
	if second.Used() < 4096 {
		t.Fatalf("used = %d", second.Used())
	}
}

func TestParseStat(t *testing.T) {
	t.Parallel()

	state, err := parseState("1234 (git (push)) Z 1 1234 1234 0 -1")
	if err != nil || state != 'Z' {
		t.Fatalf("state = %c, %v", state, err)
	}
	if _, err := parseState("garbage"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseStatm(t *testing.T) {
	t.Parallel()

	rss, err := parseStatm("1000 250 30 1 0 100 0\n", 4096)
	if err != nil || rss != 250*4096 {
		t.Fatalf("rss = %d, %v", rss, err)
	}
	if _, err := parseStatm("1", 4096); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStateOfSelfAndZombie(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("requires /proc")
	}
	state, err := State(os.Getpid())
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state == 'Z' {
		t.Fatalf("self reported as zombie")
	}

	cmd := exec.Command("true")
	if err := cmd.Start(); err != nil {
		t.Skipf("start true: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for !IsZombie(cmd.Process.Pid) {
		if time.Now().After(deadline) {
			t.Fatalf("child never became a zombie")
		}
		time.Sleep(10 * time.Millisecond)
	}
	_ = cmd.Wait()
	if IsZombie(cmd.Process.Pid) {
		t.Fatalf("reaped child still a zombie")
	}
}
