package fee

import (
	"strings"
	"testing"
)

func validGroup() ClusterGroupConfig {
	return ClusterGroupConfig{
		Clusters: []Cluster{
			{StartAddr: 0, Length: 256},
			{StartAddr: 256, Length: 256},
		},
		ReservedSize: 48,
	}
}

func TestConfigValidate_Accepts(t *testing.T) {
	cfg := Config{
		Blocks: []BlockConfig{
			{Number: 1, Size: 16, ClusterGroup: 0},
			{Number: 2, Size: 16, ClusterGroup: 0},
			{Number: 3, Size: 8, ClusterGroup: 0, Immediate: true},
		},
		Groups: []ClusterGroupConfig{validGroup()},
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConfigValidate_NoGroups(t *testing.T) {
	cfg := Config{Blocks: []BlockConfig{{Number: 1, Size: 16, ClusterGroup: 0}}}
	err := cfg.validate()
	if err == nil || !strings.Contains(err.Error(), "no cluster groups configured") {
		t.Fatalf("want 'no cluster groups configured', got %v", err)
	}
}

func TestConfigValidate_TooFewClusters(t *testing.T) {
	cfg := Config{
		Groups: []ClusterGroupConfig{{Clusters: []Cluster{{StartAddr: 0, Length: 256}}}},
	}
	err := cfg.validate()
	if err == nil || !strings.Contains(err.Error(), "needs at least 2 clusters") {
		t.Fatalf("want cluster-count complaint, got %v", err)
	}
}

func TestConfigValidate_ClusterTooSmall(t *testing.T) {
	cfg := Config{
		Groups: []ClusterGroupConfig{{
			Clusters: []Cluster{{StartAddr: 0, Length: 64}, {StartAddr: 64, Length: 64}},
		}},
	}
	err := cfg.validate()
	if err == nil || !strings.Contains(err.Error(), "below minimum") {
		t.Fatalf("want minimum-length complaint, got %v", err)
	}
}

func TestConfigValidate_CatalogNotAscending(t *testing.T) {
	cfg := Config{
		Blocks: []BlockConfig{
			{Number: 2, Size: 16, ClusterGroup: 0},
			{Number: 1, Size: 16, ClusterGroup: 0},
		},
		Groups: []ClusterGroupConfig{validGroup()},
	}
	err := cfg.validate()
	if err == nil || !strings.Contains(err.Error(), "not strictly ascending") {
		t.Fatalf("want ascending-order complaint, got %v", err)
	}
}

func TestConfigValidate_DuplicateBlockNumber(t *testing.T) {
	cfg := Config{
		Blocks: []BlockConfig{
			{Number: 1, Size: 16, ClusterGroup: 0},
			{Number: 1, Size: 16, ClusterGroup: 0},
		},
		Groups: []ClusterGroupConfig{validGroup()},
	}
	err := cfg.validate()
	if err == nil || !strings.Contains(err.Error(), "not strictly ascending") {
		t.Fatalf("duplicate numbers should trip the ascending check, got %v", err)
	}
}

func TestConfigValidate_ZeroSize(t *testing.T) {
	cfg := Config{
		Blocks: []BlockConfig{{Number: 1, Size: 0, ClusterGroup: 0}},
		Groups: []ClusterGroupConfig{validGroup()},
	}
	err := cfg.validate()
	if err == nil || !strings.Contains(err.Error(), "size must be > 0") {
		t.Fatalf("want size complaint, got %v", err)
	}
}

func TestConfigValidate_ClusterGroupOutOfRange(t *testing.T) {
	cfg := Config{
		Blocks: []BlockConfig{{Number: 1, Size: 16, ClusterGroup: 3}},
		Groups: []ClusterGroupConfig{validGroup()},
	}
	err := cfg.validate()
	if err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Fatalf("want out-of-range complaint, got %v", err)
	}
}

func TestConfigValidate_AccumulatesAllProblems(t *testing.T) {
	cfg := Config{
		Blocks: []BlockConfig{
			{Number: 2, Size: 0, ClusterGroup: 5},
			{Number: 1, Size: 16, ClusterGroup: 0},
		},
		Groups: []ClusterGroupConfig{{Clusters: []Cluster{{StartAddr: 0, Length: 64}}}},
	}
	err := cfg.validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"needs at least 2 clusters", "below minimum", "not strictly ascending", "size must be > 0", "out of range"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing expected problem %q:\n%v", want, err)
		}
	}
}

func TestConfigLookup(t *testing.T) {
	cfg := Config{Blocks: []BlockConfig{
		{Number: 1, Size: 16},
		{Number: 5, Size: 16},
		{Number: 9, Size: 16},
	}}

	if idx, ok := cfg.lookup(5); !ok || idx != 1 {
		t.Fatalf("lookup(5) = (%d, %v), want (1, true)", idx, ok)
	}
	if idx, ok := cfg.lookup(1); !ok || idx != 0 {
		t.Fatalf("lookup(1) = (%d, %v), want (0, true)", idx, ok)
	}
	if idx, ok := cfg.lookup(9); !ok || idx != 2 {
		t.Fatalf("lookup(9) = (%d, %v), want (2, true)", idx, ok)
	}
	if _, ok := cfg.lookup(4); ok {
		t.Fatalf("lookup(4) should miss")
	}
	if _, ok := cfg.lookup(100); ok {
		t.Fatalf("lookup(100) should miss past the end")
	}
}

func TestAlignToPage(t *testing.T) {
	cases := map[uint32]uint32{0: 0, 1: 8, 7: 8, 8: 8, 9: 16, 16: 16, 17: 24}
	for in, want := range cases {
		if got := alignToPage(in); got != want {
			t.Errorf("alignToPage(%d) = %d, want %d", in, got, want)
		}
	}
}
