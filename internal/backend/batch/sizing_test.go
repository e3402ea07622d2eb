package batch

import (
	"testing"

	"github.com/stratumbio/teskit/internal/model"
)

func TestSelectVMSize(t *testing.T) {
	cases := []struct {
		name string
		res  model.Resources
		want string
	}{
		{"defaults", model.Resources{}, "Standard_A1_v2"},
		{"many cores", model.Resources{CPUCores: 64}, "Standard_D64_v3"},
		{"cores and memory", model.Resources{CPUCores: 32, RAMGB: 384}, "Standard_G5"},
		{"memory only", model.Resources{RAMGB: 256}, "Standard_D64_v3"},
		{"large disk", model.Resources{DiskGB: 6144}, "Standard_G5"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := selectVMSize(c.res)
			if err != nil {
				t.Fatalf("selectVMSize(%+v): %v", c.res, err)
			}
			if got != c.want {
				t.Errorf("selectVMSize(%+v) = %q, want %q", c.res, got, c.want)
			}
		})
	}
}

func TestSelectVMSizeNoFit(t *testing.T) {
	if _, err := selectVMSize(model.Resources{DiskGB: 10000}); err == nil {
		t.Error("selectVMSize with 10TB disk succeeded, want error")
	}
	if _, err := selectVMSize(model.Resources{CPUCores: 128}); err == nil {
		t.Error("selectVMSize with 128 cores succeeded, want error")
	}
}
