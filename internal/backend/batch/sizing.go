package batch

import (
	"fmt"

	"github.com/stratumbio/teskit/internal/model"
)

// Fallback requirements applied when a task declares no resources.
const (
	fallbackCPUCores = 1
	fallbackMemGiB   = 2
	fallbackDiskGiB  = 10
)

// gbToGiB converts the TES decimal gigabytes into binary gibibytes.
const gbToGiB = 1e9 / (1 << 30)

type vmSize struct {
	sku  string
	cpu  int
	mem  float64
	disk int
}

// vmsByPreference is ordered cheapest-first; selection takes the first SKU
// satisfying all requirements.
var vmsByPreference = []vmSize{
	{"Standard_A1_v2", 1, 2, 10},
	{"Standard_A2m_v2", 2, 16, 20},
	{"Standard_A2_v2", 2, 4, 20},
	{"Standard_A4m_v2", 4, 32, 40},
	{"Standard_A4_v2", 4, 8, 40},
	{"Standard_A8m_v2", 8, 64, 80},
	{"Standard_A8_v2", 8, 16, 80},
	{"Standard_D2_v3", 2, 8, 50},
	{"Standard_D4_v3", 4, 16, 100},
	{"Standard_D8_v3", 8, 32, 200},
	{"Standard_D16_v3", 16, 64, 400},
	{"Standard_D32_v3", 32, 128, 800},
	{"Standard_D64_v3", 64, 256, 1600},
	{"Standard_G1", 2, 28, 384},
	{"Standard_G2", 4, 56, 768},
	{"Standard_G3", 8, 112, 1536},
	{"Standard_G4", 16, 224, 3072},
	{"Standard_G5", 32, 448, 6144},
}

// selectVMSize picks the first VM SKU whose capacity covers the task's
// declared resources.
func selectVMSize(res model.Resources) (string, error) {
	cpu := res.CPUCores
	if cpu == 0 {
		cpu = fallbackCPUCores
	}
	mem := float64(res.RAMGB) * gbToGiB
	if mem == 0 {
		mem = fallbackMemGiB
	}
	disk := float64(res.DiskGB) * gbToGiB
	if disk == 0 {
		disk = fallbackDiskGiB
	}

	for _, vm := range vmsByPreference {
		if vm.cpu >= cpu && vm.mem >= mem && float64(vm.disk) >= disk {
			return vm.sku, nil
		}
	}
	return "", fmt.Errorf("no VM size satisfies cpu=%d mem=%.1fGiB disk=%.1fGiB", cpu, mem, disk)
}
