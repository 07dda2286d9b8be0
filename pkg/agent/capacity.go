package agent

import (
	"runtime"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

// DetectResources probes the host for offered capacity when --resources is
// not given. Above 1 GB of memory, 1 GB is left for the host.
func DetectResources() types.Resources {
	cpus := runtime.NumCPU()
	if cpus < 1 {
		cpus = 1
	}

	mem, err := detectMemoryMB()
	if err != nil {
		log.Logger.Warn().Err(err).Msg("failed to auto-detect memory, defaulting to 1024 MB")
		mem = 1024
	} else if mem > 1024 {
		mem -= 1024
	}

	return types.Resources{
		"cpus": float64(cpus),
		"mem":  float64(mem),
	}
}
