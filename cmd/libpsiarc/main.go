// Command libpsiarc builds a C-shared library (`go build -buildmode=c-shared`)
// exposing the TRS-ODE controller singleton in internal/abi. The exported
// functions mirror the reference FFI layer's surface under a psiarc_
// prefix and return its numeric error codes.
package main

import "C"

import (
	"unsafe"

	"github.com/fenilsonani/psitrajectory/internal/abi"
)

//export psiarc_init
func psiarc_init(numOscillators C.uint) C.int {
	return C.int(abi.Init(uint32(numOscillators)))
}

//export psiarc_init_snapshot
func psiarc_init_snapshot(buffer *C.uchar, size C.size_t) C.int {
	if buffer == nil || size == 0 {
		return C.int(abi.InvalidParameter)
	}
	buf := unsafe.Slice((*byte)(unsafe.Pointer(buffer)), int(size))
	return C.int(abi.InitSnapshot(buf))
}

//export psiarc_state_len
func psiarc_state_len() C.uint {
	return C.uint(abi.StateLen())
}

//export psiarc_num_oscillators
func psiarc_num_oscillators() C.uint {
	return C.uint(abi.NumOscillators())
}

//export psiarc_get_phase
func psiarc_get_phase(out *C.double, size C.uint) C.int {
	if out == nil {
		return C.int(abi.InvalidParameter)
	}
	dst := unsafe.Slice((*float64)(unsafe.Pointer(out)), int(size))
	return C.int(abi.GetPhase(dst))
}

//export psiarc_set_state
func psiarc_set_state(state *C.double, size C.uint) C.int {
	if state == nil {
		return C.int(abi.InvalidParameter)
	}
	src := unsafe.Slice((*float64)(unsafe.Pointer(state)), int(size))
	return C.int(abi.SetState(src))
}

//export psiarc_step
func psiarc_step() C.int {
	return C.int(abi.Step())
}

//export psiarc_integrate
func psiarc_integrate(steps C.uint) C.int {
	return C.int(abi.Integrate(uint32(steps)))
}

// psiarc_get_stats returns the fields of internal/abi.Stats through six
// caller-owned out-pointers, one per field in Stats' field order, since
// cgo cannot export a Go struct type to C callers.
//
//export psiarc_get_stats
func psiarc_get_stats(
	trsLoss *C.double,
	lastDt *C.double,
	steps *C.ulonglong,
	totalTime *C.double,
	maxPositionError *C.double,
	maxMomentumError *C.double,
) C.int {
	if trsLoss == nil || lastDt == nil || steps == nil || totalTime == nil || maxPositionError == nil || maxMomentumError == nil {
		return C.int(abi.InvalidParameter)
	}

	var stats abi.Stats
	code := abi.GetStats(&stats)
	if code != abi.NoError {
		return C.int(code)
	}

	*trsLoss = C.double(stats.TRSLoss)
	*lastDt = C.double(stats.LastDt)
	*steps = C.ulonglong(stats.Steps)
	*totalTime = C.double(stats.TotalTime)
	*maxPositionError = C.double(stats.MaxPositionError)
	*maxMomentumError = C.double(stats.MaxMomentumError)
	return C.int(abi.NoError)
}

//export psiarc_shutdown
func psiarc_shutdown() C.int {
	return C.int(abi.Shutdown())
}

func main() {}
