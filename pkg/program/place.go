package program

import "fmt"

// Place selects the device a session executes on.
type Place struct {
	Kind   PlaceKind
	Device int
}

type PlaceKind int

const (
	CPU PlaceKind = iota
	GPU
)

func CPUPlace() Place { return Place{Kind: CPU} }

func GPUPlace(device int) Place { return Place{Kind: GPU, Device: device} }

func (p Place) String() string {
	switch p.Kind {
	case CPU:
		return "cpu"
	case GPU:
		return fmt.Sprintf("gpu:%d", p.Device)
	default:
		return fmt.Sprintf("place(%d)", int(p.Kind))
	}
}

// Check verifies the placement is usable on this build. Only CPU execution
// is available; asking for a GPU is a setup failure, not something Run can
// recover from later.
func (p Place) Check() error {
	switch p.Kind {
	case CPU:
		return nil
	case GPU:
		return fmt.Errorf("device placement %v is not available in this build", p)
	default:
		return fmt.Errorf("unknown device placement %v", p)
	}
}
