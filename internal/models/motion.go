package models

// MotionState грубая классификация движения по недавней скорости
type MotionState string

const (
	MotionStationary MotionState = "stationary"
	MotionWalking    MotionState = "walking"
	MotionRunning    MotionState = "running"
)

// IsMoving возвращает true для Walking и Running
func (m MotionState) IsMoving() bool {
	return m == MotionWalking || m == MotionRunning
}
