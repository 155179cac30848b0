package wujihand

import "fmt"

// JointGrid holds one value per joint, indexed [finger][joint].
type JointGrid = [NumFingers][NumJoints]float64

// NewJointGrid builds a JointGrid from row slices, validating the
// shape at runtime. Useful when values arrive from parsed input rather
// than literals.
func NewJointGrid(rows [][]float64) (JointGrid, error) {
	var grid JointGrid
	if len(rows) != NumFingers {
		return grid, &ParameterError{
			Op:     "joint grid",
			Reason: fmt.Sprintf("expected %d rows, got %d", NumFingers, len(rows)),
		}
	}
	for f, row := range rows {
		if len(row) != NumJoints {
			return grid, &ParameterError{
				Op:     "joint grid",
				Reason: fmt.Sprintf("row %d: expected %d values, got %d", f, NumJoints, len(row)),
			}
		}
		copy(grid[f][:], row)
	}
	return grid, nil
}

// UniformGrid returns a JointGrid with every joint set to v.
func UniformGrid(v float64) JointGrid {
	var grid JointGrid
	for f := range grid {
		for j := range grid[f] {
			grid[f][j] = v
		}
	}
	return grid
}
