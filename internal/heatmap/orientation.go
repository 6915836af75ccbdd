package heatmap

// Orientation describes how raw sensor frames are turned before evaluation.
// Rotation counts quarter turns and is taken mod 4; negative values are
// allowed. Frames are rotated clockwise by Rotation quarter turns (the
// inverse of the display rotation), then flipped along the row axis when
// FlipX is set, then along the column axis when FlipY is set.
type Orientation struct {
	Rotation int  `json:"rotation"`
	FlipX    bool `json:"flip_x"`
	FlipY    bool `json:"flip_y"`
}

// QuarterTurns returns Rotation normalised into [0, 4).
func (o Orientation) QuarterTurns() int {
	r := o.Rotation % 4
	if r < 0 {
		r += 4
	}
	return r
}

// Degrees returns the display rotation in degrees.
func (o Orientation) Degrees() int { return o.QuarterTurns() * 90 }

// Grid is a row-major 2D array of sensor values.
type Grid struct {
	Shape
	Values []int
}

// At returns the value at (row, col).
func (g Grid) At(row, col int) int { return g.Values[g.Idx(row, col)] }

// Rows2D returns the grid as a slice of rows.
func (g Grid) Rows2D() [][]int {
	out := make([][]int, g.Shape.Rows)
	for i := range out {
		out[i] = append([]int(nil), g.Values[i*g.Cols:(i+1)*g.Cols]...)
	}
	return out
}

// Rotate turns the grid clockwise by quarterTurns (mod 4). Rotating an
// r x c grid by an odd count yields a c x r grid.
func Rotate(g Grid, quarterTurns int) Grid {
	turns := Orientation{Rotation: quarterTurns}.QuarterTurns()
	out := g
	for i := 0; i < turns; i++ {
		out = rotateClockwise(out)
	}
	return out
}

func rotateClockwise(g Grid) Grid {
	out := Grid{
		Shape:  Shape{Rows: g.Cols, Cols: g.Shape.Rows},
		Values: make([]int, len(g.Values)),
	}
	for i := 0; i < out.Shape.Rows; i++ {
		for j := 0; j < out.Cols; j++ {
			out.Values[out.Idx(i, j)] = g.At(g.Shape.Rows-1-j, i)
		}
	}
	return out
}

// FlipRows reverses the order of rows.
func FlipRows(g Grid) Grid {
	out := Grid{Shape: g.Shape, Values: make([]int, len(g.Values))}
	for i := 0; i < g.Shape.Rows; i++ {
		copy(out.Values[i*g.Cols:(i+1)*g.Cols], g.Values[(g.Shape.Rows-1-i)*g.Cols:(g.Shape.Rows-i)*g.Cols])
	}
	return out
}

// FlipCols reverses each row.
func FlipCols(g Grid) Grid {
	out := Grid{Shape: g.Shape, Values: make([]int, len(g.Values))}
	for i := 0; i < g.Shape.Rows; i++ {
		for j := 0; j < g.Cols; j++ {
			out.Values[g.Idx(i, j)] = g.At(i, g.Cols-1-j)
		}
	}
	return out
}

// Normalize applies o to g: rotation first, then the row flip, then the
// column flip.
func Normalize(g Grid, o Orientation) Grid {
	out := Rotate(g, o.QuarterTurns())
	if o.FlipX {
		out = FlipRows(out)
	}
	if o.FlipY {
		out = FlipCols(out)
	}
	return out
}
