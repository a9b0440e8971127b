package annotation

// Point is a single vertex of a token's bounding polygon, in image pixels.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Token is one unit of recognized text together with its bounding geometry.
// The OCR service guarantees no particular token order.
type Token struct {
	Text   string  `json:"text"`
	Bounds []Point `json:"bounds"` // ordered polygon, usually four vertices
}

// Annotation is the raw OCR result for one image: an unordered token list.
type Annotation struct {
	Tokens []Token `json:"tokens"`
}

// Left returns the smallest X coordinate of the token's polygon.
func (t Token) Left() int {
	if len(t.Bounds) == 0 {
		return 0
	}
	min := t.Bounds[0].X
	for _, p := range t.Bounds[1:] {
		if p.X < min {
			min = p.X
		}
	}
	return min
}

// Right returns the largest X coordinate of the token's polygon.
func (t Token) Right() int {
	if len(t.Bounds) == 0 {
		return 0
	}
	max := t.Bounds[0].X
	for _, p := range t.Bounds[1:] {
		if p.X > max {
			max = p.X
		}
	}
	return max
}

// Top returns the smallest Y coordinate of the token's polygon.
func (t Token) Top() int {
	if len(t.Bounds) == 0 {
		return 0
	}
	min := t.Bounds[0].Y
	for _, p := range t.Bounds[1:] {
		if p.Y < min {
			min = p.Y
		}
	}
	return min
}

// Bottom returns the largest Y coordinate of the token's polygon.
func (t Token) Bottom() int {
	if len(t.Bounds) == 0 {
		return 0
	}
	max := t.Bounds[0].Y
	for _, p := range t.Bounds[1:] {
		if p.Y > max {
			max = p.Y
		}
	}
	return max
}

// CenterY returns the vertical center of the token's polygon.
func (t Token) CenterY() int {
	return (t.Top() + t.Bottom()) / 2
}

// Height returns the vertical extent of the token's polygon.
func (t Token) Height() int {
	return t.Bottom() - t.Top()
}
