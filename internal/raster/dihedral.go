package raster

// Dihedral operations are exact index remaps: no interpolation, no loss.
// Rot90 follows the counter-clockwise convention: for an H×W input the
// output is W×H with out[i][j] = in[j][W-1-i]. FlipH mirrors left-right.

// Rot90 rotates the plane counter-clockwise by k quarter turns (k mod 4).
func (p Plane) Rot90(k int) Plane {
	k = ((k % 4) + 4) % 4
	switch k {
	case 0:
		return p.Clone()
	case 2:
		out := NewPlane(p.H, p.W)
		n := len(p.Pix)
		for i := 0; i < n; i++ {
			out.Pix[i] = p.Pix[n-1-i]
		}
		return out
	case 1:
		out := NewPlane(p.W, p.H)
		for i := 0; i < p.W; i++ {
			for j := 0; j < p.H; j++ {
				out.Pix[i*p.H+j] = p.Pix[j*p.W+(p.W-1-i)]
			}
		}
		return out
	default: // k == 3, clockwise quarter turn
		out := NewPlane(p.W, p.H)
		for i := 0; i < p.W; i++ {
			for j := 0; j < p.H; j++ {
				out.Pix[i*p.H+j] = p.Pix[(p.H-1-j)*p.W+i]
			}
		}
		return out
	}
}

// FlipH mirrors the plane left-right: out[i][j] = in[i][W-1-j].
func (p Plane) FlipH() Plane {
	out := NewPlane(p.H, p.W)
	for r := 0; r < p.H; r++ {
		for c := 0; c < p.W; c++ {
			out.Pix[r*p.W+c] = p.Pix[r*p.W+(p.W-1-c)]
		}
	}
	return out
}

// Rot90 rotates all channels counter-clockwise by k quarter turns.
func (ps Planes) Rot90(k int) Planes {
	out := Planes{C: ps.C, Ch: make([]Plane, ps.C)}
	for i, ch := range ps.Ch {
		out.Ch[i] = ch.Rot90(k)
	}
	if ps.C > 0 {
		out.H = out.Ch[0].H
		out.W = out.Ch[0].W
	} else {
		out.H, out.W = ps.H, ps.W
		if k%2 != 0 {
			out.H, out.W = ps.W, ps.H
		}
	}
	return out
}

// FlipH mirrors all channels left-right.
func (ps Planes) FlipH() Planes {
	out := Planes{H: ps.H, W: ps.W, C: ps.C, Ch: make([]Plane, ps.C)}
	for i, ch := range ps.Ch {
		out.Ch[i] = ch.FlipH()
	}
	return out
}
