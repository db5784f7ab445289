// Package camera holds the pure coordinate transforms between world, camera
// and pixel space. All functions are side-effect free and never mutate their
// inputs.
package camera

import (
	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/mat"
)

// depthEps guards the projection against joints sitting on the camera plane.
const depthEps = 1e-8

// NewRotation builds the 3x3 camera rotation matrix from its row-major
// calibration representation.
func NewRotation(rows [3][3]float64) *mat.Dense {
	r := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r.Set(i, j, rows[i][j])
		}
	}
	return r
}

// WorldToCam transforms world-space joints into camera space via
// cam = R * (world - T), with T the camera position.
func WorldToCam(world []mgl64.Vec3, r *mat.Dense, t mgl64.Vec3) []mgl64.Vec3 {
	n := len(world)
	shifted := mat.NewDense(3, n, nil)
	for j, w := range world {
		shifted.Set(0, j, w.X()-t.X())
		shifted.Set(1, j, w.Y()-t.Y())
		shifted.Set(2, j, w.Z()-t.Z())
	}

	var rotated mat.Dense
	rotated.Mul(r, shifted)

	cam := make([]mgl64.Vec3, n)
	for j := range cam {
		cam[j] = mgl64.Vec3{rotated.At(0, j), rotated.At(1, j), rotated.At(2, j)}
	}
	return cam
}

// CamToPixel projects camera-space joints onto the image plane. The output z
// is fixed to 0: pixel space carries no usable depth, depth travels separately.
func CamToPixel(cam []mgl64.Vec3, f, c mgl64.Vec2) []mgl64.Vec3 {
	pix := make([]mgl64.Vec3, len(cam))
	for j, p := range cam {
		x := p.X()/(p.Z()+depthEps)*f.X() + c.X()
		y := p.Y()/(p.Z()+depthEps)*f.Y() + c.Y()
		pix[j] = mgl64.Vec3{x, y, 0}
	}
	return pix
}

// PixelToCam back-projects pixel coordinates with known depth into camera
// space. The z component passes through unchanged.
func PixelToCam(pix []mgl64.Vec3, f, c mgl64.Vec2) []mgl64.Vec3 {
	cam := make([]mgl64.Vec3, len(pix))
	for j, p := range pix {
		x := (p.X() - c.X()) / f.X() * p.Z()
		y := (p.Y() - c.Y()) / f.Y() * p.Z()
		cam[j] = mgl64.Vec3{x, y, p.Z()}
	}
	return cam
}

// PixelToCamPoint back-projects a single (x, y, depth) point.
func PixelToCamPoint(p mgl64.Vec3, f, c mgl64.Vec2) mgl64.Vec3 {
	return PixelToCam([]mgl64.Vec3{p}, f, c)[0]
}
