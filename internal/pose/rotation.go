package pose

import "math"

// Rodrigues converts a rotation vector to a row-major rotation matrix.
func Rodrigues(r [3]float64) [9]float64 {
	theta := math.Sqrt(r[0]*r[0] + r[1]*r[1] + r[2]*r[2])
	if theta < 1e-12 {
		return [9]float64{
			1, -r[2], r[1],
			r[2], 1, -r[0],
			-r[1], r[0], 1,
		}
	}

	kx, ky, kz := r[0]/theta, r[1]/theta, r[2]/theta
	c, s := math.Cos(theta), math.Sin(theta)
	v := 1 - c

	return [9]float64{
		c + kx*kx*v, kx*ky*v - kz*s, kx*kz*v + ky*s,
		ky*kx*v + kz*s, c + ky*ky*v, ky*kz*v - kx*s,
		kz*kx*v - ky*s, kz*ky*v + kx*s, c + kz*kz*v,
	}
}

// RotationVector converts a row-major rotation matrix to its axis-angle vector.
func RotationVector(m [9]float64) [3]float64 {
	trace := m[0] + m[4] + m[8]
	cos := math.Max(-1, math.Min(1, (trace-1)/2))
	theta := math.Acos(cos)

	ax := m[7] - m[5]
	ay := m[2] - m[6]
	az := m[3] - m[1]

	switch {
	case theta < 1e-9:
		return [3]float64{ax / 2, ay / 2, az / 2}
	case math.Pi-theta < 1e-6:
		// Near pi the antisymmetric part vanishes; read the axis from R + I.
		x := math.Sqrt(math.Max(0, (m[0]+1)/2))
		y := math.Sqrt(math.Max(0, (m[4]+1)/2))
		z := math.Sqrt(math.Max(0, (m[8]+1)/2))
		if m[1] < 0 {
			y = -y
		}
		if m[2] < 0 {
			z = -z
		}
		if x == 0 && m[5] < 0 {
			z = -z
		}
		return [3]float64{x * theta, y * theta, z * theta}
	default:
		f := theta / (2 * math.Sin(theta))
		return [3]float64{ax * f, ay * f, az * f}
	}
}

func rotate(r [9]float64, p [3]float64) [3]float64 {
	return [3]float64{
		r[0]*p[0] + r[1]*p[1] + r[2]*p[2],
		r[3]*p[0] + r[4]*p[1] + r[5]*p[2],
		r[6]*p[0] + r[7]*p[1] + r[8]*p[2],
	}
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func norm3(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}
