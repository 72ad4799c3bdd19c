package audio

import "errors"

// g722Decoder decodes ITU-T G.722 (64 kbit/s mode 1) into 16 kHz PCM. The
// implementation is a port of the reference sub-band ADPCM decoder: the
// 8 kHz bitstream is split into a 6-bit lower band and 2-bit upper band,
// each run through its own adaptive predictor, then recombined with the
// QMF synthesis filter.
type g722Decoder struct {
	band [2]g722Band
	qmf  [24]int
	ptr  int
}

// g722Band holds the per-band ADPCM predictor state.
type g722Band struct {
	s   int
	sp  int
	sz  int
	r   [3]int
	a   [3]int
	ap  [3]int
	p   [3]int
	d   [7]int
	b   [7]int
	bp  [7]int
	sg  [7]int
	nb  int
	det int
}

func newG722Decoder() *g722Decoder {
	d := &g722Decoder{}
	d.band[0].det = 32
	d.band[1].det = 8
	return d
}

func (d *g722Decoder) SampleRate() int { return 16000 }

var errG722Payload = errors.New("audio: empty G.722 payload")

// quantiser tables from the ITU reference implementation.
var (
	g722WL   = [8]int{-60, -30, 58, 172, 334, 538, 1198, 3042}
	g722RL42 = [16]int{0, 7, 6, 5, 4, 3, 2, 1, 7, 6, 5, 4, 3, 2, 1, 0}
	g722ILB  = [32]int{
		2048, 2093, 2139, 2186, 2233, 2282, 2332, 2383,
		2435, 2489, 2543, 2599, 2656, 2714, 2774, 2834,
		2896, 2960, 3025, 3091, 3158, 3228, 3298, 3371,
		3444, 3520, 3597, 3676, 3756, 3838, 3922, 4008,
	}
	g722WH   = [3]int{0, -214, 798}
	g722RH2  = [4]int{2, 1, 2, 1}
	g722QM2  = [4]int{-7408, -1616, 7408, 1616}
	g722QM4  = [16]int{
		0, -20456, -12896, -8968, -6288, -4240, -2584, -1200,
		20456, 12896, 8968, 6288, 4240, 2584, 1200, 0,
	}
	g722QM6 = [64]int{
		-136, -136, -136, -136, -24808, -21904, -19008, -16704,
		-14984, -13512, -12280, -11192, -10232, -9360, -8576, -7856,
		-7192, -6576, -6000, -5456, -4944, -4464, -4008, -3576,
		-3168, -2776, -2400, -2032, -1688, -1360, -1040, -728,
		24808, 21904, 19008, 16704, 14984, 13512, 12280, 11192,
		10232, 9360, 8576, 7856, 7192, 6576, 6000, 5456,
		4944, 4464, 4008, 3576, 3168, 2776, 2400, 2032,
		1688, 1360, 1040, 728, 432, 136, -432, -136,
	}
	g722QMFCoeffs = [12]int{3, -11, 12, 32, -210, 951, 3876, -805, 362, -156, 53, -11}
)

// Decode decodes one G.722 payload (one byte per 16 kHz sample pair).
func (d *g722Decoder) Decode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, errG722Payload
	}
	out := make([]byte, 0, len(payload)*4)

	for _, code := range payload {
		ilow := int(code) & 0x3F
		ihigh := (int(code) >> 6) & 0x03

		// Lower band: reconstruction uses the full 6-bit code, but the
		// predictor adapts on the 4-bit core quantity.
		wd2 := (d.band[0].det * g722QM6[ilow]) >> 15
		rlow := clamp14(d.band[0].s + wd2)
		dlowt := (d.band[0].det * g722QM4[ilow>>2]) >> 15
		block4(&d.band[0], dlowt)
		d.band[0].nb += g722WL[g722RL42[ilow>>2]]
		d.band[0].nb = clampRange(d.band[0].nb, 0, 18432)
		d.band[0].det = scaledDet(d.band[0].nb, 8)

		// Upper band: 2-bit inverse quantise + predictor update.
		wd2 = g722QM2[ihigh]
		dhigh := (d.band[1].det * wd2) >> 15
		rhigh := dhigh + d.band[1].s
		rhigh = clamp14(rhigh)
		block4(&d.band[1], dhigh)
		d.band[1].nb += g722WH[g722RH2[ihigh]]
		d.band[1].nb = clampRange(d.band[1].nb, 0, 22528)
		d.band[1].det = scaledDet(d.band[1].nb, 10)

		// QMF synthesis: two output samples per input byte.
		d.qmf[d.ptr] = rlow + rhigh
		d.qmf[d.ptr+1] = rlow - rhigh
		d.ptr += 2
		if d.ptr >= 24 {
			d.ptr = 0
		}

		var s1, s2 int
		for i, c := range g722QMFCoeffs {
			idx := d.ptr + i*2
			s1 += c * d.qmf[idx%24]
			s2 += c * d.qmf[(idx+1)%24]
		}
		out = appendSample(out, s1>>11)
		out = appendSample(out, s2>>11)
	}
	return out, nil
}

// block4 is the pole/zero adaptive predictor update shared by both bands.
func block4(b *g722Band, dx int) {
	b.d[0] = dx
	b.r[0] = clamp15(b.s + dx)

	b.p[0] = clamp15(b.sz + dx)

	// Pole section.
	for i := range 3 {
		b.sg[i] = b.p[i] >> 15
	}
	wd1 := clamp15(b.a[1] << 2)
	wd2 := -wd1
	if b.sg[0] == b.sg[1] {
		wd2 = wd1
	}
	if wd2 > 32767 {
		wd2 = 32767
	}
	wd3 := wd2 >> 7
	if b.sg[0] == b.sg[2] {
		wd3 += 128
	} else {
		wd3 -= 128
	}
	wd3 += (b.a[2] * 32512) >> 15
	wd3 = clampRange(wd3, -12288, 12288)
	b.ap[2] = wd3

	b.sg[0] = b.p[0] >> 15
	b.sg[1] = b.p[1] >> 15
	wd1 = 192
	if b.sg[0] != b.sg[1] {
		wd1 = -192
	}
	wd2 = (b.a[1] * 32640) >> 15
	b.ap[1] = clampRange(wd1+wd2, -(15360 - b.ap[2]), 15360-b.ap[2])

	// Zero section.
	for i := 1; i < 7; i++ {
		wd1 = 128
		if (b.d[0]>>15) != (b.d[i]>>15) || b.d[0] == 0 {
			wd1 = -128
		}
		if b.d[0] == 0 {
			wd1 = 0
		}
		b.bp[i] = clamp15(wd1 + ((b.b[i] * 32640) >> 15))
	}

	// Shift delay lines.
	for i := 6; i > 1; i-- {
		b.b[i] = b.bp[i]
		b.d[i] = b.d[i-1]
	}
	b.b[1] = b.bp[1]
	b.d[1] = b.d[0]
	for i := 2; i > 0; i-- {
		b.r[i] = b.r[i-1]
		b.p[i] = b.p[i-1]
		b.a[i] = b.ap[i]
	}

	// Predictor outputs.
	b.sz = 0
	for i := 6; i > 0; i-- {
		b.sz += (b.b[i] * b.d[i]) >> 14
	}
	b.sz = clamp15(b.sz)

	b.sp = clamp15(((b.a[1]*b.r[1])>>14) + ((b.a[2] * b.r[2]) >> 14))
	b.s = clamp15(b.sp + b.sz)
}

func scaledDet(nb, shift int) int {
	wd1 := (nb >> 6) & 31
	wd2 := nb >> 11
	wd3 := 0
	if shift-wd2 > 0 {
		wd3 = g722ILB[wd1] >> (shift - wd2)
	} else {
		wd3 = g722ILB[wd1] << (wd2 - shift)
	}
	return wd3 << 2
}

func clamp14(v int) int { return clampRange(v, -16384, 16383) }
func clamp15(v int) int { return clampRange(v, -32768, 32767) }

func clampRange(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func appendSample(out []byte, s int) []byte {
	s = clampRange(s, -32768, 32767)
	return append(out, byte(s), byte(s>>8))
}
