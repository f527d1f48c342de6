package features

import "SSHSpectra/internal/model"

// Indices into model.FeatureVector.Categories.
const (
	c16p8n = iota
	c20p8n
	c24p8n
	c28p8n
	c32p8n
	c40p8n
	c44p8n
	c72p8n
	c76p8n
	c24p16n
	c28p16n
	c32p16n
	c36p16n
	c40p16n
	c48p16n
	c52p16n
	c80p16n
	c84p16n
)

// etmOverhead is the unencrypted length field of an encrypt-then-MAC packet.
const etmOverhead = 4

// inCategory reports whether every size fits block size bs with a MAC of
// ms bytes and is at least minSize long.
func inCategory(bs, ms int, sizes []uint16, minSize int, etm bool) bool {
	extra := ms
	if etm {
		extra += etmOverhead
	}
	for _, s := range sizes {
		if (int(s)-extra)%bs != 0 || int(s) < minSize {
			return false
		}
	}
	return true
}

// MacFeatures builds the classifier input of a flow. Category flags are
// nested: a wider category is only tested once the narrower one holds.
func MacFeatures(f *Flow) model.FeatureVector {
	var v model.FeatureVector
	l := f.Lengths()
	start := f.AuthStart()

	if start > 0 && start < len(l)-1 {
		v.UserauthSize = int(l[start])
	}
	if start > 0 && start < len(l) {
		v.BS8 = leaksBlockSize8(l[start:])
	}

	c := &v.Categories
	sizes := l[f.Pckt16Index():]
	in := func(bs, ms, minSize int) bool { return inCategory(bs, ms, sizes, minSize, false) }
	inEtm := func(bs, ms, minSize int) bool { return inCategory(bs, ms, sizes, minSize, true) }

	if in(8, 8, 16) {
		c[c16p8n] = true
		if in(8, 16, 24) {
			c[c24p8n] = true
			if inEtm(8, 20, 32) {
				c[c32p8n] = true
				if in(8, 32, 40) {
					c[c40p8n] = true
					if in(8, 64, 72) {
						c[c72p8n] = true
						if in(16, 64, 80) {
							c[c80p16n] = true
						}
					}
					if inEtm(16, 20, 40) {
						c[c40p16n] = true
					}
					if in(16, 32, 48) {
						c[c48p16n] = true
					}
				}
				if in(16, 16, 32) {
					c[c32p16n] = true
				}
			}
			if in(16, 8, 24) {
				c[c24p16n] = true
			}
		}
	} else if in(8, 12, 20) {
		c[c20p8n] = true
		if in(8, 20, 28) {
			c[c28p8n] = true
			if inEtm(8, 32, 44) {
				c[c44p8n] = true
				if inEtm(8, 64, 76) {
					c[c76p8n] = true
					if inEtm(16, 64, 84) {
						c[c84p16n] = true
					}
				}
				if inEtm(16, 32, 52) {
					c[c52p16n] = true
				}
			}
			if in(16, 12, 28) {
				c[c28p16n] = true
			}
			if in(16, 20, 36) {
				c[c36p16n] = true
			}
		}
	}
	return v
}

// leaksBlockSize8 reports whether two distinct sizes differ by a multiple
// of 8 that is not a multiple of 16.
func leaksBlockSize8(sizes []uint16) bool {
	seen := make(map[uint16]struct{}, len(sizes))
	uniq := make([]int, 0, len(sizes))
	for _, s := range sizes {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		uniq = append(uniq, int(s))
	}
	for i := range uniq {
		for _, other := range uniq[i+1:] {
			d := uniq[i] - other
			if d%16 != 0 && d%8 == 0 {
				return true
			}
		}
	}
	return false
}

// MacFeatures builds the classifier input of every flow of the batch.
func (b *Batch) MacFeatures() []model.FeatureVector {
	out := make([]model.FeatureVector, len(b.Flows))
	for i, f := range b.Flows {
		out[i] = MacFeatures(f)
	}
	return out
}
