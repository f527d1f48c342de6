package model

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// CategoryFeatureNames lists the boolean packet-size features in the order
// they appear in FeatureVector.Categories.
var CategoryFeatureNames = [...]string{
	"16+8n", "20+8n", "24+8n", "28+8n", "32+8n", "40+8n", "44+8n", "72+8n", "76+8n",
	"24+16n", "28+16n", "32+16n", "36+16n", "40+16n", "48+16n", "52+16n", "80+16n", "84+16n",
}

// FeatureVector is the input of the MAC category classifier.
type FeatureVector struct {
	// UserauthSize is the size of the first authentication-layer packet.
	UserauthSize int
	// BS8 reports packet size differences that leak an 8 byte block size.
	BS8        bool
	Categories [len(CategoryFeatureNames)]bool
}

// FeatureNames returns the column names of Values.
func FeatureNames() []string {
	names := make([]string, 0, 2+len(CategoryFeatureNames))
	names = append(names, "ssh-userauth", "bs8")
	return append(names, CategoryFeatureNames[:]...)
}

// Values flattens the vector into numeric model inputs, booleans as 0/1.
func (v FeatureVector) Values() []float64 {
	out := make([]float64, 0, 2+len(v.Categories))
	out = append(out, float64(v.UserauthSize), boolToFloat(v.BS8))
	for _, c := range v.Categories {
		out = append(out, boolToFloat(c))
	}
	return out
}

// FeatureVectorFromValues is the inverse of Values.
func FeatureVectorFromValues(values []float64) (FeatureVector, error) {
	var v FeatureVector
	if len(values) != 2+len(v.Categories) {
		return v, fmt.Errorf("feature vector has %d values, want %d", len(values), 2+len(v.Categories))
	}
	v.UserauthSize = int(values[0])
	v.BS8 = values[1] != 0
	for i := range v.Categories {
		v.Categories[i] = values[2+i] != 0
	}
	return v, nil
}

// Key is a compact stable representation, usable as a cache key.
func (v FeatureVector) Key() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(v.UserauthSize))
	b.WriteByte(':')
	if v.BS8 {
		b.WriteByte('1')
	} else {
		b.WriteByte('0')
	}
	for _, c := range v.Categories {
		if c {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// MacClassifier predicts the cipher/MAC category label of every vector.
type MacClassifier interface {
	Predict(ctx context.Context, vectors []FeatureVector) ([]string, error)
}
