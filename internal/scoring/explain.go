package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/couchcryptid/climate-witness/internal/domain"
)

func factor(name string, score, weight float64, detail string) domain.Factor {
	return domain.Factor{
		Name:         name,
		Score:        score,
		Weight:       weight,
		Contribution: score * weight,
		Detail:       detail,
	}
}

func weightedSum(factors []domain.Factor) float64 {
	var total float64
	for _, f := range factors {
		total += f.Contribution
	}
	return clamp01(total)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// explain renders a breakdown such as
// "authentic (score 0.857): metadata_integrity 1.00 x 0.35 = 0.350; ...".
func explain(verdict string, score float64, factors []domain.Factor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (score %.3f):", verdict, score)
	for i, f := range factors {
		if i > 0 {
			b.WriteByte(';')
		}
		fmt.Fprintf(&b, " %s %.2f x %.2f = %.3f", f.Name, f.Score, f.Weight, f.Contribution)
		if f.Detail != "" {
			fmt.Fprintf(&b, " (%s)", f.Detail)
		}
	}
	return b.String()
}
