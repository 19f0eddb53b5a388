package news

import (
	"github.com/jonreiter/govader"
	"github.com/paaavkata/crypto-ingest-core/shared/pkg/utils"
)

// Scorer maps text to a sentiment score in [-1, 1].
type Scorer interface {
	Score(text string) float64
}

type VaderScorer struct {
	analyzer *govader.SentimentIntensityAnalyzer
}

func NewVaderScorer() *VaderScorer {
	return &VaderScorer{analyzer: govader.NewSentimentIntensityAnalyzer()}
}

// Score returns the VADER compound score.
func (v *VaderScorer) Score(text string) float64 {
	return utils.CapValue(v.analyzer.PolarityScores(text).Compound, 1)
}
