package game

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"github.com/jason-s-yu/skirmish/internal/models"
)

// Card stats are drawn uniformly from [minStat, maxStat].
const (
	minStat = 1
	maxStat = 5
)

// NewCards generates n cards with random ids and stats. The numbers carry no
// rules; effect resolution happens client side.
func NewCards(n int) []models.Card {
	cards := make([]models.Card, 0, n)
	for i := 0; i < n; i++ {
		cards = append(cards, models.Card{
			ID:      uuid.NewString(),
			Name:    fmt.Sprintf("Card %d", i+1),
			Cost:    randStat(),
			Attack:  randStat(),
			Defense: randStat(),
		})
	}
	return cards
}

func randStat() int {
	return minStat + rand.Intn(maxStat-minStat+1)
}
