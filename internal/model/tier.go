package model

// Уровень сложности бейджа и размер бонуса за него
type Tier struct {
	Title      string
	Difficulty string
	Bonus      int64 // в центах
}

const (
	BadgeTitleGreen  = "Green"
	BadgeTitleCyan   = "Cyan"
	BadgeTitleBlue   = "Blue"
	BadgeTitlePurple = "Purple"
	BadgeTitleRed    = "Red"
)

var tiers = []Tier{
	{Title: BadgeTitleGreen, Difficulty: "Beginner", Bonus: 2500},
	{Title: BadgeTitleCyan, Difficulty: "Easy", Bonus: 5000},
	{Title: BadgeTitleBlue, Difficulty: "Medium", Bonus: 7500},
	{Title: BadgeTitlePurple, Difficulty: "Hard", Bonus: 10000},
	{Title: BadgeTitleRed, Difficulty: "Expert", Bonus: 15000},
}

// Tiers возвращает копию справочника уровней, от простого к сложному
func Tiers() []Tier {
	out := make([]Tier, len(tiers))
	copy(out, tiers)
	return out
}

func TierOf(title string) (Tier, bool) {
	for _, t := range tiers {
		if t.Title == title {
			return t, true
		}
	}
	return Tier{}, false
}
