// Package models defines the core data structures for Cloracle.
package models

// Category labels assigned to events.
const (
	CategoryPolitics      = "Politics"
	CategoryCrypto        = "Crypto"
	CategorySports        = "Sports"
	CategoryPopCulture    = "Pop Culture"
	CategoryBusiness      = "Business"
	CategoryScience       = "Science"
	CategoryEntertainment = "Entertainment"
	CategoryOther         = "Other"
)

// Category describes a category label for listing in the client.
type Category struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	Order       int    `json:"order"`
}

// DefaultCategories is the closed set of labels an event can carry.
var DefaultCategories = []Category{
	{Name: CategoryPolitics, Slug: "politics", Description: "Elections, legislation, political events worldwide", Order: 1},
	{Name: CategoryCrypto, Slug: "crypto", Description: "Cryptocurrency prices, regulations, and blockchain events", Order: 2},
	{Name: CategorySports, Slug: "sports", Description: "Sports matches, tournaments, and athletic achievements", Order: 3},
	{Name: CategoryPopCulture, Slug: "pop-culture", Description: "Entertainment, celebrities, and cultural phenomena", Order: 4},
	{Name: CategoryBusiness, Slug: "business", Description: "Markets, companies, and economic indicators", Order: 5},
	{Name: CategoryScience, Slug: "science", Description: "Scientific discoveries, space exploration, and technology", Order: 6},
	{Name: CategoryEntertainment, Slug: "entertainment", Description: "Movies, TV shows, music, and media", Order: 7},
	{Name: CategoryOther, Slug: "other", Description: "Miscellaneous prediction markets", Order: 8},
}

// IsKnownCategory reports whether name is one of DefaultCategories.
func IsKnownCategory(name string) bool {
	for _, c := range DefaultCategories {
		if c.Name == name {
			return true
		}
	}
	return false
}
