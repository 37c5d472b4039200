// Package category assigns category labels to prediction-market events.
package category

import (
	"regexp"
	"strings"

	"github.com/leeaandrob/cloracle/internal/models"
)

// rule maps a label to the keyword pattern that selects it.
type rule struct {
	label   string
	pattern *regexp.Regexp
}

// Rules are evaluated in order; the first match wins, so text mentioning both
// an election and bitcoin is Politics.
var rules = []rule{
	{models.CategoryPolitics, regexp.MustCompile(`trump|biden|election|president|congress|senate|democrat|republican|vote|governor|mayor|political|government|white house|scotus|supreme court|gop|dnc|primary|cabinet|impeach|legislation|bill signing|executive order|midterm|poll|approval rating`)},
	{models.CategoryCrypto, regexp.MustCompile(`bitcoin|btc|ethereum|eth|crypto|solana|sol|token|blockchain|defi|nft|binance|coinbase|altcoin|memecoin|doge|xrp|cardano|polygon|avalanche|arbitrum|optimism|uniswap|airdrop|halving|staking|web3|dao`)},
	{models.CategorySports, regexp.MustCompile(`nfl|nba|mlb|nhl|soccer|football|basketball|baseball|hockey|tennis|golf|ufc|mma|boxing|championship|playoff|super bowl|world cup|olympics|match|score|win|lose|league|premier|champions|finals|mvp|draft|trade|injury|coach|quarterback|touchdown|goal|point`)},
	{models.CategoryPopCulture, regexp.MustCompile(`movie|film|oscar|grammy|emmy|tony|celebrity|kardashian|music|album|concert|tv show|netflix|disney|marvel|dc|twitter|tiktok|instagram|youtube|influencer|viral|streaming|spotify|billboard|release|premiere|award show|red carpet|scandal|dating|breakup|wedding`)},
	{models.CategoryBusiness, regexp.MustCompile(`stock|market|company|ceo|ipo|earnings|revenue|merger|acquisition|startup|tech|apple|google|microsoft|amazon|tesla|nvidia|meta|ai company|layoff|hiring|profit|loss|share|investor|wall street|nasdaq|dow|s&p|fed|interest rate|inflation|gdp|recession|economy|trade war|tariff`)},
	{models.CategoryScience, regexp.MustCompile(`nasa|spacex|rocket|space|mars|moon|asteroid|climate|vaccine|virus|covid|pandemic|research|study|scientist|discovery|ai|artificial intelligence|quantum|physics|biology|chemistry|medical|fda|drug|trial|breakthrough|experiment|satellite|telescope|genome|crispr`)},
}

// feedCategories maps the feed's own category slugs to labels.
var feedCategories = map[string]string{
	"politics":      models.CategoryPolitics,
	"crypto":        models.CategoryCrypto,
	"sports":        models.CategorySports,
	"pop-culture":   models.CategoryPopCulture,
	"business":      models.CategoryBusiness,
	"science":       models.CategoryScience,
	"entertainment": models.CategoryEntertainment,
	"other":         models.CategoryOther,
}

var whitespace = regexp.MustCompile(`\s+`)

// Classify returns the label of the first rule matching title and description.
// Keywords match as substrings. Text matching no rule is Other.
func Classify(title, description string) string {
	text := strings.ToLower(title + " " + description)
	for _, r := range rules {
		if r.pattern.MatchString(text) {
			return r.label
		}
	}
	return models.CategoryOther
}

// Normalize maps a feed-supplied category to a label, falling back to
// Classify when the feed value is empty or unknown.
func Normalize(feedCategory, title, description string) string {
	slug := whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(feedCategory)), "-")
	if label, ok := feedCategories[slug]; ok {
		return label
	}
	return Classify(title, description)
}

// Labels returns every label Classify can produce, in rule order, ending
// with Other.
func Labels() []string {
	labels := make([]string, 0, len(rules)+1)
	for _, r := range rules {
		labels = append(labels, r.label)
	}
	return append(labels, models.CategoryOther)
}
