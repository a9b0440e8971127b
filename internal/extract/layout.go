package extract

import "strings"

// layout holds the anchor vocabulary of one retail style. Anchor matching
// is space-insensitive because OCR splits Korean labels unpredictably
// ("부 가 세" vs "부가세").
type layout struct {
	style string

	itemsHeader      []string // line marking the start of the item listing
	itemsTerminators []string // first line after the last item
	discountMarkers  []string // substrings identifying a discount line
	taxExemptMark    string   // item-line mark for tax-exempt products

	shopNameLabels  []string
	ownerLabels     []string
	addressLabels   []string
	taxProductLabel string
	taxAmountLabel  string
	taxExemptLabel  string
	totalLabels     []string
}

// homeplusLayout is the shipped ruleset. Other retail styles register their
// own vocabulary here.
var homeplusLayout = layout{
	style:            "homeplus",
	itemsHeader:      []string{"상품명"},
	itemsTerminators: []string{"과세물품", "합계"},
	discountMarkers:  []string{"할인", "쿠폰"},
	taxExemptMark:    "*",
	shopNameLabels:   []string{"점포명"},
	ownerLabels:      []string{"대표"},
	addressLabels:    []string{"주소"},
	taxProductLabel:  "과세물품",
	taxAmountLabel:   "부가세",
	taxExemptLabel:   "면세물품",
	totalLabels:      []string{"합계"},
}

var layouts = map[string]layout{
	"homeplus": homeplusLayout,
}

// layoutFor resolves the layout for a receipt style. Unknown or absent
// styles fall back to the homeplus ruleset; known reports whether the style
// was recognized.
func layoutFor(style string) (lay layout, known bool) {
	if lay, ok := layouts[style]; ok {
		return lay, true
	}
	return homeplusLayout, style == "" || style == "notProvided"
}

// squash removes all spaces, so anchor labels match regardless of how the
// OCR tokenized them.
func squash(s string) string {
	return strings.ReplaceAll(s, " ", "")
}

// containsAnchor reports whether the space-squashed line contains any of the
// given anchor labels.
func containsAnchor(lineText string, anchors []string) bool {
	squashed := squash(lineText)
	for _, a := range anchors {
		if strings.Contains(squashed, a) {
			return true
		}
	}
	return false
}
