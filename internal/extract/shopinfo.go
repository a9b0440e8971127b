package extract

import (
	"regexp"
	"strings"

	"github.com/receipto/receipto/internal/annotation"
	"github.com/receipto/receipto/internal/receipt"
)

var (
	telPattern     = regexp.MustCompile(`0\d{1,2}-\d{3,4}-\d{4}`)
	bizNoPattern   = regexp.MustCompile(`\d{3}-\d{2}-\d{5}`)
	addressPattern = regexp.MustCompile(`[가-힣]+(?:시|도)\s?[가-힣]+(?:시|군|구)?.*(?:로|길|동|읍|면)`)
)

// extractShopInfo reads the shop identity fields: name, phone, address,
// owner, and business registration number. Each field is independently
// optional; only name and phone gate the section permit.
func extractShopInfo(n annotation.Normalized, lay layout) (receipt.ShopFields, bool, []receipt.Failure) {
	fields := receipt.ShopFields{}
	failures := []receipt.Failure{}

	if m := telPattern.FindString(n.Text); m != "" {
		fields.Tel = &m
	}
	if m := bizNoPattern.FindString(n.Text); m != "" {
		fields.BusinessNumber = &m
	}

	for _, line := range n.Lines {
		text := line.Text()

		if fields.Name == nil {
			if name := valueAfterLabel(text, lay.shopNameLabels); name != "" {
				fields.Name = &name
			}
		}
		if fields.Owner == nil {
			if owner := ownerFromLine(text, lay.ownerLabels); owner != "" {
				fields.Owner = &owner
			}
		}
		if fields.Address == nil {
			if addr := valueAfterLabel(text, lay.addressLabels); addr != "" {
				fields.Address = &addr
			} else if m := addressPattern.FindString(text); m != "" {
				fields.Address = &m
			}
		}
	}

	// Fallback: stores print the branch name next to the phone number.
	if fields.Name == nil && fields.Tel != nil {
		for _, line := range n.Lines {
			text := line.Text()
			if !strings.Contains(text, *fields.Tel) {
				continue
			}
			for _, tok := range line.Tokens {
				word := strings.TrimSpace(tok.Text)
				if strings.HasSuffix(word, "점") {
					fields.Name = &word
					break
				}
			}
			break
		}
	}

	permit := fields.Name != nil && fields.Tel != nil
	if !permit {
		failures = append(failures, receipt.Failure{
			Section:     SectionShopInfo,
			Description: "shop name or phone number not found",
		})
	}
	return fields, permit, failures
}

// valueAfterLabel returns the trimmed text following the first matching
// label in the line, or "".
func valueAfterLabel(lineText string, labels []string) string {
	for _, label := range labels {
		idx := strings.Index(lineText, label)
		if idx == -1 {
			continue
		}
		rest := lineText[idx+len(label):]
		rest = strings.TrimLeft(rest, " :：")
		if rest != "" {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

// ownerFromLine pulls the representative's name from a line carrying the
// owner label, skipping the business number that shares the line.
func ownerFromLine(lineText string, labels []string) string {
	value := valueAfterLabel(lineText, labels)
	if value == "" {
		return ""
	}
	for _, word := range strings.Fields(value) {
		if bizNoPattern.MatchString(word) || telPattern.MatchString(word) {
			continue
		}
		return word
	}
	return ""
}
