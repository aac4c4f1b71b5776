// Copyright 2024-2026 Aiku AI

package rcfmt

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	mmCodeBlockRe = regexp.MustCompile("(?s)```.*?```")
	mmCodeRe      = regexp.MustCompile("`[^`\n]+`")
	mmBoldRe      = regexp.MustCompile(`\*\*(.+?)\*\*|__(.+?)__`)
	mmItalicRe    = regexp.MustCompile(`\*([^*\n]+?)\*`)
	mmStrikeRe    = regexp.MustCompile(`~~(.+?)~~`)
	mmHeadingRe   = regexp.MustCompile(`(?m)^#{1,6}\s+(.+?)\s*#*$`)
	mmStarListRe  = regexp.MustCompile(`(?m)^(\s*)[*+]\s+`)
	mmLinkRe      = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
)

// boldMark stands in for converted bold delimiters while single-star italics
// are rewritten.
const boldMark = "\x01"

// FromMattermost converts Mattermost markdown to Rocket.Chat markdown. Code
// spans and blocks are left untouched.
func FromMattermost(text string) string {
	if text == "" {
		return ""
	}

	var code []string
	protect := func(match string) string {
		code = append(code, match)
		return "\x00" + strconv.Itoa(len(code)-1) + "\x00"
	}
	text = mmCodeBlockRe.ReplaceAllStringFunc(text, protect)
	text = mmCodeRe.ReplaceAllStringFunc(text, protect)

	text = mmStarListRe.ReplaceAllString(text, "$1- ")
	text = mmHeadingRe.ReplaceAllString(text, boldMark+"$1"+boldMark)
	text = mmBoldRe.ReplaceAllString(text, boldMark+"$1$2"+boldMark)
	text = mmItalicRe.ReplaceAllString(text, "_${1}_")
	text = strings.ReplaceAll(text, boldMark, "*")
	text = mmStrikeRe.ReplaceAllString(text, "~$1~")

	// Only allow safe URL schemes.
	text = mmLinkRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := mmLinkRe.FindStringSubmatch(match)
		label, href := parts[1], parts[2]
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "mailto:") {
			return match
		}
		return label
	})

	for i, c := range code {
		text = strings.Replace(text, "\x00"+strconv.Itoa(i)+"\x00", c, 1)
	}
	return text
}
