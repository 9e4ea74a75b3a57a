package components

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/slack-go/slack"
)

// Upstream flows produce standard Markdown; Slack wants mrkdwn. The
// renderer rewrites links, bold and code fences in place and converts
// Markdown tables, which mrkdwn cannot express at all.
var (
	mdLinkRe    = regexp.MustCompile(`\[(.*?)\]\((https?://.*?)\)`)
	codeFenceRe = regexp.MustCompile("```[a-zA-Z0-9]+\r?\n")
	mdBoldRe    = regexp.MustCompile(`\*\*(.*?)\*\*`)
	mdTableRe   = regexp.MustCompile(`\|.*\|\r?\n\|[-:| ]+\|\r?\n(?:\|.*\|(?:\r?\n|$))+`)
	bareURLRe   = regexp.MustCompile(`https?://\S+`)
)

// smallTableLimit is the largest table rendered as rich section blocks.
// Bigger tables become a fixed-width code block; a wall of section blocks
// is unreadable past a handful of rows.
const smallTableLimit = 5

// Renderer converts Markdown text to Slack mrkdwn. trackerBase, when set,
// is an issue tracker browse URL used to link issue keys found in tables.
type Renderer struct {
	trackerBase string
}

func NewRenderer(trackerBase string) *Renderer {
	return &Renderer{trackerBase: strings.TrimRight(trackerBase, "/")}
}

// Convert rewrites text into mrkdwn. Small tables are lifted out of the
// text into section blocks, which the caller should attach to the
// outgoing message.
func (r *Renderer) Convert(text string) (string, []slack.Block) {
	text = mdLinkRe.ReplaceAllString(text, "<$2|$1>")
	text = codeFenceRe.ReplaceAllString(text, "```\n")
	text = mdBoldRe.ReplaceAllString(text, "*$1*")

	var blocks []slack.Block
	text = mdTableRe.ReplaceAllStringFunc(text, func(tbl string) string {
		headers, rows := parseTable(tbl)
		if len(headers) == 0 {
			return tbl
		}
		if len(rows) > smallTableLimit {
			return "```\n" + renderFixedWidth(headers, rows) + "```\n"
		}
		blocks = append(blocks, r.tableBlocks(headers, rows)...)
		return ""
	})
	return text, blocks
}

// parseTable splits a Markdown table into header cells and data rows. The
// separator row is discarded.
func parseTable(tbl string) ([]string, [][]string) {
	lines := strings.Split(strings.TrimRight(tbl, "\r\n"), "\n")
	var rows [][]string
	for _, line := range lines {
		line = strings.Trim(strings.TrimSpace(line), "|")
		if line == "" {
			continue
		}
		cells := strings.Split(line, "|")
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		rows = append(rows, cells)
	}
	if len(rows) < 2 {
		return nil, nil
	}
	return rows[0], rows[2:]
}

// tableBlocks renders data rows as mrkdwn section blocks, one per row.
// URLs are stripped from cells since mrkdwn tables render them as noise;
// when an issue key column is present and a tracker base is configured,
// the summary cell links back to the tracker.
func (r *Renderer) tableBlocks(headers []string, rows [][]string) []slack.Block {
	blocks := make([]slack.Block, 0, len(rows))
	for _, row := range rows {
		var lines []string
		var key string
		for i, cell := range row {
			if i >= len(headers) {
				break
			}
			cell = strings.TrimSpace(bareURLRe.ReplaceAllString(cell, ""))
			if cell == "" {
				continue
			}
			header := strings.ToLower(headers[i])
			switch {
			case i == 0:
				if strings.Contains(header, "key") {
					key = cell
				}
				lines = append(lines, "*"+cell+"*")
			case key != "" && r.trackerBase != "" && strings.Contains(header, "summary"):
				lines = append(lines, fmt.Sprintf("<%s/%s|*%s*>", r.trackerBase, key, cell))
			default:
				lines = append(lines, fmt.Sprintf("%s: %s", headers[i], cell))
			}
		}
		if len(lines) == 0 {
			continue
		}
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, strings.Join(lines, "\n"), false, false),
			nil, nil,
		))
	}
	return blocks
}

// renderFixedWidth lays the table out with padded columns and ASCII
// borders, suitable for a code block.
func renderFixedWidth(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var b strings.Builder
	border := func() {
		for _, w := range widths {
			b.WriteString("+")
			b.WriteString(strings.Repeat("-", w+2))
		}
		b.WriteString("+\n")
	}
	writeRow := func(cells []string) {
		for i, w := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			fmt.Fprintf(&b, "| %-*s ", w, cell)
		}
		b.WriteString("|\n")
	}

	border()
	writeRow(headers)
	border()
	for _, row := range rows {
		writeRow(row)
	}
	border()
	return b.String()
}
