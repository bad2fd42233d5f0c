// Package parser turns plain-text Vietnamese law documents into a
// lawtree.Tree. It is the reference implementation of the parsing
// collaborator: a line-oriented state machine that recognizes
// part/chapter/section/article headings and splits article bodies into
// numbered clauses.
package parser

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/vqhuy/lawrag-mcp/internal/lawtree"
)

var (
	partRe    = regexp.MustCompile(`^(?i)PHẦN THỨ [A-ZĐ0-9IVXLCDM]+`)
	chapterRe = regexp.MustCompile(`^(?i)CHƯƠNG [A-Z0-9IVXLCDM]+`)
	sectionRe = regexp.MustCompile(`^(?i)Mục \d+`)
	articleRe = regexp.MustCompile(`^(?i)Điều \d+\.`)
	clauseRe  = regexp.MustCompile(`(^|\s)(\d+)\.\s+`)
	titleRe   = regexp.MustCompile(`^(?i)(BỘ LUẬT|LUẬT|NGHỊ ĐỊNH|THÔNG TƯ)`)
)

// DefaultTitle is used when no title line is found near the top of the
// document.
const DefaultTitle = "Văn bản luật"

// Stats reports what the parser recognized, mirroring the counters the
// CLI prints after a parse.
type Stats struct {
	Lines    int
	Parts    int
	Chapters int
	Sections int
	Articles int
	Clauses  int
}

// Parser parses law text into the hierarchy model. The zero value is not
// usable; call New.
type Parser struct{}

// New returns a ready Parser.
func New() *Parser {
	return &Parser{}
}

// ParseFile reads the file at path and parses it. Only plain-text input is
// supported; converting PDF or DOCX sources is out of scope.
func (p *Parser) ParseFile(path string) (*lawtree.Tree, Stats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("failed to read document: %w", err)
	}
	return p.Parse(string(data))
}

// Parse parses law text. Articles are attached only when both an enclosing
// part and chapter have been seen; stray body lines outside any article are
// skipped. Returns an error when the text contains no recognizable article.
func (p *Parser) Parse(text string) (*lawtree.Tree, Stats, error) {
	tree := &lawtree.Tree{Title: extractTitle(text)}
	lines := strings.Split(text, "\n")

	var part, chapter, section *lawtree.Node
	var article string
	var body []string
	stats := Stats{Lines: len(lines)}

	flush := func() {
		if article == "" || len(body) == 0 {
			return
		}
		p.attachArticle(part, chapter, section, article, body, &stats)
		article = ""
		body = nil
	}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		switch {
		case partRe.MatchString(line):
			flush()
			part = &lawtree.Node{Title: line, Level: lawtree.LevelPart}
			tree.Parts = append(tree.Parts, part)
			chapter, section = nil, nil
			stats.Parts++

		case chapterRe.MatchString(line):
			flush()
			chapter = &lawtree.Node{Title: line, Level: lawtree.LevelChapter}
			if part != nil {
				part.AddChild(chapter)
			}
			section = nil
			stats.Chapters++

		case sectionRe.MatchString(line):
			flush()
			section = &lawtree.Node{Title: line, Level: lawtree.LevelSection}
			if chapter != nil {
				chapter.AddChild(section)
			}
			stats.Sections++

		case articleRe.MatchString(line):
			flush()
			article = line
			stats.Articles++

		default:
			if article != "" {
				body = append(body, line)
			}
		}
	}
	flush()

	if stats.Articles == 0 {
		return nil, stats, fmt.Errorf("no recognizable law structure (parts=%d chapters=%d)", stats.Parts, stats.Chapters)
	}
	return tree, stats, nil
}

// attachArticle builds the article node with its clause leaves and hangs it
// under the innermost open container. Articles need an enclosing part and
// chapter; the section tier is optional.
func (p *Parser) attachArticle(part, chapter, section *lawtree.Node, title string, body []string, stats *Stats) {
	if part == nil || chapter == nil {
		return
	}

	node := &lawtree.Node{Title: title, Level: lawtree.LevelArticle}
	for _, c := range SplitClauses(strings.Join(body, " ")) {
		node.AddChild(&lawtree.Node{Title: c.Title, Level: lawtree.LevelClause, Content: c.Content})
		stats.Clauses++
	}

	if section != nil {
		section.AddChild(node)
	} else {
		chapter.AddChild(node)
	}
}

// Clause is one numbered clause extracted from an article body.
type Clause struct {
	Title   string
	Content string
}

// SplitClauses splits an article body into numbered clauses ("1. ", "2. "
// markers). A body without numbered markers becomes a single "Khoản 1".
func SplitClauses(body string) []Clause {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}

	matches := clauseRe.FindAllStringSubmatchIndex(body, -1)
	if len(matches) == 0 {
		return []Clause{{Title: lawtree.MarkerClause + " 1", Content: body}}
	}

	var clauses []Clause
	for i, m := range matches {
		num := body[m[4]:m[5]]
		start := m[1]
		end := len(body)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		content := strings.TrimSpace(body[start:end])
		if content == "" {
			continue
		}
		clauses = append(clauses, Clause{
			Title:   fmt.Sprintf("%s %s", lawtree.MarkerClause, num),
			Content: content,
		})
	}
	if len(clauses) == 0 {
		return []Clause{{Title: lawtree.MarkerClause + " 1", Content: body}}
	}
	return clauses
}

func extractTitle(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) > 10 {
		lines = lines[:10]
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if titleRe.MatchString(line) {
			return line
		}
	}
	return DefaultTitle
}
